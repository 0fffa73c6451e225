package license

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"license-server/internal/pkg/crypto"
)

// ErrCacheIntegrity 缓存无法解密，可能被篡改或来自其他设备
var ErrCacheIntegrity = errors.New("license: cache integrity check failed")

const cacheFile = "license.enc"

func (c *Client) cachePath() string {
	return filepath.Join(c.cacheDir, cacheFile)
}

// cacheKey 由设备指纹派生，换设备后旧缓存无法解密
func (c *Client) cacheKey() ([]byte, error) {
	return crypto.DeriveKey([]byte(c.fingerprint), crypto.SHA256HashString(c.fingerprint+c.serverURL), "license_cache_v1")
}

func (c *Client) saveCache(st *State) error {
	if c.cacheDir == "" {
		return nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	key, err := c.cacheKey()
	if err != nil {
		return err
	}
	sealed, err := crypto.EncryptAESGCM(data, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.cacheDir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(c.cachePath(), sealed, 0o600)
}

func (c *Client) loadCache() (*State, error) {
	if c.cacheDir == "" {
		return nil, os.ErrNotExist
	}
	sealed, err := os.ReadFile(c.cachePath())
	if err != nil {
		return nil, err
	}
	key, err := c.cacheKey()
	if err != nil {
		return nil, err
	}
	data, err := crypto.DecryptAESGCM(sealed, key)
	if err != nil {
		return nil, ErrCacheIntegrity
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, ErrCacheIntegrity
	}
	if st.Fingerprint != c.fingerprint {
		return nil, ErrCacheIntegrity
	}
	return &st, nil
}

func (c *Client) removeCache() {
	if c.cacheDir == "" {
		return
	}
	_ = os.Remove(c.cachePath())
}
