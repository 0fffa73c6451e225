// Package license 授权服务的 Go 客户端
//
// 使用示例：
//
//	client := license.NewClient("https://license.example.com",
//	    license.WithCacheDir("./.license"),
//	)
//	state, err := client.Activate(ctx, "ABCD-EFGH-JKMN-PQRS")
//
//	// 之后定期复查
//	if _, err := client.Check(ctx); err != nil { ... }
//	if client.IsValid() { ... }
package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"license-server/internal/pkg/crypto"
)

// 服务端返回的错误码
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeInvalidCode     = "INVALID_CODE"
	CodeLicenseNotFound = "LICENSE_NOT_FOUND"
	CodeLicenseRevoked  = "LICENSE_REVOKED"
	CodeCodeExpired     = "CODE_EXPIRED"
	CodeCodeUsed        = "CODE_USED"
	CodeDeviceNotFound  = "DEVICE_NOT_FOUND"
	CodeDeviceBlocked   = "DEVICE_BLOCKED"
	CodeInvalidToken    = "INVALID_TOKEN"
	CodeTooManyRequests = "TOO_MANY_REQUESTS"
	CodeServerError     = "SERVER_ERROR"
)

// ErrNotActivated 尚未激活，无法复查
var ErrNotActivated = errors.New("license: device not activated")

// APIError 服务端拒绝
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("license: %s (HTTP %d)", e.Code, e.Status)
	}
	return fmt.Sprintf("license: %s (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// Permanent 授权本身不可用，重试无意义
func (e *APIError) Permanent() bool {
	switch e.Code {
	case CodeInvalidCode, CodeLicenseNotFound, CodeLicenseRevoked, CodeCodeExpired,
		CodeCodeUsed, CodeDeviceNotFound, CodeDeviceBlocked, CodeInvalidToken:
		return true
	}
	return false
}

// IsCode 判断 err 是否为指定错误码的 APIError
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// State 本地保存的激活状态
type State struct {
	LicenseID        string    `json:"licenseId"`
	Fingerprint      string    `json:"fingerprint"`
	Token            string    `json:"token,omitempty"`
	ExpiresAt        time.Time `json:"expiresAt"`
	DaysRemaining    int       `json:"daysRemaining"`
	AllowedCountries []string  `json:"allowedCountries"`
	LastVerifiedAt   time.Time `json:"lastVerifiedAt"`
}

// Client 授权客户端
type Client struct {
	serverURL        string
	fingerprint      string
	deviceInfo       map[string]any
	cacheDir         string
	offlineGraceDays int
	httpClient       *http.Client
	now              func() time.Time

	state *State
	mu    sync.RWMutex
}

// Option 客户端配置选项
type Option func(*Client)

// WithCacheDir 设置缓存目录，为空时不落盘
func WithCacheDir(dir string) Option {
	return func(c *Client) {
		c.cacheDir = dir
	}
}

// WithOfflineGraceDays 设置离线宽限期
func WithOfflineGraceDays(days int) Option {
	return func(c *Client) {
		c.offlineGraceDays = days
	}
}

// WithTimeout 设置请求超时
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient 使用自定义 http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithFingerprint 覆盖自动生成的设备指纹
func WithFingerprint(fp string) Option {
	return func(c *Client) {
		c.fingerprint = fp
	}
}

// WithDeviceInfo 激活时上报的设备信息
func WithDeviceInfo(info map[string]any) Option {
	return func(c *Client) {
		c.deviceInfo = info
	}
}

// NewClient 创建客户端。若缓存目录中有有效的状态文件则直接加载
func NewClient(serverURL string, opts ...Option) *Client {
	c := &Client{
		serverURL:        strings.TrimRight(serverURL, "/"),
		offlineGraceDays: 3,
		httpClient:       &http.Client{Timeout: 15 * time.Second},
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fingerprint == "" {
		c.fingerprint = MachineFingerprint()
	}
	if c.deviceInfo == nil {
		c.deviceInfo = defaultDeviceInfo()
	}
	if st, err := c.loadCache(); err == nil {
		c.state = st
	}
	return c
}

// Fingerprint 当前设备指纹
func (c *Client) Fingerprint() string {
	return c.fingerprint
}

// State 返回当前激活状态的副本，未激活时为 nil
func (c *Client) State() *State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == nil {
		return nil
	}
	st := *c.state
	st.AllowedCountries = append([]string(nil), c.state.AllowedCountries...)
	return &st
}

// IsValid 本地判断授权是否可用：未过期且在离线宽限期内复查过
func (c *Client) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == nil {
		return false
	}
	now := c.now()
	if !now.Before(c.state.ExpiresAt) {
		return false
	}
	grace := time.Duration(c.offlineGraceDays) * 24 * time.Hour
	return now.Sub(c.state.LastVerifiedAt) <= grace
}

type activateRequest struct {
	Code              string         `json:"code"`
	DeviceFingerprint string         `json:"deviceFingerprint"`
	DeviceInfo        map[string]any `json:"deviceInfo,omitempty"`
}

type checkRequest struct {
	LicenseID         string `json:"licenseId"`
	DeviceFingerprint string `json:"deviceFingerprint"`
	Token             string `json:"token,omitempty"`
}

type apiResponse struct {
	Success          bool      `json:"success"`
	Error            string    `json:"error"`
	Message          string    `json:"message"`
	LicenseID        string    `json:"licenseId"`
	Token            string    `json:"token"`
	ExpiresAt        time.Time `json:"expiresAt"`
	DaysRemaining    int       `json:"daysRemaining"`
	AllowedCountries []string  `json:"allowedCountries"`
}

// Activate 用授权码激活本设备
func (c *Client) Activate(ctx context.Context, code string) (*State, error) {
	resp, err := c.post(ctx, "/api/activate", activateRequest{
		Code:              strings.TrimSpace(code),
		DeviceFingerprint: c.fingerprint,
		DeviceInfo:        c.deviceInfo,
	})
	if err != nil {
		return nil, err
	}
	return c.apply(resp, "")
}

// Check 复查已激活的授权。授权被吊销、过期或设备被封禁时清除本地状态
func (c *Client) Check(ctx context.Context) (*State, error) {
	current := c.State()
	if current == nil {
		return nil, ErrNotActivated
	}
	resp, err := c.post(ctx, "/api/check", checkRequest{
		LicenseID:         current.LicenseID,
		DeviceFingerprint: c.fingerprint,
		Token:             current.Token,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Permanent() {
			c.Deactivate()
		}
		return nil, err
	}
	return c.apply(resp, current.Token)
}

// Deactivate 清除本地状态
func (c *Client) Deactivate() {
	c.mu.Lock()
	c.state = nil
	c.mu.Unlock()
	c.removeCache()
}

// StartHeartbeat 按 interval 定期复查，直到 ctx 结束。onError 可为 nil
func (c *Client) StartHeartbeat(ctx context.Context, interval time.Duration, onError func(error)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.Check(ctx); err != nil && onError != nil {
					onError(err)
				}
			}
		}
	}()
}

func (c *Client) apply(resp *apiResponse, previousToken string) (*State, error) {
	st := &State{
		LicenseID:        resp.LicenseID,
		Fingerprint:      c.fingerprint,
		Token:            resp.Token,
		ExpiresAt:        resp.ExpiresAt,
		DaysRemaining:    resp.DaysRemaining,
		AllowedCountries: resp.AllowedCountries,
		LastVerifiedAt:   c.now(),
	}
	if st.Token == "" {
		st.Token = previousToken
	}

	c.mu.Lock()
	c.state = st
	c.mu.Unlock()

	if err := c.saveCache(st); err != nil {
		return c.State(), fmt.Errorf("license: save cache: %w", err)
	}
	return c.State(), nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*apiResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("license: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("license: read response: %w", err)
	}

	var out apiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &APIError{Status: resp.StatusCode, Code: CodeServerError, Message: strings.TrimSpace(string(data))}
	}
	if resp.StatusCode != http.StatusOK || !out.Success {
		code := out.Error
		if code == "" {
			code = CodeServerError
		}
		return nil, &APIError{Status: resp.StatusCode, Code: code, Message: out.Message}
	}
	return &out, nil
}

// MachineFingerprint 根据主机名与平台生成稳定的设备指纹
func MachineFingerprint() string {
	hostname, _ := os.Hostname()
	return crypto.SHA256HashString(strings.Join([]string{hostname, runtime.GOOS, runtime.GOARCH}, "|"))
}

func defaultDeviceInfo() map[string]any {
	hostname, _ := os.Hostname()
	return map[string]any{
		"hostname": hostname,
		"os":       runtime.GOOS,
		"arch":     runtime.GOARCH,
	}
}
