package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceTokenRoundTrip(t *testing.T) {
	now := time.Now()
	token, err := GenerateDeviceToken("lic-1", "fp-1", "secret", time.Hour, now)
	require.NoError(t, err)

	claims, err := ParseDeviceToken(token, "secret", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "lic-1", claims.LicenseID)
	assert.Equal(t, "fp-1", claims.Fingerprint)

	_, err = ParseDeviceToken(token, "other", time.Now())
	assert.Error(t, err)
}

func TestDeviceTokenExpired(t *testing.T) {
	token, err := GenerateDeviceToken("lic-1", "fp-1", "secret", time.Hour, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	_, err = ParseDeviceToken(token, "secret", time.Now())
	assert.Error(t, err)
}

func TestCheckSecret(t *testing.T) {
	hashed, err := HashSecret("a-very-long-admin-secret")
	require.NoError(t, err)

	assert.True(t, CheckSecret("a-very-long-admin-secret", "", hashed))
	assert.False(t, CheckSecret("wrong", "", hashed))
	assert.True(t, CheckSecret("plain-secret", "plain-secret", ""))
	assert.False(t, CheckSecret("plain-secre", "plain-secret", ""))
	assert.False(t, CheckSecret("", "", ""))
	assert.False(t, CheckSecret("x", "", ""))
}

func TestAESGCMWithDerivedKey(t *testing.T) {
	key, err := DeriveKey([]byte("device-fp"), "salt", "cache")
	require.NoError(t, err)
	require.Len(t, key, 32)

	sealed, err := EncryptAESGCM([]byte("payload"), key)
	require.NoError(t, err)

	plain, err := DecryptAESGCM(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(plain))

	other, err := DeriveKey([]byte("other-fp"), "salt", "cache")
	require.NoError(t, err)
	_, err = DecryptAESGCM(sealed, other)
	assert.Error(t, err)

	_, err = DecryptAESGCM([]byte("short"), key)
	assert.Error(t, err)
}
