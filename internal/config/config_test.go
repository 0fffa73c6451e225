package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Database.QueryTimeout)
	assert.Equal(t, "X-Admin-Secret", cfg.Admin.Header)
	assert.Equal(t, DefaultAllowedCountries, cfg.License.DefaultCountries)
	assert.Equal(t, 1, cfg.License.DefaultMaxDevices)
	assert.Equal(t, 10, cfg.License.MaxCodeAttempts)
	assert.NotEmpty(t, cfg.Admin.Secret, "generated in debug mode")
	assert.NotEmpty(t, cfg.License.TokenSecret)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
  mode: release
database:
  driver: postgres
  host: db
  port: 5432
  username: app
  password: pw
  database: licenses
admin:
  secret: from-file-0123456789
license:
  default_countries: ["Greece"]
  token_secret: token
webhooks:
  - url: http://hooks.local/x
    secret: s
    events: [license.created]
`)
	t.Setenv("LICENSE_SERVER_PORT", "9090")
	t.Setenv("LICENSE_ADMIN_SECRET", "from-env-0123456789")
	t.Setenv("LICENSE_DATABASE_QUERY_TIMEOUT", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, ":9090", cfg.Server.Addr())
	assert.Equal(t, "from-env-0123456789", cfg.Admin.Secret)
	assert.Equal(t, 2*time.Second, cfg.Database.QueryTimeout)
	assert.Equal(t, []string{"Greece"}, cfg.License.DefaultCountries)
	assert.Equal(t, "host=db port=5432 user=app password=pw dbname=licenses sslmode=disable TimeZone=UTC", cfg.Database.ConnString())
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"license.created"}, cfg.Webhooks[0].Events)
}

func TestReleaseModeRequiresAdminSecret(t *testing.T) {
	path := writeConfig(t, "server:\n  mode: release\n")
	_, err := Load(path)
	assert.Error(t, err)

	path = writeConfig(t, "server:\n  mode: release\nadmin:\n  secret: short\n")
	_, err = Load(path)
	assert.Error(t, err)

	path = writeConfig(t, "server:\n  mode: release\nadmin:\n  secret_hash: $2a$10$abcdefghijklmnopqrstuv\n")
	_, err = Load(path)
	assert.NoError(t, err)
}

func TestRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: sqlite\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestMySQLConnString(t *testing.T) {
	d := DatabaseConfig{Driver: "mysql", Host: "h", Port: 3306, Username: "u", Password: "p", Database: "db", Charset: "utf8mb4"}
	assert.Equal(t, "u:p@tcp(h:3306)/db?charset=utf8mb4&parseTime=True&loc=UTC", d.ConnString())

	d.DSN = "custom"
	assert.Equal(t, "custom", d.ConnString())
}
