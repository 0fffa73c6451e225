package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀，例如 LICENSE_ADMIN_SECRET
const EnvPrefix = "LICENSE"

// DefaultAllowedCountries 未指定国家列表时的内置默认值
var DefaultAllowedCountries = []string{"The Netherlands", "Greece", "portugal"}

type Config struct {
	Server   ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	Redis    RedisConfig     `yaml:"redis" envconfig:"REDIS"`
	Admin    AdminConfig     `yaml:"admin" envconfig:"ADMIN"`
	License  LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Security SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Log      LogConfig       `yaml:"log" envconfig:"LOG"`
	Webhooks []WebhookConfig `yaml:"webhooks" ignored:"true"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	Mode            string        `yaml:"mode" envconfig:"MODE"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	StaticDir       string        `yaml:"static_dir" envconfig:"STATIC_DIR"` // 管理页面静态目录（可选）
}

// Addr 监听地址
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver       string        `yaml:"driver" envconfig:"DRIVER"` // mysql / postgres / memory
	DSN          string        `yaml:"dsn" envconfig:"DSN"`       // 设置后优先于下面的分项配置
	Host         string        `yaml:"host" envconfig:"HOST"`
	Port         int           `yaml:"port" envconfig:"PORT"`
	Username     string        `yaml:"username" envconfig:"USERNAME"`
	Password     string        `yaml:"password" envconfig:"PASSWORD"`
	Database     string        `yaml:"database" envconfig:"NAME"`
	Charset      string        `yaml:"charset" envconfig:"CHARSET"`
	MaxIdleConns int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	MaxOpenConns int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	QueryTimeout time.Duration `yaml:"query_timeout" envconfig:"QUERY_TIMEOUT"` // 单次存储操作超时
}

// ConnString 返回驱动对应的连接串
func (d *DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			d.Host, d.Port, d.Username, d.Password, d.Database)
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=UTC",
			d.Username, d.Password, d.Host, d.Port, d.Database, d.Charset)
	}
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" envconfig:"ENABLED"`
	URL      string `yaml:"url" envconfig:"URL"` // redis://... 设置后优先
	Host     string `yaml:"host" envconfig:"HOST"`
	Port     int    `yaml:"port" envconfig:"PORT"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB"`
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type AdminConfig struct {
	Header      string `yaml:"header" envconfig:"HEADER"`
	Secret      string `yaml:"secret" envconfig:"SECRET"`
	SecretHash  string `yaml:"secret_hash" envconfig:"SECRET_HASH"` // bcrypt 哈希，设置后优先于明文
	MaxFailures int    `yaml:"max_failures" envconfig:"MAX_FAILURES"`
	LockMinutes int    `yaml:"lock_minutes" envconfig:"LOCK_MINUTES"`
}

type LicenseConfig struct {
	DefaultCountries  []string `yaml:"default_countries" envconfig:"DEFAULT_COUNTRIES"`
	DefaultMaxDevices int      `yaml:"default_max_devices" envconfig:"DEFAULT_MAX_DEVICES"`
	MaxCodeAttempts   int      `yaml:"max_code_attempts" envconfig:"MAX_CODE_ATTEMPTS"`
	TokenSecret       string   `yaml:"token_secret" envconfig:"TOKEN_SECRET"`
	TokenTTLHours     int      `yaml:"token_ttl_hours" envconfig:"TOKEN_TTL_HOURS"`
	RequireCheckToken bool     `yaml:"require_check_token" envconfig:"REQUIRE_CHECK_TOKEN"`
}

type SecurityConfig struct {
	EnableSecurityHeaders bool     `yaml:"enable_security_headers" envconfig:"ENABLE_SECURITY_HEADERS"`
	AllowedOrigins        []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`

	// 每分钟请求数
	APIRateLimit    int `yaml:"api_rate_limit" envconfig:"API_RATE_LIMIT"`
	ClientRateLimit int `yaml:"client_rate_limit" envconfig:"CLIENT_RATE_LIMIT"`
	AdminRateLimit  int `yaml:"admin_rate_limit" envconfig:"ADMIN_RATE_LIMIT"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"` // json / text
}

// WebhookConfig 事件推送目标
type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"` // 为空表示全部事件
}

// Load 读取配置文件，再用环境变量覆盖
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("解析配置文件失败: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			slog.Warn("配置文件不存在，仅使用环境变量", "path", path)
		default:
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("读取环境变量失败: %w", err)
	}

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "mysql"
	}
	if cfg.Database.Charset == "" {
		cfg.Database.Charset = "utf8mb4"
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 50
	}
	if cfg.Database.QueryTimeout == 0 {
		cfg.Database.QueryTimeout = 5 * time.Second
	}

	if cfg.Admin.Header == "" {
		cfg.Admin.Header = "X-Admin-Secret"
	}
	if cfg.Admin.MaxFailures == 0 {
		cfg.Admin.MaxFailures = 10
	}
	if cfg.Admin.LockMinutes == 0 {
		cfg.Admin.LockMinutes = 15
	}

	if len(cfg.License.DefaultCountries) == 0 {
		cfg.License.DefaultCountries = append([]string(nil), DefaultAllowedCountries...)
	}
	if cfg.License.DefaultMaxDevices <= 0 {
		cfg.License.DefaultMaxDevices = 1
	}
	if cfg.License.MaxCodeAttempts <= 0 {
		cfg.License.MaxCodeAttempts = 10
	}
	if cfg.License.TokenTTLHours <= 0 {
		cfg.License.TokenTTLHours = 24 * 30
	}

	if cfg.Security.APIRateLimit == 0 {
		cfg.Security.APIRateLimit = 100
	}
	if cfg.Security.ClientRateLimit == 0 {
		cfg.Security.ClientRateLimit = 30
	}
	if cfg.Security.AdminRateLimit == 0 {
		cfg.Security.AdminRateLimit = 60
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// validate 校验配置，生产环境下拒绝不安全的密钥
func validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case "mysql", "postgres", "memory":
	default:
		return fmt.Errorf("不支持的数据库驱动: %s", cfg.Database.Driver)
	}

	if cfg.Admin.Secret == "" && cfg.Admin.SecretHash == "" {
		if cfg.Server.Mode == "release" {
			return fmt.Errorf("生产环境必须设置管理员密钥")
		}
		cfg.Admin.Secret = generateRandomSecret(16)
		slog.Warn("未配置管理员密钥，已自动生成", "secret", cfg.Admin.Secret)
	}
	if cfg.Admin.SecretHash == "" && len(cfg.Admin.Secret) < 16 {
		if cfg.Server.Mode == "release" {
			return fmt.Errorf("管理员密钥长度至少需要 16 个字符")
		}
		slog.Warn("管理员密钥长度建议至少 16 个字符")
	}

	if cfg.License.TokenSecret == "" {
		if cfg.Server.Mode == "release" && cfg.License.RequireCheckToken {
			return fmt.Errorf("启用校验令牌时必须设置 token_secret")
		}
		// 未配置时每次启动随机生成，重启后旧令牌失效
		cfg.License.TokenSecret = generateRandomSecret(32)
	}

	return nil
}

// generateRandomSecret 生成随机密钥
func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
