package middleware

import (
	"fmt"
	"log/slog"

	"license-server/internal/pkg/crypto"
	"license-server/internal/pkg/response"
	"license-server/internal/service"

	"github.com/gin-gonic/gin"
)

// AdminAuthConfig 管理员密钥校验配置
type AdminAuthConfig struct {
	Header     string
	Secret     string
	SecretHash string // bcrypt
	Limiter    *service.LoginLimiter
	Logger     *slog.Logger
}

// AdminAuthMiddleware 校验共享密钥请求头，失败次数过多的 IP 会被暂时锁定
func AdminAuthMiddleware(cfg AdminAuthConfig) gin.HandlerFunc {
	header := cfg.Header
	if header == "" {
		header = "X-Admin-Secret"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		ip := c.ClientIP()

		if cfg.Limiter != nil {
			if locked, remaining := cfg.Limiter.IsLocked(ip); locked {
				response.TooManyRequests(c, fmt.Sprintf("验证失败次数过多，请 %d 分钟后再试", int(remaining.Minutes())+1))
				return
			}
		}

		if !crypto.CheckSecret(c.GetHeader(header), cfg.Secret, cfg.SecretHash) {
			if cfg.Limiter != nil {
				if locked, _ := cfg.Limiter.RecordFailure(ip); locked {
					logger.Warn("管理员密钥校验失败次数过多，已锁定", "ip", ip)
				}
			}
			response.Unauthorized(c, "管理员密钥无效")
			return
		}

		if cfg.Limiter != nil {
			cfg.Limiter.RecordSuccess(ip)
		}
		c.Next()
	}
}
