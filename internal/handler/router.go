package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"license-server/internal/config"
	"license-server/internal/metrics"
	"license-server/internal/middleware"
	"license-server/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Dependencies 路由依赖，由 main 构造后注入
type Dependencies struct {
	Config   *config.Config
	Licenses *service.LicenseService
	Audit    *middleware.Auditor
	Metrics  metrics.Recorder
	Gatherer prometheus.Gatherer // 为 nil 时不暴露 /metrics
	Logger   *slog.Logger

	// 为 nil 的限流器不启用
	APILimiter    middleware.Limiter
	ClientLimiter middleware.Limiter
	AdminLimiter  middleware.Limiter
	AdminLockout  *service.LoginLimiter

	// Ping 健康检查时探测存储
	Ping func(ctx context.Context) error
}

// SetupRouter 设置路由
func SetupRouter(r *gin.Engine, deps Dependencies) {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := deps.Metrics
	if rec == nil {
		rec = metrics.Noop{}
	}

	// 全局中间件
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.CORSMiddleware(cfg.Security.AllowedOrigins, cfg.Admin.Header))
	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(middleware.MetricsMiddleware(rec))
	r.Use(gin.Recovery())

	// 安全响应头
	if cfg.Security.EnableSecurityHeaders {
		r.Use(middleware.SecurityHeadersMiddleware())
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		if deps.Ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ping(ctx); err != nil {
				logger.Warn("健康检查失败", "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "license-server"})
	})

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(deps.Gatherer)))
	}

	if cfg.Server.StaticDir != "" {
		r.Static("/static", cfg.Server.StaticDir)
	}

	clientHandler := NewClientHandler(deps.Licenses, logger)
	licenseHandler := NewLicenseHandler(deps.Licenses, logger)
	statsHandler := NewStatisticsHandler(deps.Licenses, logger)

	api := r.Group("/api")
	if deps.APILimiter != nil {
		api.Use(middleware.RateLimitMiddleware(deps.APILimiter, logger))
	}

	// ==================== 客户端接口 ====================
	client := api.Group("")
	if deps.ClientLimiter != nil {
		client.Use(middleware.RateLimitMiddleware(deps.ClientLimiter, logger))
	}
	{
		client.POST("/activate", clientHandler.Activate)
		client.POST("/check", clientHandler.Check)
		client.POST("/validate", clientHandler.Validate)
	}

	// ==================== 管理接口 ====================
	admin := api.Group("/admin")
	if deps.AdminLimiter != nil {
		admin.Use(middleware.RateLimitMiddleware(deps.AdminLimiter, logger))
	}
	admin.Use(middleware.AdminAuthMiddleware(middleware.AdminAuthConfig{
		Header:     cfg.Admin.Header,
		Secret:     cfg.Admin.Secret,
		SecretHash: cfg.Admin.SecretHash,
		Limiter:    deps.AdminLockout,
		Logger:     logger,
	}))
	if deps.Audit != nil {
		admin.Use(deps.Audit.Middleware())
	}
	{
		admin.GET("/stats", statsHandler.Dashboard)

		licenses := admin.Group("/licenses")
		{
			licenses.POST("", licenseHandler.Create)
			licenses.GET("", licenseHandler.List)
			licenses.GET("/:id", licenseHandler.Get)
			licenses.PUT("/:id", licenseHandler.Update)
			licenses.DELETE("/:id", licenseHandler.Delete)
			licenses.POST("/:id/revoke", licenseHandler.Revoke)
			licenses.POST("/:id/unrevoke", licenseHandler.Unrevoke)
			licenses.POST("/:id/devices/block", licenseHandler.BlockDevice)
		}
	}
}
