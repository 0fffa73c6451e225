package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"license-server/internal/config"
	"license-server/internal/handler"
	"license-server/internal/metrics"
	"license-server/internal/middleware"
	"license-server/internal/model"
	"license-server/internal/service"
	"license-server/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	migrate := flag.Bool("migrate", false, "仅执行数据库迁移后退出")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("加载配置失败", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger, *migrate); err != nil {
		logger.Error("服务退出", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger, migrateOnly bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 存储
	var (
		licenseStore store.Store
		auditStore   store.AuditStore
		ping         func(context.Context) error
	)
	if cfg.Database.Driver == "memory" {
		logger.Warn("使用内存存储，重启后数据丢失")
		licenseStore = store.NewMemoryStore(cfg.Database.QueryTimeout)
		auditStore = store.NewMemoryAuditStore()
	} else {
		db, err := model.Open(ctx, &cfg.Database, cfg.Server.Mode == "debug")
		if err != nil {
			return err
		}
		logger.Info("数据库连接成功", "driver", cfg.Database.Driver)

		// 确保表结构是最新的
		if err := model.AutoMigrate(db); err != nil {
			return err
		}
		if migrateOnly {
			logger.Info("数据库迁移完成")
			return nil
		}

		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		licenseStore = store.NewGormStore(db, cfg.Database.QueryTimeout)
		auditStore = store.NewGormAuditStore(db)
		ping = sqlDB.PingContext
	}
	if migrateOnly {
		return nil
	}

	// 指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewProm("license", registry)

	webhooks := service.NewWebhookService(cfg.Webhooks, 10*time.Second, logger)
	defer webhooks.Wait()

	licenses := service.NewLicenseService(licenseStore, service.Options{
		DefaultCountries:  cfg.License.DefaultCountries,
		DefaultMaxDevices: cfg.License.DefaultMaxDevices,
		MaxCodeAttempts:   cfg.License.MaxCodeAttempts,
		TokenSecret:       cfg.License.TokenSecret,
		TokenTTL:          time.Duration(cfg.License.TokenTTLHours) * time.Hour,
		RequireCheckToken: cfg.License.RequireCheckToken,
		Notifier:          webhooks,
		Metrics:           recorder,
		Logger:            logger,
	})

	lockout := service.NewLoginLimiter(cfg.Admin.MaxFailures, time.Duration(cfg.Admin.LockMinutes)*time.Minute, time.Hour)
	go lockout.Run(ctx, 5*time.Minute)

	auditor := middleware.NewAuditor(auditStore, logger)
	defer auditor.Wait()

	deps := handler.Dependencies{
		Config:       cfg,
		Licenses:     licenses,
		Audit:        auditor,
		Metrics:      recorder,
		Gatherer:     registry,
		Logger:       logger,
		AdminLockout: lockout,
		Ping:         ping,
	}

	// 速率限制器：启用 Redis 时多实例共享计数
	rdb, err := newRedisClient(ctx, &cfg.Redis)
	switch {
	case err != nil:
		logger.Warn("Redis 不可用，使用内存限流", "error", err)
		rdb = nil
	case rdb != nil:
		defer rdb.Close()
	}
	if rdb != nil {
		deps.APILimiter = middleware.NewRedisRateLimiter(rdb, "api", cfg.Security.APIRateLimit)
		deps.ClientLimiter = middleware.NewRedisRateLimiter(rdb, "client", cfg.Security.ClientRateLimit)
		deps.AdminLimiter = middleware.NewRedisRateLimiter(rdb, "admin", cfg.Security.AdminRateLimit)
	} else {
		for _, l := range []struct {
			dst       *middleware.Limiter
			perMinute int
		}{
			{&deps.APILimiter, cfg.Security.APIRateLimit},
			{&deps.ClientLimiter, cfg.Security.ClientRateLimit},
			{&deps.AdminLimiter, cfg.Security.AdminRateLimit},
		} {
			limiter := middleware.NewRateLimiter(l.perMinute)
			go limiter.Run(ctx)
			*l.dst = limiter
		}
	}

	// 创建 Gin 引擎
	r := gin.New()
	handler.SetupRouter(r, deps)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("服务器启动", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("正在关闭服务器")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, err
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
