package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tokosamanda/backend/internal/cache"
	"tokosamanda/backend/internal/config"
	"tokosamanda/backend/internal/domain"
	"tokosamanda/backend/internal/httpapi"
	"tokosamanda/backend/internal/logging"
	"tokosamanda/backend/internal/observability"
	"tokosamanda/backend/internal/service"
	"tokosamanda/backend/internal/store"
	"tokosamanda/backend/internal/store/memory"
	pgstore "tokosamanda/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load configuration: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var ledger store.Ledger
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := openPostgres(ctx, cfg)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		ledger = pg
		closers = append(closers, pg.Close)
		logger.WithField("store", "postgres").Info("ledger store ready")
	} else {
		ledger = memory.NewSeeded(memory.WithLockTimeout(cfg.LedgerLockTimeout))
		logger.WithField("store", "memory").Info("ledger store ready")
	}

	reportCache := cache.StockReportCache(cache.NoopStockReportCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisStockReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, using noop stock report cache")
		} else {
			reportCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.WithField("cache", "redis").Info("stock report cache ready")
		}
	} else {
		logger.WithField("cache", "noop").Info("stock report cache ready")
	}

	metrics := observability.NewMetrics()
	svc := service.New(ledger, service.Options{
		Cache:             reportCache,
		Metrics:           metrics,
		Logger:            logger.WithField("component", "ledger"),
		ReportTTL:         cfg.StockReportCacheTTL,
		LowStockThreshold: cfg.LowStockThreshold,
		LowStockLimit:     cfg.LowStockLimit,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, ledger)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		LoginRateLimit: cfg.LoginRateLimit,
		SSLRedirect:    cfg.SSLRedirect,
		Logger:         logger.WithField("component", "http"),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("inventory ledger listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Error("close error")
		}
	}

	logger.Info("server stopped")
}

func openPostgres(ctx context.Context, cfg config.Config) (*pgstore.Store, error) {
	pg, err := pgstore.New(ctx, cfg.DatabaseURL, cfg.LedgerLockTimeout)
	if err != nil {
		return nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = pg.Close()
		return nil, err
	}
	if cfg.BootstrapAdminPassword != "" {
		hash, err := httpapi.HashPassword(cfg.BootstrapAdminPassword)
		if err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("hash bootstrap password: %w", err)
		}
		admin := domain.UserAccount{Username: "admin", Name: "Administrator", PasswordHash: hash, Role: "admin", Active: true}
		if err := pg.EnsureUser(ctx, admin); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("bootstrap admin: %w", err)
		}
	}
	return pg, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.BootstrapAdminPassword != "" && len(cfg.BootstrapAdminPassword) < 8 {
		return fmt.Errorf("SEED_ADMIN_PASSWORD must be at least 8 characters")
	}
	return nil
}
