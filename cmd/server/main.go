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
	_ "time/tzdata"

	"go.uber.org/zap"

	"optica/backend/internal/cache"
	"optica/backend/internal/config"
	"optica/backend/internal/httpapi"
	"optica/backend/internal/service"
	"optica/backend/internal/store"
	"optica/backend/internal/store/memory"
	pgstore "optica/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}
	loc, err := time.LoadLocation(cfg.BusinessTimezone)
	if err != nil {
		logger.Fatal("invalid BUSINESS_TIMEZONE", zap.String("timezone", cfg.BusinessTimezone), zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if cfg.MigrateOnStart {
			if err := pg.Migrate(ctx); err != nil {
				logger.Fatal("apply schema", zap.Error(err))
			}
			logger.Info("schema applied")
		}
		if cfg.BootstrapAdminPass != "" {
			created, err := httpapi.EnsureAdmin(ctx, pg, cfg.BootstrapAdminUser, cfg.BootstrapAdminPass)
			if err != nil {
				logger.Fatal("bootstrap admin", zap.Error(err))
			}
			if created {
				logger.Info("bootstrap admin created", zap.String("username", cfg.BootstrapAdminUser))
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository ready", zap.String("backend", "postgres"))
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository ready", zap.String("backend", "memory"))
	}

	folioCache := cache.FolioConfigCache(cache.NewLocalFolioConfigCache())
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisFolioConfigCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using local folio config cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			folioCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("folio config cache ready", zap.String("backend", "redis"))
		}
	}

	svc := service.New(repo, folioCache, service.Config{
		Location:       loc,
		TaxRatePercent: cfg.TaxRatePercent,
		FolioCacheTTL:  cfg.FolioCacheTTL,
	}, logger)
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("optica backend listening", zap.String("addr", cfg.Address()), zap.String("timezone", loc.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects repeated-digit, sequential and well-known PINs.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "121212": true,
		"112233": true, "123123": true, "112358": true, "102030": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
