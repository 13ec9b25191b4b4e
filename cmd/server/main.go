package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hperssn/palmpay/internal/aggregator"
	"github.com/hperssn/palmpay/internal/config"
	"github.com/hperssn/palmpay/internal/domain"
	httpapi "github.com/hperssn/palmpay/internal/http"
	"github.com/hperssn/palmpay/internal/runner"
	"github.com/hperssn/palmpay/internal/services"
	"github.com/hperssn/palmpay/internal/storage"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	svc, err := services.CreateServices(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	repo, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		logger.Error("failed to open ledger", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	manager := runner.NewSessionManager(runner.Deps{
		Devices:  svc.Devices,
		Verifier: svc.Verifier,
		Parser:   svc.Parser,
		Alerts:   svc.Alerts,
		Timeouts: timeouts(cfg),
		Logger:   logger,
	}, runner.ManagerConfig{
		TTL:             cfg.Sessions.TTL,
		CleanupInterval: cfg.Sessions.CleanupInterval,
	})
	defer manager.Close()

	agg := aggregator.New(svc.Settlement, repo, logger)
	server := httpapi.NewServer(manager, agg, repo, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Router(httpapi.Options{
			AllowDevUser: cfg.StandaloneMode,
			JWTSecret:    cfg.Auth.JWTSecret,
			RateLimit:    cfg.Server.RateLimit,
			RateBurst:    cfg.Server.RateBurst,
		}),
	}

	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "standalone", cfg.StandaloneMode, "storage", cfg.Storage.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

// loadConfig reads PALMPAY_CONFIG, or config.yaml when unset. Without either
// the server runs standalone on defaults.
func loadConfig() (*config.Config, error) {
	path, explicit := os.LookupEnv("PALMPAY_CONFIG")
	if !explicit {
		path = "config.yaml"
	}

	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if explicit || !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	slog.Warn("no config file, running standalone with defaults", "path", path)
	cfg = config.Default()
	cfg.StandaloneMode = true
	return cfg, nil
}

func timeouts(cfg *config.Config) runner.Timeouts {
	t := runner.Timeouts{
		Capture: make(map[domain.CaptureKind]time.Duration),
		Default: cfg.Capture.Timeout,
		Verify:  cfg.Capture.VerifyTimeout,
		Alert:   cfg.Alerts.Timeout,
	}
	for _, kind := range []domain.CaptureKind{domain.CapturePalm, domain.CaptureFace, domain.CaptureVoice, domain.CaptureGesture} {
		t.Capture[kind] = cfg.CaptureTimeout(kind)
	}
	return t
}
