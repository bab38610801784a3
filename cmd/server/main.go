package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/micro-ha/finder-bliss-bridge/internal/config"
	"github.com/micro-ha/finder-bliss-bridge/internal/configsync"
	"github.com/micro-ha/finder-bliss-bridge/internal/ha"
	"github.com/micro-ha/finder-bliss-bridge/internal/httpapi"
	"github.com/micro-ha/finder-bliss-bridge/internal/metrics"
	"github.com/micro-ha/finder-bliss-bridge/internal/model"
	"github.com/micro-ha/finder-bliss-bridge/internal/poller"
	"github.com/micro-ha/finder-bliss-bridge/internal/service"
	"github.com/micro-ha/finder-bliss-bridge/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if err := os.MkdirAll(cfg.DBDir(), 0o755); err != nil {
		logger.Error("failed to create db directory", "err", err)
		os.Exit(1)
	}

	repo, err := storage.New(ctx, cfg.DBPath, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	defer repo.Close()

	cfgManager := buildConfigManager(ctx, cfg, logger)

	mqttClient, err := ha.NewClient(ha.BrokerConfig{
		URI:      cfg.MQTTBrokerURI,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to mqtt broker", "err", err)
		os.Exit(1)
	}
	defer mqttClient.Close()

	publisher := ha.NewPublisher(mqttClient, cfg.MQTTPrefix, cfg.DiscoveryPrefix, logger)
	m := metrics.New()

	svc := service.New(service.Options{
		Repository:  repo,
		Publisher:   publisher,
		Manager:     cfgManager,
		Metrics:     m,
		Logger:      logger,
		AccountsURL: cfg.BlissAccountsURL,
		SyncURL:     cfg.BlissSyncURL,
	})
	defer svc.Close()

	if err := publisher.SubscribeCommands(svc); err != nil {
		logger.Error("failed to subscribe to command topics", "err", err)
		os.Exit(1)
	}

	devicePoller := poller.New(svc, cfgManager, logger)

	if cfg.Supervised() {
		go runConfigFallbackRefresh(ctx, cfg.ConfigRefreshInterval, cfgManager, devicePoller, logger)

		watcher := configsync.NewWatcher(cfg.HABaseURL, cfg.SupervisorToken, logger)
		go watcher.Run(ctx, func() {
			refreshCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			changed, err := cfgManager.Refresh(refreshCtx)
			if err != nil {
				logger.Warn("config refresh from event failed", "err", err)
				return
			}
			if changed {
				devicePoller.TriggerRefresh()
			}
		})
	}

	go devicePoller.Run(ctx)

	api := httpapi.New(svc, devicePoller, cfgManager, m, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("server starting", "addr", httpServer.Addr)
	if err := httpapi.RunServer(ctx, httpServer, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated with error", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// buildConfigManager wires the account source: the Home Assistant config
// endpoint when supervised, env-provided credentials otherwise.
func buildConfigManager(ctx context.Context, cfg config.Config, logger *slog.Logger) *configsync.Manager {
	if cfg.Supervised() {
		client := configsync.NewClient(cfg.HABaseURL, cfg.SupervisorToken)
		manager := configsync.NewManager(client, logger)
		if _, err := manager.Refresh(ctx); err != nil {
			logger.Warn("initial config refresh failed", "err", err)
		}
		return manager
	}

	static := model.AccountConfig{
		Version:   1,
		UpdatedAt: time.Now().UTC(),
		Username:  cfg.BlissUsername,
		Password:  cfg.BlissPassword,
	}
	if !static.Credentials() {
		logger.Warn("no supervisor token and no static credentials; waiting for configuration")
	}
	return configsync.NewStaticManager(static, logger)
}

func runConfigFallbackRefresh(ctx context.Context, interval time.Duration, cfg *configsync.Manager, p *poller.Poller, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			changed, err := cfg.Refresh(refreshCtx)
			cancel()
			if err != nil {
				logger.Warn("periodic config refresh failed", "err", err)
				continue
			}
			if changed {
				p.TriggerRefresh()
			}
		}
	}
}
