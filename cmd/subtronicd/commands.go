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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zeptac/subtronic-fleet/internal/ack"
	"github.com/zeptac/subtronic-fleet/internal/api"
	"github.com/zeptac/subtronic-fleet/internal/archive"
	"github.com/zeptac/subtronic-fleet/internal/config"
	"github.com/zeptac/subtronic-fleet/internal/delivery"
	"github.com/zeptac/subtronic-fleet/internal/logging"
	"github.com/zeptac/subtronic-fleet/internal/push"
	"github.com/zeptac/subtronic-fleet/internal/settings"
	"github.com/zeptac/subtronic-fleet/internal/transport/mqtt"
)

var (
	configPath string
	logLevel   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fleet configuration daemon",
	Long: `Start the daemon: connect to the MQTT broker, serve the console
REST API and the acknowledgment WebSocket feed, and sweep pending
commands for timeouts.`,
	Example: `  # Start with defaults (broker on localhost, API on :3001)
  subtronicd serve

  # Start with a config file and verbose logging
  subtronicd serve --config /etc/subtronicd/config.yaml --log-level debug`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to config file (optional)")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if level == "" {
		level = logLevel
	}
	if err := logging.Initialize(level); err != nil {
		return err
	}
	defer logging.Sync()

	store := settings.NewStore()
	tracker := ack.NewTracker(cfg.Ack.Retention)

	hub := push.NewHub()
	tracker.Subscribe(func(rec ack.CommandRecord) {
		eventType := "command_update"
		if rec.Status == ack.StatusPending {
			eventType = "command_sent"
		}
		hub.Broadcast(push.Event{Type: eventType, Command: rec})
	})

	bridge := mqtt.NewBridge(mqtt.Options{
		BrokerURL:      cfg.MQTT.BrokerURL,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		QoS:            cfg.MQTT.QoS,
		PublishTimeout: cfg.MQTT.PublishTimeout,
	}, store, tracker)

	var arc delivery.Archive
	if cfg.Archive.Dir != "" {
		fileArchive, err := archive.NewFileArchive(cfg.Archive.Dir)
		if err != nil {
			return fmt.Errorf("failed to open settings archive: %w", err)
		}
		arc = fileArchive
		logging.Info("archiving delivered settings", zap.String("dir", cfg.Archive.Dir))
	}

	coordinator := delivery.NewCoordinator(store, tracker, bridge, arc, cfg.Ack.Timeout)
	handler := api.NewHandler(store, tracker, coordinator, hub)
	router := api.NewRouter(handler, rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logging.Info("Shutdown signal received, stopping daemon...")
		cancel()
	}()

	if err := bridge.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer bridge.Disconnect()

	go tracker.Run(ctx, cfg.Ack.SweepInterval)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	errChan := make(chan error, 1)
	go func() {
		logging.Info("API listening",
			zap.String("addr", cfg.Addr()),
			zap.String("broker", cfg.MQTT.BrokerURL),
		)
		errChan <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn("API shutdown timed out", zap.Error(err))
		}
		logging.Info("Daemon stopped")
		return nil
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
