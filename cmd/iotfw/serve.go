package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dushixiang/iotfw/internal/audit"
	"github.com/dushixiang/iotfw/internal/config"
	"github.com/dushixiang/iotfw/internal/fleet"
	"github.com/dushixiang/iotfw/internal/logger"
	"github.com/dushixiang/iotfw/internal/policy"
	"github.com/dushixiang/iotfw/internal/scheduler"
	"github.com/dushixiang/iotfw/internal/server"
	"github.com/dushixiang/iotfw/internal/service"
	"github.com/dushixiang/iotfw/internal/store"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the telemetry ingestion and OTA gating server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "iotfw.yaml", "path to the server config file")
	return cmd
}

func runServe(cfg config.Config) error {
	log := logger.New(cfg.Log)
	defer log.Sync()

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return err
	}

	// Shared state: one authoritative in-memory copy, owned here and
	// handed by reference into every component.
	registry := fleet.NewRegistry()
	auditLog := audit.NewLog()
	var counter fleet.AnomalyCounter

	policies := policy.NewStore(cfg.PolicyPath(), log)
	if err := policies.EnsureDefault(); err != nil {
		log.Warn("writing default policy failed", zap.Error(err))
	}
	if err := policies.Reload(); err != nil {
		log.Error("initial policy load failed, using defaults", zap.Error(err))
	}

	done := make(chan struct{})
	defer close(done)
	if err := policies.Watch(done); err != nil {
		log.Warn("policy hot-reload unavailable", zap.Error(err))
	}

	gateway := store.NewGateway(afero.NewOsFs(), cfg.SnapshotPath(), registry, auditLog, &counter, log)
	if err := gateway.Restore(); err != nil {
		log.Error("state restore failed, starting empty", zap.Error(err))
	}
	log.Info("fleet state ready",
		zap.Int("devices", registry.Len()),
		zap.Int("logEntries", auditLog.Len()))

	telemetrySvc := service.NewTelemetryService(log, registry, auditLog, &counter, policies, gateway)
	deploySvc := service.NewDeployService(log, registry, auditLog, policies, gateway,
		time.Duration(cfg.OTA.TriggerTimeoutSeconds)*time.Second, cfg.OTA.MaxDispatch)

	flusher := scheduler.NewFlushScheduler(gateway, log)
	if err := flusher.Start(cfg.Persistence.FlushIntervalSeconds); err != nil {
		return err
	}

	srv := server.New(cfg, log, telemetrySvc, deploySvc)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}

	deploySvc.Close()
	flusher.Stop()
	_ = gateway.Save()
	return nil
}
