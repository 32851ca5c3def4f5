// Package agent is the device-side client: it reports health telemetry to
// the server on an interval and listens for OTA triggers on a local port.
package agent

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dushixiang/iotfw/internal/protocol"
	"github.com/dushixiang/iotfw/pkg/agent/collector"
	"github.com/dushixiang/iotfw/pkg/agent/config"
	"github.com/dushixiang/iotfw/pkg/agent/updater"
	"github.com/jpillora/backoff"
)

type Agent struct {
	cfg       *config.Config
	collector *collector.SystemCollector
	updater   *updater.Updater
	client    *http.Client

	mu      sync.RWMutex
	version string

	listener *http.Server
}

func New(cfg *config.Config) *Agent {
	client := &http.Client{Timeout: 5 * time.Second}
	if cfg.InsecureSkipVerify {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Agent{
		cfg:       cfg,
		collector: collector.NewSystemCollector(cfg.DeviceID, cfg.OTAPort),
		updater:   updater.New(cfg.ServerURL, cfg.InsecureSkipVerify),
		client:    client,
		version:   cfg.CurrentVersion,
	}
}

// Version is the firmware version reported with each telemetry snapshot.
// It advances after a successful OTA apply.
func (a *Agent) Version() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

func (a *Agent) setVersion(v string) {
	a.mu.Lock()
	a.version = v
	a.mu.Unlock()
}

// Run starts the OTA listener and the report loop, blocking until ctx is
// cancelled. Failed reports back off exponentially; a delivered report
// resets the backoff and the loop returns to the configured interval.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.startOTAListener(); err != nil {
		return err
	}
	defer a.stopOTAListener()

	slog.Info("agent started",
		"device_id", a.cfg.DeviceID,
		"server", a.cfg.ServerURL,
		"ota_port", a.cfg.OTAPort,
		"version", a.Version())

	bo := &backoff.Backoff{
		Min:    time.Second,
		Max:    a.cfg.Interval(),
		Factor: 2,
		Jitter: true,
	}

	for {
		wait := a.cfg.Interval()
		if err := a.reportOnce(ctx); err != nil {
			wait = bo.Duration()
			slog.Warn("telemetry report failed", "error", err, "retry_in", wait)
		} else {
			bo.Reset()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (a *Agent) reportOnce(ctx context.Context) error {
	report, err := a.collector.Collect(a.Version())
	if err != nil {
		return fmt.Errorf("collecting telemetry: %w", err)
	}

	body, err := json.Marshal(report)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.ServerURL+"/telemetry", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		slog.Debug("telemetry sent", "cpu", report.CPU, "mem", report.Mem, "temp", report.Temp)
		return nil
	case http.StatusForbidden:
		return fmt.Errorf("device %q is not on the server allow-list", a.cfg.DeviceID)
	default:
		return fmt.Errorf("server answered status %d", resp.StatusCode)
	}
}

// startOTAListener binds the callback endpoint the server pushes triggers
// to. The trigger is acknowledged immediately; the download and apply run
// detached so the server's dispatch timeout is never at our mercy.
func (a *Agent) startOTAListener() error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ota-trigger", func(w http.ResponseWriter, r *http.Request) {
		var payload protocol.TriggerPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.TargetVersion == "" {
			http.Error(w, "bad trigger payload", http.StatusBadRequest)
			return
		}

		w.WriteHeader(http.StatusOK)
		slog.Info("ota trigger received", "target_version", payload.TargetVersion)

		go a.performUpdate(payload.TargetVersion)
	})

	a.listener = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.OTAPort),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.listener.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Give the listener a moment to fail on a busy port.
	select {
	case err := <-errCh:
		return fmt.Errorf("ota listener on port %d: %w", a.cfg.OTAPort, err)
	case <-time.After(200 * time.Millisecond):
		slog.Info("ota listener active", "port", a.cfg.OTAPort)
		return nil
	}
}

func (a *Agent) stopOTAListener() {
	if a.listener == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = a.listener.Shutdown(ctx)
}

func (a *Agent) performUpdate(targetVersion string) {
	if err := a.updater.Apply(targetVersion); err != nil {
		slog.Error("ota update failed", "error", err)
		return
	}
	a.setVersion(targetVersion)
	slog.Info("firmware updated, new version takes effect now and fully applies on next restart",
		"version", targetVersion)
}
