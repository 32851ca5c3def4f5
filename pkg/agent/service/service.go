// Package service runs the agent under the platform service manager
// (systemd, launchd, Windows services) via kardianos/service.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dushixiang/iotfw/pkg/agent"
	"github.com/dushixiang/iotfw/pkg/agent/config"
	"github.com/kardianos/service"
)

// program implements service.Interface.
type program struct {
	cfg        *config.Config
	configPath string
	agent      *agent.Agent
	ctx        context.Context
	cancel     context.CancelFunc
}

func (p *program) Start(s service.Service) error {
	agent.InitLogger(&agent.LogConfig{
		Level:      p.cfg.LogLevel,
		File:       p.cfg.LogFile,
		MaxSize:    p.cfg.LogMaxSize,
		MaxBackups: p.cfg.LogMaxBackups,
		MaxAge:     p.cfg.LogMaxAge,
		Compress:   p.cfg.LogCompress,
	})

	slog.Info("iotfw agent service starting")

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.agent = agent.New(p.cfg)

	go func() {
		if err := p.agent.Run(p.ctx); err != nil {
			slog.Error("agent stopped with error", "error", err)
		}
	}()

	return nil
}

func (p *program) Stop(s service.Service) error {
	slog.Info("iotfw agent service stopping")
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

// Manager installs, removes and controls the agent service.
type Manager struct {
	service service.Service
}

func NewManager(cfg *config.Config, configPath string) (*Manager, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving executable path: %w", err)
	}

	svcConfig := &service.Config{
		Name:        "iotfw-agent",
		DisplayName: "IOTFW Agent",
		Description: "Reports device health telemetry and receives OTA triggers",
		Arguments:   []string{"run", "--config", configPath},
		Executable:  execPath,
		Option: service.KeyValue{
			// systemd: restart after a failed OTA apply exits the process
			"Restart":            "always",
			"RestartSec":         "10",
			"StartLimitInterval": "0",
			"KillMode":           "process",

			// Windows
			"OnFailure":    "restart",
			"ResetPeriod":  86400,
			"RestartDelay": 10000,

			// upstart/launchd
			"KeepAlive": true,
			"RunAtLoad": true,
		},
	}

	s, err := service.New(&program{cfg: cfg, configPath: configPath}, svcConfig)
	if err != nil {
		return nil, fmt.Errorf("creating service: %w", err)
	}
	return &Manager{service: s}, nil
}

func (m *Manager) Install() error { return m.service.Install() }

func (m *Manager) Uninstall() error {
	_ = m.service.Stop()
	return m.service.Uninstall()
}

func (m *Manager) Start() error   { return m.service.Start() }
func (m *Manager) Stop() error    { return m.service.Stop() }
func (m *Manager) Restart() error { return m.service.Restart() }

// Run hands control to the service manager, or runs in the foreground when
// started from a terminal.
func (m *Manager) Run() error { return m.service.Run() }

func (m *Manager) Status() (string, error) {
	status, err := m.service.Status()
	if err != nil {
		return "", err
	}
	switch status {
	case service.StatusRunning:
		return "running", nil
	case service.StatusStopped:
		return "stopped", nil
	default:
		return "unknown", nil
	}
}
