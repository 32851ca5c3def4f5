// Package server wires the HTTP transport around the core services. It is
// a thin layer: routing, binding, validation and TLS, no business rules.
package server

import (
	"context"
	"net/http"

	"github.com/dushixiang/iotfw/internal/config"
	"github.com/dushixiang/iotfw/internal/handler"
	"github.com/dushixiang/iotfw/internal/service"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type echoValidator struct {
	validate *validator.Validate
}

func (v *echoValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

type Server struct {
	echo   *echo.Echo
	cfg    config.Config
	logger *zap.Logger
}

func New(cfg config.Config, logger *zap.Logger, telemetry *service.TelemetryService, deploy *service.DeployService) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &echoValidator{validate: validator.New()}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Error(v.Error))
			return nil
		},
	}))

	telemetryHandler := handler.NewTelemetryHandler(logger, telemetry)
	fleetHandler := handler.NewFleetHandler(logger, telemetry)
	adminHandler := handler.NewAdminHandler(logger, deploy)
	firmwareHandler := handler.NewFirmwareHandler(logger, cfg.FirmwarePath())

	e.POST("/telemetry", telemetryHandler.Receive)
	e.GET("/api/devices", fleetHandler.Devices)
	e.GET("/api/stats", fleetHandler.Stats)
	e.POST("/admin/deploy/:id", adminHandler.Deploy)
	e.GET("/firmware/latest.bin", firmwareHandler.Latest)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return &Server{echo: e, cfg: cfg, logger: logger}
}

// Start blocks until the listener fails or Shutdown is called. Failure to
// bind is the one fatal startup condition.
func (s *Server) Start() error {
	if s.cfg.Server.TLS.Enabled {
		certFile, keyFile := s.cfg.CertFile(), s.cfg.KeyFile()
		if err := EnsureSelfSignedCert(certFile, keyFile); err != nil {
			return err
		}
		s.logger.Info("serving with TLS", zap.String("addr", s.cfg.Server.Addr))
		return s.echo.StartTLS(s.cfg.Server.Addr, certFile, keyFile)
	}
	s.logger.Info("serving without TLS", zap.String("addr", s.cfg.Server.Addr))
	return s.echo.Start(s.cfg.Server.Addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
