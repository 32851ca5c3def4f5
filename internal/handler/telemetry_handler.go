package handler

import (
	"errors"
	"net/http"

	"github.com/dushixiang/iotfw/internal/protocol"
	"github.com/dushixiang/iotfw/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// TelemetryHandler accepts device health reports.
type TelemetryHandler struct {
	logger  *zap.Logger
	service *service.TelemetryService
}

func NewTelemetryHandler(logger *zap.Logger, service *service.TelemetryService) *TelemetryHandler {
	return &TelemetryHandler{
		logger:  logger,
		service: service,
	}
}

// Receive ingests one telemetry report.
// POST /telemetry
func (h *TelemetryHandler) Receive(c echo.Context) error {
	var report protocol.TelemetryReport
	if err := c.Bind(&report); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "malformed telemetry",
		})
	}
	if err := c.Validate(&report); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid telemetry: " + err.Error(),
		})
	}

	_, err := h.service.Ingest(c.Request().Context(), report, c.RealIP())
	if err != nil {
		if errors.Is(err, service.ErrDeviceUnauthorized) {
			return c.JSON(http.StatusForbidden, map[string]string{
				"error": "unauthorized",
			})
		}
		h.logger.Error("telemetry ingestion failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "ingestion failed",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
