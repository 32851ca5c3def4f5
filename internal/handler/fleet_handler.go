package handler

import (
	"net/http"

	"github.com/dushixiang/iotfw/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// FleetHandler exposes read-only fleet queries.
type FleetHandler struct {
	logger  *zap.Logger
	service *service.TelemetryService
}

func NewFleetHandler(logger *zap.Logger, service *service.TelemetryService) *FleetHandler {
	return &FleetHandler{
		logger:  logger,
		service: service,
	}
}

// Devices returns the full fleet keyed by device ID.
// GET /api/devices
func (h *FleetHandler) Devices(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Fleet(c.Request().Context()))
}

// Stats returns fleet size, anomaly count and recent audit entries.
// GET /api/stats
func (h *FleetHandler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Stats(c.Request().Context()))
}
