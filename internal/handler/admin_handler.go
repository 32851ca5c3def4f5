package handler

import (
	"errors"
	"net/http"

	"github.com/dushixiang/iotfw/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// AdminHandler exposes the rollout surface.
type AdminHandler struct {
	logger  *zap.Logger
	service *service.DeployService
}

func NewAdminHandler(logger *zap.Logger, service *service.DeployService) *AdminHandler {
	return &AdminHandler{
		logger:  logger,
		service: service,
	}
}

// Deploy requests an OTA rollout for one device. Always answers with one of
// the gating outcomes; never a silent no-op.
// POST /admin/deploy/:id
func (h *AdminHandler) Deploy(c echo.Context) error {
	deviceID := c.Param("id")
	if deviceID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "device id is required",
		})
	}

	result, err := h.service.RequestDeploy(c.Request().Context(), deviceID)
	if err != nil {
		if errors.Is(err, service.ErrDeviceNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "device not found",
			})
		}
		h.logger.Error("deploy request failed", zap.String("deviceId", deviceID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "deploy request failed",
		})
	}

	return c.JSON(http.StatusOK, result)
}
