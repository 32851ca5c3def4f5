package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// placeholderFirmware is served when no real firmware image has been
// uploaded to the data directory yet.
const placeholderFirmware = "IOTFW-MODULAR-FIRMWARE-v2.1.5"

// FirmwareHandler serves the firmware binary devices download after an OTA
// trigger. Plain file serving; signing and diffing are out of scope.
type FirmwareHandler struct {
	logger *zap.Logger
	path   string
}

func NewFirmwareHandler(logger *zap.Logger, path string) *FirmwareHandler {
	return &FirmwareHandler{
		logger: logger,
		path:   path,
	}
}

// Latest serves the current firmware blob, materializing the placeholder on
// first request.
// GET /firmware/latest.bin
func (h *FirmwareHandler) Latest(c echo.Context) error {
	if _, err := os.Stat(h.path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(h.path, []byte(placeholderFirmware), 0o644); err != nil {
			h.logger.Error("writing placeholder firmware failed", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "firmware unavailable",
			})
		}
	}
	return c.File(h.path)
}
