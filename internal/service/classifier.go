package service

import (
	"github.com/dushixiang/iotfw/internal/models"
	"github.com/dushixiang/iotfw/internal/protocol"
)

// Classify derives a device's stability from one telemetry report and the
// active policy. Thresholds are exclusive lower bounds: equality is still
// stable. Pure; counting anomalous reports is the ingestion service's job.
func Classify(report protocol.TelemetryReport, pol models.RolloutPolicy) (models.DeviceStatus, bool) {
	if report.CPU > pol.CPUThreshold || report.Mem > pol.MemThreshold {
		return models.StatusAnomaly, false
	}
	return models.StatusStable, true
}
