package service

import (
	"context"
	"time"

	"github.com/dushixiang/iotfw/internal/audit"
	"github.com/dushixiang/iotfw/internal/fleet"
	"github.com/dushixiang/iotfw/internal/models"
	"github.com/dushixiang/iotfw/internal/policy"
	"github.com/dushixiang/iotfw/internal/protocol"
	"github.com/dushixiang/iotfw/internal/store"
	"go.uber.org/zap"
)

// TelemetryService runs the ingestion pipeline: allow-list gate, anomaly
// classification, registry upsert, transition auditing and persistence.
type TelemetryService struct {
	logger   *zap.Logger
	registry *fleet.Registry
	auditLog *audit.Log
	counter  *fleet.AnomalyCounter
	policies *policy.Store
	gateway  *store.Gateway
}

func NewTelemetryService(logger *zap.Logger, registry *fleet.Registry, auditLog *audit.Log, counter *fleet.AnomalyCounter, policies *policy.Store, gateway *store.Gateway) *TelemetryService {
	return &TelemetryService{
		logger:   logger,
		registry: registry,
		auditLog: auditLog,
		counter:  counter,
		policies: policies,
		gateway:  gateway,
	}
}

// Ingest accepts one validated telemetry report from ip. The stored record
// is fully replaced, the device's status re-derived, and a stability
// transition appends an audit entry and forces a synchronous snapshot.
// Same-status reports only mark the snapshot dirty for the async flusher.
func (s *TelemetryService) Ingest(ctx context.Context, report protocol.TelemetryReport, ip string) (models.DeviceRecord, error) {
	pol := s.policies.Get()

	if !pol.Allows(report.DeviceID) {
		s.logger.Warn("blocked unauthorized device", zap.String("deviceId", report.DeviceID), zap.String("ip", ip))
		return models.DeviceRecord{}, ErrDeviceUnauthorized
	}

	status, stable := Classify(report, pol)
	if !stable {
		// Report counter: increments on every anomalous report, not only
		// on transitions.
		s.counter.Inc()
	}

	otaPort := report.OTAPort
	if otaPort == 0 {
		otaPort = protocol.DefaultOTAPort
	}

	rec := models.DeviceRecord{
		DeviceID:   report.DeviceID,
		CPU:        report.CPU,
		Mem:        report.Mem,
		Temp:       report.Temp,
		Version:    report.Version,
		DiskUsage:  report.DiskUsage,
		NetSentMB:  report.NetSentMB,
		NetRecvMB:  report.NetRecvMB,
		BootTime:   report.BootTime,
		CPUCores:   report.CPUCores,
		IP:         ip,
		OTAPort:    otaPort,
		Status:     status,
		IsStable:   stable,
		Timestamp:  report.Timestamp,
		LastSeenAt: time.Now().UnixMilli(),
	}
	// Transition detection runs inside the per-device lock so two
	// concurrent reports for the same device cannot both observe the old
	// status and double-append. The snapshot save happens after the lock is
	// released: Save walks the registry and would deadlock on this entry.
	transitioned := false
	s.registry.Update(report.DeviceID, func(prev models.DeviceRecord, known bool) models.DeviceRecord {
		switch {
		case !stable && (!known || prev.IsStable):
			s.auditLog.Append("ALERT → %s entered ANOMALY state (CPU:%v%%)", report.DeviceID, report.CPU)
			s.logger.Warn("device entered anomaly state",
				zap.String("deviceId", report.DeviceID),
				zap.Float64("cpu", report.CPU),
				zap.Float64("mem", report.Mem))
			transitioned = true
		case stable && known && !prev.IsStable:
			s.auditLog.Append("RECOVERY → %s returned to Stable state", report.DeviceID)
			s.logger.Info("device recovered", zap.String("deviceId", report.DeviceID))
			transitioned = true
		}
		return rec
	})

	if transitioned {
		s.saveNow()
	} else {
		s.gateway.MarkDirty()
	}

	return rec, nil
}

// Stats returns the fleet size, anomaly report count and the most recent
// audit entries, newest first.
func (s *TelemetryService) Stats(ctx context.Context) protocol.StatsResponse {
	return protocol.StatsResponse{
		Total:     s.registry.Len(),
		Anomalies: s.counter.Value(),
		Log:       s.auditLog.Recent(audit.RecentLimit),
	}
}

// Fleet returns all device records keyed by device ID.
func (s *TelemetryService) Fleet(ctx context.Context) map[string]models.DeviceRecord {
	return s.registry.Map()
}

// saveNow snapshots synchronously; persistence failures are deliberately
// swallowed here, the gateway already logged them.
func (s *TelemetryService) saveNow() {
	_ = s.gateway.Save()
}
