package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/dushixiang/iotfw/internal/audit"
	"github.com/dushixiang/iotfw/internal/fleet"
	"github.com/dushixiang/iotfw/internal/policy"
	"github.com/dushixiang/iotfw/internal/protocol"
	"github.com/dushixiang/iotfw/internal/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testStack struct {
	registry *fleet.Registry
	auditLog *audit.Log
	counter  *fleet.AnomalyCounter
	policies *policy.Store
	gateway  *store.Gateway
	fs       afero.Fs
}

// newTestStack builds the full shared-state stack on an in-memory
// filesystem, with the default policy (thresholds 85/90, target 2.1.5,
// allow-list iot-001/iot-002/sensor-03).
func newTestStack(t *testing.T) *testStack {
	t.Helper()
	logger := zap.NewNop()
	registry := fleet.NewRegistry()
	auditLog := audit.NewLog()
	counter := &fleet.AnomalyCounter{}
	policies := policy.NewStore("nonexistent-policy.json", logger)
	fs := afero.NewMemMapFs()
	gateway := store.NewGateway(fs, "data_store.json", registry, auditLog, counter, logger)
	return &testStack{
		registry: registry,
		auditLog: auditLog,
		counter:  counter,
		policies: policies,
		gateway:  gateway,
		fs:       fs,
	}
}

func (s *testStack) telemetryService() *TelemetryService {
	return NewTelemetryService(zap.NewNop(), s.registry, s.auditLog, s.counter, s.policies, s.gateway)
}

func report(deviceID string, cpu, mem float64, version string) protocol.TelemetryReport {
	return protocol.TelemetryReport{
		DeviceID:  deviceID,
		CPU:       cpu,
		Mem:       mem,
		Temp:      42,
		Version:   version,
		Timestamp: 1700000000,
	}
}

func TestIngestRejectsUnlistedDevice(t *testing.T) {
	stack := newTestStack(t)
	svc := stack.telemetryService()

	_, err := svc.Ingest(context.Background(), report("rogue-99", 10, 10, "1.0.0"), "10.0.0.9")
	require.ErrorIs(t, err, ErrDeviceUnauthorized)

	assert.Equal(t, 0, stack.registry.Len(), "rejected telemetry must not touch device state")
	assert.Equal(t, 0, stack.auditLog.Len())
}

func TestIngestStableReport(t *testing.T) {
	stack := newTestStack(t)
	svc := stack.telemetryService()

	rec, err := svc.Ingest(context.Background(), report("iot-001", 50, 60, "2.0.0"), "192.168.1.10")
	require.NoError(t, err)

	assert.True(t, rec.IsStable)
	assert.Equal(t, "192.168.1.10", rec.IP)
	assert.Equal(t, protocol.DefaultOTAPort, rec.OTAPort)
	assert.Equal(t, int64(0), stack.counter.Value())
	assert.Equal(t, 0, stack.auditLog.Len(), "no transition, no audit entry")
}

func TestIngestRefreshesAddress(t *testing.T) {
	stack := newTestStack(t)
	svc := stack.telemetryService()

	r := report("iot-001", 10, 10, "2.0.0")
	r.OTAPort = 9001
	_, err := svc.Ingest(context.Background(), r, "192.168.1.10")
	require.NoError(t, err)

	r.OTAPort = 9002
	_, err = svc.Ingest(context.Background(), r, "192.168.1.77")
	require.NoError(t, err)

	rec, ok := stack.registry.Get("iot-001")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.77", rec.IP)
	assert.Equal(t, 9002, rec.OTAPort)
}

func TestAnomalyCountsEveryReport(t *testing.T) {
	stack := newTestStack(t)
	svc := stack.telemetryService()
	ctx := context.Background()

	_, err := svc.Ingest(ctx, report("iot-002", 92, 40, "1.0.0"), "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stack.counter.Value())

	// still anomalous: counter moves again, audit does not
	_, err = svc.Ingest(ctx, report("iot-002", 95, 40, "1.0.0"), "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stack.counter.Value())

	alerts := 0
	for _, entry := range stack.auditLog.All() {
		if strings.HasPrefix(entry, "ALERT") {
			alerts++
		}
	}
	assert.Equal(t, 1, alerts, "repeated anomalous reports append no further transition entries")
}

func TestConcurrentAnomalousReportsAlertOnce(t *testing.T) {
	stack := newTestStack(t)
	svc := stack.telemetryService()
	ctx := context.Background()

	const reports = 16
	var wg sync.WaitGroup
	for i := 0; i < reports; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Ingest(ctx, report("iot-002", 92, 40, "1.0.0"), "10.0.0.2")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	alerts := 0
	for _, entry := range stack.auditLog.All() {
		if strings.HasPrefix(entry, "ALERT") {
			alerts++
		}
	}
	assert.Equal(t, 1, alerts, "simultaneous anomalous reports must produce a single transition entry")
	assert.Equal(t, int64(reports), stack.counter.Value(), "every anomalous report still counts")
}

func TestTransitionAuditEntries(t *testing.T) {
	stack := newTestStack(t)
	svc := stack.telemetryService()
	ctx := context.Background()

	_, err := svc.Ingest(ctx, report("iot-002", 92, 40, "1.0.0"), "10.0.0.2")
	require.NoError(t, err)

	entries := stack.auditLog.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ALERT → iot-002 entered ANOMALY state (CPU:92%)", entries[0])

	_, err = svc.Ingest(ctx, report("iot-002", 30, 40, "1.0.0"), "10.0.0.2")
	require.NoError(t, err)

	entries = stack.auditLog.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "RECOVERY → iot-002 returned to Stable state", entries[1])
}

func TestTransitionForcesSynchronousSave(t *testing.T) {
	stack := newTestStack(t)
	svc := stack.telemetryService()

	_, err := svc.Ingest(context.Background(), report("iot-001", 99, 10, "1.0.0"), "10.0.0.1")
	require.NoError(t, err)

	exists, err := afero.Exists(stack.fs, "data_store.json")
	require.NoError(t, err)
	assert.True(t, exists, "ALERT transition must snapshot before returning")
}

func TestRoutineReportOnlyMarksDirty(t *testing.T) {
	stack := newTestStack(t)
	svc := stack.telemetryService()

	_, err := svc.Ingest(context.Background(), report("iot-001", 10, 10, "1.0.0"), "10.0.0.1")
	require.NoError(t, err)

	exists, err := afero.Exists(stack.fs, "data_store.json")
	require.NoError(t, err)
	assert.False(t, exists, "routine update must not save synchronously")

	stack.gateway.FlushIfDirty()
	exists, err = afero.Exists(stack.fs, "data_store.json")
	require.NoError(t, err)
	assert.True(t, exists, "flush scheduler picks the update up")
}

func TestStats(t *testing.T) {
	stack := newTestStack(t)
	svc := stack.telemetryService()
	ctx := context.Background()

	_, _ = svc.Ingest(ctx, report("iot-001", 10, 10, "1.0.0"), "10.0.0.1")
	_, _ = svc.Ingest(ctx, report("iot-002", 92, 10, "1.0.0"), "10.0.0.2")

	stats := svc.Stats(ctx)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, int64(1), stats.Anomalies)
	require.NotEmpty(t, stats.Log)
	assert.Contains(t, stats.Log[0], "ALERT")
}
