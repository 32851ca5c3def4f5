package service

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dushixiang/iotfw/internal/models"
	"github.com/dushixiang/iotfw/internal/protocol"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func (s *testStack) deployService() *DeployService {
	return NewDeployService(zap.NewNop(), s.registry, s.auditLog, s.policies, s.gateway, 2*time.Second, 2)
}

func device(id, version string, stable bool) models.DeviceRecord {
	status := models.StatusStable
	if !stable {
		status = models.StatusAnomaly
	}
	return models.DeviceRecord{
		DeviceID: id,
		Version:  version,
		IP:       "127.0.0.1",
		OTAPort:  protocol.DefaultOTAPort,
		Status:   status,
		IsStable: stable,
	}
}

func TestDeployUnknownDevice(t *testing.T) {
	stack := newTestStack(t)
	svc := stack.deployService()

	_, err := svc.RequestDeploy(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, 0, stack.auditLog.Len(), "unknown device produces no audit entry")
}

func TestDeployBlockedByAnomaly(t *testing.T) {
	stack := newTestStack(t)
	// even an outdated version stays blocked while anomalous
	stack.registry.Upsert(device("iot-002", "1.0.0", false))
	svc := stack.deployService()

	result, err := svc.RequestDeploy(context.Background(), "iot-002")
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, result.Status)
	assert.Equal(t, ReasonAnomaly, result.Reason)

	entries := stack.auditLog.All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "BLOCKED → OTA for iot-002 rejected")
}

func TestDeploySkippedOnTargetVersion(t *testing.T) {
	stack := newTestStack(t)
	stack.registry.Upsert(device("iot-001", "2.1.5", true))
	svc := stack.deployService()

	result, err := svc.RequestDeploy(context.Background(), "iot-001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, result.Status)
	assert.Equal(t, ReasonUpToDate, result.Reason)
	require.Equal(t, 1, stack.auditLog.Len())
	assert.True(t, strings.HasPrefix(stack.auditLog.All()[0], "SKIPPED"))
}

func TestDeployBlocksLexicographicDowngrade(t *testing.T) {
	stack := newTestStack(t)
	stack.registry.Upsert(device("iot-001", "3.0.0", true))
	svc := stack.deployService()

	result, err := svc.RequestDeploy(context.Background(), "iot-001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, result.Status)
	assert.Equal(t, ReasonDowngrade, result.Reason)
	assert.Contains(t, stack.auditLog.All()[0], "Downgrade attack prevention")
}

// "10.0.0" sorts below "2.1.5" as a plain string, so the gate lets it
// through even though it is semantically newer. The comparison is a
// documented approximation; this pins the behavior down.
func TestDeployStringComparisonApproximation(t *testing.T) {
	stack := newTestStack(t)
	rec := device("iot-001", "10.0.0", true)
	rec.OTAPort = 1 // nothing listens there; dispatch outcome lands in the audit log only
	stack.registry.Upsert(rec)
	svc := stack.deployService()

	result, err := svc.RequestDeploy(context.Background(), "iot-001")
	require.NoError(t, err)
	assert.Equal(t, OutcomeInitiated, result.Status)
	svc.Close()
}

func TestDeployInitiatedDispatchesTrigger(t *testing.T) {
	stack := newTestStack(t)

	received := make(chan protocol.TriggerPayload, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/ota-trigger", r.URL.Path)
		var payload protocol.TriggerPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)

	rec := device("iot-001", "2.0.0", true)
	rec.IP = host
	rec.OTAPort = port
	stack.registry.Upsert(rec)

	svc := stack.deployService()
	result, err := svc.RequestDeploy(context.Background(), "iot-001")
	require.NoError(t, err)

	assert.Equal(t, OutcomeInitiated, result.Status)
	assert.Equal(t, host, result.TargetIP)
	assert.Equal(t, "2.1.5", result.TargetVersion)

	select {
	case payload := <-received:
		assert.Equal(t, "2.1.5", payload.TargetVersion)
	case <-time.After(3 * time.Second):
		t.Fatal("trigger never reached the device")
	}

	svc.Close()
	entries := stack.auditLog.All()
	require.Len(t, entries, 2)
	assert.True(t, strings.HasPrefix(entries[0], "DEPLOYING"))
	assert.Equal(t, "SUCCESS → iot-001 updated to v2.1.5", entries[1])
}

func TestDeployTriggerFailureIsAuditedOnly(t *testing.T) {
	stack := newTestStack(t)
	rec := device("iot-001", "2.0.0", true)
	rec.OTAPort = 1 // closed port
	stack.registry.Upsert(rec)

	svc := stack.deployService()
	result, err := svc.RequestDeploy(context.Background(), "iot-001")
	require.NoError(t, err)
	// the caller already has its answer before the dispatch resolves
	assert.Equal(t, OutcomeInitiated, result.Status)

	svc.Close()
	entries := stack.auditLog.All()
	require.Len(t, entries, 2)
	assert.True(t, strings.HasPrefix(entries[1], "FAILED → Connection error with iot-001"))
}

func TestDeployOutcomesAreSaved(t *testing.T) {
	stack := newTestStack(t)
	stack.registry.Upsert(device("iot-001", "2.1.5", true))
	svc := stack.deployService()

	_, err := svc.RequestDeploy(context.Background(), "iot-001")
	require.NoError(t, err)

	data, err := afero.ReadFile(stack.fs, "data_store.json")
	require.NoError(t, err)

	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Len(t, snap.OTALog, 1)
	assert.Contains(t, snap.OTALog[0], "SKIPPED")
}
