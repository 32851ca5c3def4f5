package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dushixiang/iotfw/internal/audit"
	"github.com/dushixiang/iotfw/internal/fleet"
	"github.com/dushixiang/iotfw/internal/models"
	"github.com/dushixiang/iotfw/internal/policy"
	"github.com/dushixiang/iotfw/internal/protocol"
	"github.com/dushixiang/iotfw/internal/store"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Deploy outcomes. Blocked and Skipped are expected results of gating, not
// faults; Initiated means a trigger was handed to the dispatch pool.
const (
	OutcomeBlocked   = "blocked"
	OutcomeSkipped   = "skipped"
	OutcomeInitiated = "initiated"
)

const (
	ReasonAnomaly   = "Anomaly Detected"
	ReasonUpToDate  = "already on target version"
	ReasonDowngrade = "downgrade prevented"
)

// DeployResult is what the caller of RequestDeploy gets back. The outcome
// of the network trigger itself is reported through the audit log only.
type DeployResult struct {
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	TargetIP      string `json:"target_ip,omitempty"`
	TargetVersion string `json:"target_version,omitempty"`
}

// DeployService gates OTA rollout requests against device stability and
// firmware version, and dispatches accepted triggers to the device's
// callback endpoint on a bounded worker pool.
type DeployService struct {
	logger   *zap.Logger
	registry *fleet.Registry
	auditLog *audit.Log
	policies *policy.Store
	gateway  *store.Gateway
	client   *http.Client
	workers  *pool.Pool
}

func NewDeployService(logger *zap.Logger, registry *fleet.Registry, auditLog *audit.Log, policies *policy.Store, gateway *store.Gateway, triggerTimeout time.Duration, maxDispatch int) *DeployService {
	if triggerTimeout <= 0 {
		triggerTimeout = 5 * time.Second
	}
	if maxDispatch <= 0 {
		maxDispatch = 8
	}
	return &DeployService{
		logger:   logger,
		registry: registry,
		auditLog: auditLog,
		policies: policies,
		gateway:  gateway,
		client:   &http.Client{Timeout: triggerTimeout},
		workers:  pool.New().WithMaxGoroutines(maxDispatch),
	}
}

// RequestDeploy evaluates the rollout gate for one device. Preconditions
// short-circuit in order: unknown device, anomalous device, already on
// target, lexicographic downgrade, and only then is a trigger dispatched.
// The caller never waits on the trigger call.
func (s *DeployService) RequestDeploy(ctx context.Context, deviceID string) (*DeployResult, error) {
	rec, ok := s.registry.Get(deviceID)
	if !ok {
		return nil, ErrDeviceNotFound
	}

	target := s.policies.Get().TargetFirmwareVersion

	if !rec.IsStable {
		s.auditLog.Append("BLOCKED → OTA for %s rejected (Risk: High Load)", deviceID)
		s.saveNow()
		return &DeployResult{Status: OutcomeBlocked, Reason: ReasonAnomaly}, nil
	}

	if rec.Version == target {
		s.auditLog.Append("SKIPPED → %s is already on v%s", deviceID, target)
		s.saveNow()
		return &DeployResult{Status: OutcomeSkipped, Reason: ReasonUpToDate}, nil
	}

	// Plain string ordering, deliberately conservative: free-form version
	// strings make real semver parsing unreliable here, so anything that
	// sorts above the target is treated as a downgrade attempt.
	if rec.Version > target {
		s.auditLog.Append("BLOCKED → Downgrade attack prevention. %s (v%s) > Target (v%s)", deviceID, rec.Version, target)
		s.saveNow()
		return &DeployResult{Status: OutcomeBlocked, Reason: ReasonDowngrade}, nil
	}

	s.auditLog.Append("DEPLOYING → %s (Stable). Sending trigger...", deviceID)
	s.logger.Info("ota deploy initiated",
		zap.String("deviceId", deviceID),
		zap.String("currentVersion", rec.Version),
		zap.String("targetVersion", target))
	s.saveNow()

	s.workers.Go(func() {
		s.dispatchTrigger(rec, target)
	})

	return &DeployResult{
		Status:        OutcomeInitiated,
		TargetIP:      rec.IP,
		TargetVersion: target,
	}, nil
}

// dispatchTrigger fires the OTA callback. It runs detached from the
// request that returned Initiated; its outcome is observed only by the
// audit log. No retries: timeout or connection failure is terminal for
// this attempt.
func (s *DeployService) dispatchTrigger(rec models.DeviceRecord, targetVersion string) {
	body, _ := json.Marshal(protocol.TriggerPayload{TargetVersion: targetVersion})
	url := fmt.Sprintf("http://%s/ota-trigger", net.JoinHostPort(rec.IP, strconv.Itoa(rec.OTAPort)))

	resp, err := s.client.Post(url, "application/json", bytes.NewReader(body))
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= http.StatusMultipleChoices {
			err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
	}

	if err != nil {
		s.auditLog.Append("FAILED → Connection error with %s: %v", rec.DeviceID, err)
		s.logger.Warn("ota trigger failed",
			zap.String("deviceId", rec.DeviceID),
			zap.String("url", url),
			zap.Error(err))
	} else {
		s.auditLog.Append("SUCCESS → %s updated to v%s", rec.DeviceID, targetVersion)
		s.logger.Info("ota trigger delivered",
			zap.String("deviceId", rec.DeviceID),
			zap.String("targetVersion", targetVersion))
	}
	s.saveNow()
}

// Close drains in-flight trigger dispatches.
func (s *DeployService) Close() {
	s.workers.Wait()
}

func (s *DeployService) saveNow() {
	_ = s.gateway.Save()
}
