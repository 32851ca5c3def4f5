package models

import "slices"

// RolloutPolicy is the externally owned rollout configuration. Thresholds
// are exclusive lower bounds: a report is anomalous when the value is
// strictly greater than the threshold.
type RolloutPolicy struct {
	CPUThreshold          float64  `json:"cpu_threshold"`
	MemThreshold          float64  `json:"mem_threshold"`
	TargetFirmwareVersion string   `json:"target_firmware_version"`
	AllowedDevices        []string `json:"allowed_devices"`
}

// DefaultPolicy returns the documented defaults, used when no policy file
// has ever been loaded and written out on first start.
func DefaultPolicy() RolloutPolicy {
	return RolloutPolicy{
		CPUThreshold:          85.0,
		MemThreshold:          90.0,
		TargetFirmwareVersion: "2.1.5",
		AllowedDevices:        []string{"iot-001", "iot-002", "sensor-03"},
	}
}

// Allows reports whether a device is on the allow-list. An empty list
// admits nothing.
func (p RolloutPolicy) Allows(deviceID string) bool {
	return slices.Contains(p.AllowedDevices, deviceID)
}
