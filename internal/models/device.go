package models

// DeviceStatus classifies a device's stability from its latest telemetry.
type DeviceStatus string

const (
	StatusStable  DeviceStatus = "Stable"
	StatusAnomaly DeviceStatus = "Anomaly"
)

// DeviceRecord is the live state kept for one device, keyed by DeviceID.
// Status and IsStable are always derived from the most recent accepted
// telemetry together with the policy thresholds; they are never set
// independently.
type DeviceRecord struct {
	DeviceID string  `json:"device_id"`
	CPU      float64 `json:"cpu"`
	Mem      float64 `json:"mem"`
	Temp     float64 `json:"temp"`
	Version  string  `json:"version"`

	DiskUsage float64 `json:"disk_usage"`
	NetSentMB float64 `json:"net_sent_mb"`
	NetRecvMB float64 `json:"net_recv_mb"`
	BootTime  int64   `json:"boot_time"`
	CPUCores  int     `json:"cpu_cores"`

	// IP and OTAPort are refreshed on every accepted report; a device may
	// come back on a different address after a restart.
	IP      string `json:"ip"`
	OTAPort int    `json:"ota_port"`

	Status   DeviceStatus `json:"status"`
	IsStable bool         `json:"is_stable"`

	// Timestamp is the epoch-seconds timestamp embedded in the report,
	// LastSeenAt the server-side arrival time in Unix milliseconds.
	Timestamp  int64 `json:"timestamp"`
	LastSeenAt int64 `json:"last_seen_at"`
}

// Snapshot is the whole-document durable form of the server state. It is
// written as one JSON file and read back whole on startup.
type Snapshot struct {
	Devices      map[string]DeviceRecord `json:"devices"`
	OTALog       []string                `json:"ota_log"`
	AnomalyCount int64                   `json:"anomaly_count"`
}
