package protocol

// TelemetryReport is one health snapshot submitted by a device. Field names
// match the agent's JSON payload; validation happens at ingestion, before
// the report reaches the fleet services.
type TelemetryReport struct {
	DeviceID  string  `json:"device_id" validate:"required"`
	CPU       float64 `json:"cpu" validate:"min=0,max=100"`
	Mem       float64 `json:"mem" validate:"min=0,max=100"`
	Temp      float64 `json:"temp"`
	Version   string  `json:"version" validate:"required"`
	Timestamp int64   `json:"timestamp" validate:"required"`

	// Extended fields, all optional.
	DiskUsage float64 `json:"disk_usage,omitempty"`
	NetSentMB float64 `json:"net_sent_mb,omitempty"`
	NetRecvMB float64 `json:"net_recv_mb,omitempty"`
	BootTime  int64   `json:"boot_time,omitempty"`
	CPUCores  int     `json:"cpu_cores,omitempty"`
	OTAPort   int     `json:"ota_port,omitempty" validate:"omitempty,min=1,max=65535"`
}

// DefaultOTAPort is assumed when a report carries no ota_port.
const DefaultOTAPort = 8000

// TriggerPayload is the body of the outbound OTA trigger call
// (POST http://{ip}:{ota_port}/ota-trigger).
type TriggerPayload struct {
	TargetVersion string `json:"target_version"`
}

// StatsResponse is the /api/stats document: fleet size, the process-wide
// anomaly report counter and the most recent audit entries, newest first.
type StatsResponse struct {
	Total     int      `json:"total"`
	Anomalies int64    `json:"anomalies"`
	Log       []string `json:"log"`
}
