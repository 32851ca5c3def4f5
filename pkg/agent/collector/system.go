// Package collector gathers the health snapshot the agent reports: CPU,
// memory, temperature and the extended disk/network/host fields.
package collector

import (
	"math"
	"time"

	"github.com/dushixiang/iotfw/internal/protocol"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/sensors"
)

const bytesPerMB = 1024 * 1024

// SystemCollector builds telemetry reports from the local machine.
type SystemCollector struct {
	deviceID string
	otaPort  int
}

func NewSystemCollector(deviceID string, otaPort int) *SystemCollector {
	return &SystemCollector{
		deviceID: deviceID,
		otaPort:  otaPort,
	}
}

// Collect samples the system. CPU sampling blocks for one second; callers
// should account for that in their reporting interval. Extended fields
// degrade to zero values on platforms that cannot provide them, only
// cpu/mem are treated as mandatory.
func (c *SystemCollector) Collect(version string) (protocol.TelemetryReport, error) {
	report := protocol.TelemetryReport{
		DeviceID:  c.deviceID,
		Version:   version,
		OTAPort:   c.otaPort,
		Timestamp: time.Now().Unix(),
	}

	percents, err := cpu.Percent(time.Second, false)
	if err != nil {
		return report, err
	}
	if len(percents) > 0 {
		report.CPU = round1(percents[0])
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return report, err
	}
	report.Mem = round1(vm.UsedPercent)

	if cores, err := cpu.Counts(true); err == nil {
		report.CPUCores = cores
	}

	if usage, err := disk.Usage("/"); err == nil {
		report.DiskUsage = round1(usage.UsedPercent)
	}

	if counters, err := net.IOCounters(false); err == nil && len(counters) > 0 {
		report.NetSentMB = round2(float64(counters[0].BytesSent) / bytesPerMB)
		report.NetRecvMB = round2(float64(counters[0].BytesRecv) / bytesPerMB)
	}

	if info, err := host.Info(); err == nil {
		report.BootTime = int64(info.BootTime)
	}

	report.Temp = round1(c.temperature(report.CPU))
	return report, nil
}

// temperature reads the first usable sensor. Many VMs and Windows hosts
// expose none, in which case it simulates a CPU-load-coupled value so the
// anomaly pipeline still has a plausible signal.
func (c *SystemCollector) temperature(cpuPercent float64) float64 {
	if stats, err := sensors.SensorsTemperatures(); err == nil {
		for _, stat := range stats {
			if stat.Temperature > 0 {
				return stat.Temperature
			}
		}
	}
	return 35.0 + cpuPercent/2.5
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
