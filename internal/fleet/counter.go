package fleet

import "sync/atomic"

// AnomalyCounter counts anomalous telemetry reports. It is a report
// counter, not a transition counter: every report classified as an anomaly
// increments it, even when the device was already anomalous.
type AnomalyCounter struct {
	n atomic.Int64
}

func (c *AnomalyCounter) Inc() int64   { return c.n.Add(1) }
func (c *AnomalyCounter) Value() int64 { return c.n.Load() }

// Restore overwrites the counter from a snapshot. Only the persistence
// gateway calls this, during startup restore.
func (c *AnomalyCounter) Restore(v int64) { c.n.Store(v) }
