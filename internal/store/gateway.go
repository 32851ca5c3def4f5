// Package store persists the server state as one JSON snapshot document:
// every device record, the full audit log and the anomaly counter, written
// whole and read back whole on startup.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dushixiang/iotfw/internal/audit"
	"github.com/dushixiang/iotfw/internal/fleet"
	"github.com/dushixiang/iotfw/internal/models"
	"github.com/go-errors/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Gateway snapshots the registry, audit log and anomaly counter to a single
// file. Saves are synchronous for the caller but never fatal: a failed
// write is logged and the next successful save carries the state forward.
type Gateway struct {
	fs       afero.Fs
	path     string
	registry *fleet.Registry
	log      *audit.Log
	counter  *fleet.AnomalyCounter
	logger   *zap.Logger

	mu    sync.Mutex // serializes snapshot writes
	dirty atomic.Bool
}

func NewGateway(fs afero.Fs, path string, registry *fleet.Registry, log *audit.Log, counter *fleet.AnomalyCounter, logger *zap.Logger) *Gateway {
	return &Gateway{
		fs:       fs,
		path:     path,
		registry: registry,
		log:      log,
		counter:  counter,
		logger:   logger,
	}
}

// Save writes a full snapshot. The write is atomic (temp file + rename) so
// a crash mid-write leaves the previous snapshot intact. The returned error
// is informational; callers treat persistence failures as non-fatal.
func (g *Gateway) Save() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := models.Snapshot{
		Devices:      g.registry.Map(),
		OTALog:       g.log.All(),
		AnomalyCount: g.counter.Value(),
	}

	data, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return errors.Wrap(err, 0)
	}

	tmp := g.path + ".tmp"
	if err := afero.WriteFile(g.fs, tmp, data, 0o644); err != nil {
		g.logger.Error("snapshot write failed", zap.String("path", g.path), zap.Error(err))
		return errors.Wrap(err, 0)
	}
	if err := g.fs.Rename(tmp, g.path); err != nil {
		g.logger.Error("snapshot rename failed", zap.String("path", g.path), zap.Error(err))
		return errors.Wrap(err, 0)
	}

	g.dirty.Store(false)
	return nil
}

// MarkDirty notes that in-memory state has drifted from the last snapshot.
// The flush scheduler picks it up; events the design marks security
// relevant call Save directly instead.
func (g *Gateway) MarkDirty() {
	g.dirty.Store(true)
}

// FlushIfDirty saves when something changed since the last snapshot.
func (g *Gateway) FlushIfDirty() {
	if g.dirty.Load() {
		_ = g.Save()
	}
}

// Restore loads the snapshot, if any, into the live state. Devices merge
// into the registry with in-memory records winning on conflict; the audit
// log is replaced only when the snapshot carried entries; the counter is
// restored as-is. A missing snapshot leaves everything at zero values.
func (g *Gateway) Restore() error {
	data, err := afero.ReadFile(g.fs, g.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, 0)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.Wrap(err, 0)
	}

	g.registry.Merge(snap.Devices)
	if len(snap.OTALog) > 0 {
		g.log.Replace(snap.OTALog)
	}
	g.counter.Restore(snap.AnomalyCount)

	g.logger.Info("state restored",
		zap.String("path", filepath.Clean(g.path)),
		zap.Int("devices", len(snap.Devices)),
		zap.Int("logEntries", len(snap.OTALog)),
		zap.Int64("anomalyCount", snap.AnomalyCount))
	return nil
}
