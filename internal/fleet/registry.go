// Package fleet holds the authoritative in-memory state for the device
// fleet: one record per device plus the process-wide anomaly counter.
package fleet

import (
	"sync"

	"github.com/dushixiang/iotfw/internal/models"
)

// Registry owns the device records. Access is striped: the registry mutex
// only guards the map and insertion order, while each entry carries its own
// lock, so concurrent upserts for different devices never serialize against
// each other.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

type entry struct {
	mu      sync.Mutex
	present bool
	rec     models.DeviceRecord
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
	}
}

// Upsert fully replaces the stored record for rec.DeviceID, creating it on
// first sight. Last write wins by arrival order.
func (r *Registry) Upsert(rec models.DeviceRecord) {
	e := r.entry(rec.DeviceID)
	e.mu.Lock()
	e.rec = rec
	e.present = true
	e.mu.Unlock()
}

// Update atomically replaces the record for deviceID with fn's result. fn
// runs under the entry lock and sees the previous record together with
// whether the device was known, so check-then-act sequences (transition
// detection in particular) cannot interleave with a concurrent report for
// the same device. fn must not call back into the registry.
func (r *Registry) Update(deviceID string, fn func(prev models.DeviceRecord, known bool) models.DeviceRecord) {
	e := r.entry(deviceID)
	e.mu.Lock()
	e.rec = fn(e.rec, e.present)
	e.present = true
	e.mu.Unlock()
}

func (r *Registry) entry(deviceID string) *entry {
	r.mu.RLock()
	e, ok := r.entries[deviceID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[deviceID]; ok {
		return e
	}
	e = &entry{}
	r.entries[deviceID] = e
	r.order = append(r.order, deviceID)
	return e
}

// Get returns a copy of the record for deviceID.
func (r *Registry) Get(deviceID string) (models.DeviceRecord, bool) {
	r.mu.RLock()
	e, ok := r.entries[deviceID]
	r.mu.RUnlock()
	if !ok {
		return models.DeviceRecord{}, false
	}
	e.mu.Lock()
	rec, present := e.rec, e.present
	e.mu.Unlock()
	return rec, present
}

// List returns all records in insertion order.
func (r *Registry) List() []models.DeviceRecord {
	r.mu.RLock()
	order := make([]string, len(r.order))
	copy(order, r.order)
	entries := make([]*entry, 0, len(order))
	for _, id := range order {
		entries = append(entries, r.entries[id])
	}
	r.mu.RUnlock()

	records := make([]models.DeviceRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.present {
			records = append(records, e.rec)
		}
		e.mu.Unlock()
	}
	return records
}

// Map returns the fleet keyed by device ID, as exposed by /api/devices.
func (r *Registry) Map() map[string]models.DeviceRecord {
	records := r.List()
	out := make(map[string]models.DeviceRecord, len(records))
	for _, rec := range records {
		out[rec.DeviceID] = rec
	}
	return out
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Merge fills gaps from a restored snapshot: records already in memory win
// on conflict, restored records are inserted for unknown devices.
func (r *Registry) Merge(devices map[string]models.DeviceRecord) {
	for id, rec := range devices {
		rec.DeviceID = id
		restored := rec
		r.Update(id, func(prev models.DeviceRecord, known bool) models.DeviceRecord {
			if known {
				return prev
			}
			return restored
		})
	}
}
