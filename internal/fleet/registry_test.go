package fleet

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dushixiang/iotfw/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id, version string, cpu float64) models.DeviceRecord {
	return models.DeviceRecord{
		DeviceID: id,
		CPU:      cpu,
		Version:  version,
		Status:   models.StatusStable,
		IsStable: true,
	}
}

func TestUpsertReplacesWholeRecord(t *testing.T) {
	r := NewRegistry()
	r.Upsert(models.DeviceRecord{DeviceID: "iot-001", CPU: 50, DiskUsage: 70, Version: "1.0.0"})
	r.Upsert(models.DeviceRecord{DeviceID: "iot-001", CPU: 20, Version: "1.0.1"})

	rec, ok := r.Get("iot-001")
	require.True(t, ok)
	assert.Equal(t, "1.0.1", rec.Version)
	assert.Equal(t, 20.0, rec.CPU)
	// no partial merge: fields absent from the new record are zeroed
	assert.Equal(t, 0.0, rec.DiskUsage)
}

func TestGetUnknownDevice(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("ghost")
	assert.False(t, ok)
}

func TestListKeepsInsertionOrder(t *testing.T) {
	r := NewRegistry()
	ids := []string{"iot-003", "iot-001", "sensor-03", "iot-002"}
	for _, id := range ids {
		r.Upsert(record(id, "1.0.0", 10))
	}
	// re-reporting must not move a device
	r.Upsert(record("iot-003", "1.0.1", 12))

	records := r.List()
	require.Len(t, records, 4)
	for i, id := range ids {
		assert.Equal(t, id, records[i].DeviceID)
	}
}

func TestMergeExistingKeysWin(t *testing.T) {
	r := NewRegistry()
	r.Upsert(record("iot-001", "2.0.0", 33))

	r.Merge(map[string]models.DeviceRecord{
		"iot-001": record("iot-001", "1.0.0", 99),
		"iot-002": record("iot-002", "1.5.0", 41),
	})

	rec, ok := r.Get("iot-001")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", rec.Version, "live record must win over restored one")

	rec, ok = r.Get("iot-002")
	require.True(t, ok)
	assert.Equal(t, "1.5.0", rec.Version)
	assert.Equal(t, 2, r.Len())
}

func TestUpdateSeesPreviousRecord(t *testing.T) {
	r := NewRegistry()

	r.Update("iot-001", func(prev models.DeviceRecord, known bool) models.DeviceRecord {
		assert.False(t, known)
		return record("iot-001", "1.0.0", 10)
	})
	r.Update("iot-001", func(prev models.DeviceRecord, known bool) models.DeviceRecord {
		assert.True(t, known)
		assert.Equal(t, "1.0.0", prev.Version)
		return record("iot-001", "1.0.1", 12)
	})

	rec, ok := r.Get("iot-001")
	require.True(t, ok)
	assert.Equal(t, "1.0.1", rec.Version)
}

func TestUpdateFirstSightIsExclusive(t *testing.T) {
	r := NewRegistry()

	var firstSights atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Update("iot-001", func(prev models.DeviceRecord, known bool) models.DeviceRecord {
				if !known {
					firstSights.Add(1)
				}
				return record("iot-001", "1.0.0", 10)
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), firstSights.Load(), "only one updater may observe the device as unknown")
	assert.Equal(t, 1, r.Len())
}

func TestConcurrentUpserts(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("iot-%03d", n%4)
			for j := 0; j < 100; j++ {
				r.Upsert(record(id, "1.0.0", float64(j)))
				r.Get(id)
				r.List()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, r.Len())
}
