package claim

import (
	"context"
	"sync"
	"time"

	"github.com/modelwatch/modelwatch/internal/schedule"
)

// Memory is the single-writer topology: all claim requests are
// serialized through one instance, so a plain existence check under a
// mutex gives the same at-most-once guarantee without any storage
// uniqueness constraint. Useful when the backing store cannot enforce
// uniqueness across replicas, and as the claim substrate in tests.
type Memory struct {
	Retention time.Duration

	mu      sync.Mutex
	claims  map[string]time.Time
	opCount uint64
}

func NewMemory(retention time.Duration) *Memory {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Memory{
		Retention: retention,
		claims:    make(map[string]time.Time),
	}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) TryClaim(_ context.Context, taskID string, minute time.Time) (bool, error) {
	key := taskID + ":" + schedule.MinuteKey(minute)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.claims[key]; exists {
		return false, nil
	}
	m.claims[key] = time.Now()

	// Amortized cleanup so the map stays bounded without a dedicated
	// background goroutine.
	m.opCount++
	if m.opCount%512 == 0 {
		m.purgeLocked(time.Now().Add(-m.Retention))
	}
	return true, nil
}

// Purge drops claims recorded before the cutoff.
func (m *Memory) Purge(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(cutoff)
}

func (m *Memory) purgeLocked(cutoff time.Time) {
	for key, at := range m.claims {
		if at.Before(cutoff) {
			delete(m.claims, key)
		}
	}
}
