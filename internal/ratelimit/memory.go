package ratelimit

import (
	"sync"
	"time"
)

// MemoryBucket is the single-process fallback used when redis is not
// configured. Same refill semantics as the redis script.
type MemoryBucket struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	tokens float64
	ts     time.Time
}

func NewMemoryBucket() *MemoryBucket {
	return &MemoryBucket{entries: map[string]*memoryEntry{}}
}

func (m *MemoryBucket) Allow(key string, rate float64, burst int) bool {
	if key == "" || rate <= 0 || burst <= 0 {
		return false
	}

	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		entry = &memoryEntry{tokens: float64(burst), ts: now}
		m.entries[key] = entry
	} else {
		delta := now.Sub(entry.ts).Seconds()
		if delta < 0 {
			delta = 0
		}
		entry.tokens = minFloat(float64(burst), entry.tokens+delta*rate)
		entry.ts = now
	}

	if entry.tokens >= 1 {
		entry.tokens--
		return true
	}
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
