package metrics

import (
	"context"
	"sync"
	"time"
)

// Memory keeps every event in memory. It is meant for tests and for the
// CLI's end-of-run summary.
type Memory struct {
	mu      sync.Mutex
	counts  map[string]int64
	gauges  map[string]int64
	timings map[string][]time.Duration
}

func NewMemory() *Memory {
	return &Memory{
		counts:  make(map[string]int64),
		gauges:  make(map[string]int64),
		timings: make(map[string][]time.Duration),
	}
}

func (m *Memory) Count(_ context.Context, name string, v int64) {
	m.mu.Lock()
	m.counts[name] += v
	m.mu.Unlock()
}

func (m *Memory) Gauge(_ context.Context, name string, v int64) {
	m.mu.Lock()
	m.gauges[name] = v
	m.mu.Unlock()
}

func (m *Memory) Timing(_ context.Context, name string, d time.Duration) {
	m.mu.Lock()
	m.timings[name] = append(m.timings[name], d)
	m.mu.Unlock()
}

// Counter returns the accumulated count for name.
func (m *Memory) Counter(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

// LastGauge returns the last recorded gauge value and whether one exists.
func (m *Memory) LastGauge(name string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.gauges[name]
	return v, ok
}

func (m *Memory) Timings(name string) []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.timings[name]...)
}

// Counters returns a copy of all counters.
func (m *Memory) Counters() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}
