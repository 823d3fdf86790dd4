package trinity

import (
	"sync"
	"time"
)

// driftWindowSize is the number of end-to-end latency samples retained.
const driftWindowSize = 100

// LatencyMonitor keeps a rolling window of end-to-end request latencies for
// drift detection. Single-writer via its mutex; reads take a short lock.
type LatencyMonitor struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  bool
}

// NewLatencyMonitor creates a monitor with the standard window size.
func NewLatencyMonitor() *LatencyMonitor {
	return &LatencyMonitor{samples: make([]time.Duration, driftWindowSize)}
}

// Observe records one end-to-end latency sample.
func (m *LatencyMonitor) Observe(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[m.next] = d
	m.next++
	if m.next == len(m.samples) {
		m.next = 0
		m.filled = true
	}
}

// Mean returns the rolling-window mean latency (zero before any sample).
func (m *LatencyMonitor) Mean() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := m.next
	if m.filled {
		count = len(m.samples)
	}
	if count == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < count; i++ {
		sum += m.samples[i]
	}
	return sum / time.Duration(count)
}

// Count returns the number of samples currently in the window.
func (m *LatencyMonitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.filled {
		return len(m.samples)
	}
	return m.next
}
