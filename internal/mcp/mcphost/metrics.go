package mcphost

import (
	"slices"
	"sync"
	"time"
)

// defaultWindowSize is the number of recent attempts kept per tool.
const defaultWindowSize = 100

// sample is one recorded tool call attempt.
type sample struct {
	latency time.Duration
	failed  bool
}

// callWindow keeps the last N attempts of one tool in a ring buffer so that
// percentiles and the error rate reflect recent behaviour only.
// All methods are safe for concurrent use.
type callWindow struct {
	mu      sync.Mutex
	samples []sample
	pos     int // next write position
	total   int // attempts recorded since creation; may exceed len(samples)
}

// newCallWindow creates a window with the given capacity. A size of 0 or
// less uses defaultWindowSize.
func newCallWindow(size int) *callWindow {
	if size <= 0 {
		size = defaultWindowSize
	}
	return &callWindow{samples: make([]sample, size)}
}

// Record adds one attempt, overwriting the oldest once the buffer is full.
func (w *callWindow) Record(latency time.Duration, failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.pos] = sample{latency: latency, failed: failed}
	w.pos = (w.pos + 1) % len(w.samples)
	w.total++
}

// live returns the meaningful part of the buffer. Caller holds mu.
func (w *callWindow) live() []sample {
	return w.samples[:min(w.total, len(w.samples))]
}

// percentile returns the q-quantile (0 < q ≤ 1) latency in milliseconds.
// Caller holds mu.
func (w *callWindow) percentile(q float64) int64 {
	live := w.live()
	if len(live) == 0 {
		return 0
	}
	ms := make([]int64, len(live))
	for i, s := range live {
		ms[i] = s.latency.Milliseconds()
	}
	slices.Sort(ms)
	return ms[int(float64(len(ms)-1)*q)]
}

// windowStats is a consistent snapshot of a callWindow.
type windowStats struct {
	P50Ms     int64
	P99Ms     int64
	Count     int
	ErrorRate float64
}

// Snapshot returns percentiles, the total attempt count, and the fraction of
// failed attempts within the window.
func (w *callWindow) Snapshot() windowStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := windowStats{Count: w.total}
	live := w.live()
	if len(live) == 0 {
		return st
	}
	failed := 0
	for _, s := range live {
		if s.failed {
			failed++
		}
	}
	st.ErrorRate = float64(failed) / float64(len(live))
	st.P50Ms = w.percentile(0.5)
	st.P99Ms = w.percentile(0.99)
	return st
}
