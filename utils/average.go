package utils

import (
	"sync"

	"github.com/montanaflynn/stats"
)

// RollingWindow keeps the last N samples of a measurement, such as a loop's iteration time.
type RollingWindow struct {
	mu    sync.Mutex
	data  []float64
	pos   int
	count int
}

// NewRollingWindow returns a window holding numSamples samples.
func NewRollingWindow(numSamples int) *RollingWindow {
	if numSamples < 1 {
		numSamples = 1
	}
	return &RollingWindow{data: make([]float64, numSamples)}
}

// NumSamples is the capacity of the window.
func (rw *RollingWindow) NumSamples() int {
	return len(rw.data)
}

// Len is the number of samples currently held.
func (rw *RollingWindow) Len() int {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.count
}

// Add records x, evicting the oldest sample once full.
func (rw *RollingWindow) Add(x float64) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.data[rw.pos] = x
	rw.pos = (rw.pos + 1) % len(rw.data)
	if rw.count < len(rw.data) {
		rw.count++
	}
}

// Samples returns a copy of the held samples, oldest first.
func (rw *RollingWindow) Samples() []float64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	out := make([]float64, 0, rw.count)
	start := (rw.pos - rw.count + len(rw.data)) % len(rw.data)
	for i := 0; i < rw.count; i++ {
		out = append(out, rw.data[(start+i)%len(rw.data)])
	}
	return out
}

// WindowSummary describes the samples of a RollingWindow.
type WindowSummary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	P99   float64 `json:"p99"`
	Max   float64 `json:"max"`
}

// Summary computes the mean, 99th percentile and maximum of the window. An empty window gives
// the zero summary.
func (rw *RollingWindow) Summary() WindowSummary {
	samples := stats.Float64Data(rw.Samples())
	if len(samples) == 0 {
		return WindowSummary{}
	}
	// errors are only returned for empty input
	mean, _ := samples.Mean()
	p99, _ := samples.Percentile(99)
	maxVal, _ := samples.Max()
	return WindowSummary{Count: len(samples), Mean: mean, P99: p99, Max: maxVal}
}
