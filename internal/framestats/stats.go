// Package framestats measures pipeline throughput from processed-frame
// timestamps over a bounded window.
package framestats

import (
	"math"
	"sync"
	"time"
)

const (
	// DefaultWindowSize is the number of most recent frames kept
	DefaultWindowSize = 120

	// fpsStabilityThreshold is the maximum FPS stddev as a fraction of mean FPS.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum mean jitter as a fraction of the
	// expected inter-frame interval.
	jitterStabilityThreshold = 0.20
)

// Stats summarizes throughput over the window.
type Stats struct {
	Frames     int           `json:"frames"`
	Span       time.Duration `json:"span"`
	FPSMean    float64       `json:"fps_mean"`
	FPSStdDev  float64       `json:"fps_stddev"`
	FPSMin     float64       `json:"fps_min"`
	FPSMax     float64       `json:"fps_max"`
	JitterMean float64       `json:"jitter_mean_s"`
	JitterMax  float64       `json:"jitter_max_s"`
	IsStable   bool          `json:"stable"`
}

// Window is a thread-safe ring buffer of frame completion times.
type Window struct {
	mu    sync.Mutex
	times []time.Time
	next  int
	count int
}

// NewWindow creates a window holding up to size timestamps.
func NewWindow(size int) *Window {
	if size < 2 {
		size = DefaultWindowSize
	}
	return &Window{times: make([]time.Time, size)}
}

// Add records one frame completion.
func (w *Window) Add(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.times[w.next] = t
	w.next = (w.next + 1) % len(w.times)
	if w.count < len(w.times) {
		w.count++
	}
}

// Stats computes statistics over the recorded timestamps, oldest first.
func (w *Window) Stats() Stats {
	w.mu.Lock()
	ordered := make([]time.Time, 0, w.count)
	start := (w.next - w.count + len(w.times)) % len(w.times)
	for i := 0; i < w.count; i++ {
		ordered = append(ordered, w.times[(start+i)%len(w.times)])
	}
	w.mu.Unlock()

	return Calculate(ordered)
}

// Calculate derives FPS and jitter statistics from ordered timestamps.
//
// FPSMean is intervals/span; instantaneous FPS is 1/interval for every
// positive interval. Jitter is |interval - expected interval|. The series is
// stable when stddev < 15% of mean FPS and mean jitter < 20% of the
// expected interval.
func Calculate(times []time.Time) Stats {
	n := len(times)
	if n < 2 {
		return Stats{Frames: n}
	}

	span := times[n-1].Sub(times[0])
	if span <= 0 {
		return Stats{Frames: n, Span: span}
	}

	fpsMean := float64(n-1) / span.Seconds()
	expected := 1.0 / fpsMean

	st := Stats{Frames: n, Span: span, FPSMean: fpsMean}

	var fpsSq, jitterSum float64
	var valid int
	for i := 1; i < n; i++ {
		interval := times[i].Sub(times[i-1]).Seconds()

		jitter := math.Abs(interval - expected)
		jitterSum += jitter
		if jitter > st.JitterMax {
			st.JitterMax = jitter
		}

		if interval <= 0 {
			continue
		}
		fps := 1.0 / interval
		if valid == 0 || fps < st.FPSMin {
			st.FPSMin = fps
		}
		if fps > st.FPSMax {
			st.FPSMax = fps
		}
		diff := fps - fpsMean
		fpsSq += diff * diff
		valid++
	}

	if valid > 0 {
		st.FPSStdDev = math.Sqrt(fpsSq / float64(valid))
	}
	st.JitterMean = jitterSum / float64(n-1)
	st.IsStable = valid > 0 &&
		st.FPSStdDev < fpsMean*fpsStabilityThreshold &&
		st.JitterMean < expected*jitterStabilityThreshold

	return st
}
