package peoplecounter

import (
	"fmt"
	"log/slog"
	"time"
)

// DefaultDebounceWindow is how long a raw count must persist before it is
// accepted as the settled occupancy.
const DefaultDebounceWindow = time.Second

// OccupancyState is the tracker's persistent state, mutated once per frame.
type OccupancyState struct {
	LastRawCount int `json:"last_raw_count"`
	// DebounceAnchor is the last time the raw count changed
	DebounceAnchor    time.Time `json:"debounce_anchor"`
	DebounceAnchorSet bool      `json:"debounce_anchor_set"`

	DebouncedCount     int `json:"debounced_count"`
	DebouncedLastCount int `json:"debounced_last_count"`

	// TotalEntries only ever increases
	TotalEntries int `json:"total_entries"`

	// OccupancyStart is when the current occupants were confirmed present
	OccupancyStart    time.Time `json:"occupancy_start"`
	OccupancyStartSet bool      `json:"occupancy_start_set"`

	// LastUpdate is the timestamp of the previous Update call
	LastUpdate    time.Time `json:"last_update"`
	LastUpdateSet bool      `json:"last_update_set"`
}

// Tracker is the debounce state machine converting per-frame raw counts
// into a settled count, a cumulative entry counter and dwell durations.
//
// A Tracker is owned by a single goroutine; Update must be called exactly
// once per processed frame, in frame order.
type Tracker struct {
	window time.Duration
	state  OccupancyState
}

// NewTracker creates a tracker with the given debounce window.
//
// Returns an error if the window is negative.
func NewTracker(window time.Duration) (*Tracker, error) {
	if window < 0 {
		return nil, &ConfigurationError{
			Field:  "debounce_window",
			Reason: fmt.Sprintf("%v must not be negative", window),
		}
	}
	return &Tracker{window: window}, nil
}

// Window returns the configured debounce window.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// Update feeds the raw count of one frame observed at now.
//
// Sequence:
//  1. a changed raw count re-anchors the debounce window
//  2. a raw count held for longer than the window is committed
//  3. a rising edge records the arrival time and adds to TotalEntries
//  4. a falling edge reports the dwell duration since the last arrival
//  5. the live count is always reported
//
// A now earlier than the previous update is clamped to the previous update.
func (t *Tracker) Update(rawCount int, now time.Time) TransitionResult {
	s := &t.state

	if s.LastUpdateSet && now.Before(s.LastUpdate) {
		slog.Warn("tracker: non-monotonic timestamp, clamping",
			"now", now,
			"last_update", s.LastUpdate,
		)
		now = s.LastUpdate
	}
	s.LastUpdate = now
	s.LastUpdateSet = true

	if rawCount != s.LastRawCount || !s.DebounceAnchorSet {
		s.DebounceAnchor = now
		s.DebounceAnchorSet = true
	}
	s.LastRawCount = rawCount

	if now.Sub(s.DebounceAnchor) > t.window && rawCount != s.DebouncedCount {
		s.DebouncedCount = rawCount
	}

	result := TransitionResult{
		At:             now,
		RawCount:       rawCount,
		DebouncedCount: s.DebouncedCount,
		Delta:          s.DebouncedCount - s.DebouncedLastCount,
		Live:           LiveCountEvent{Count: s.DebouncedCount},
	}

	switch {
	case result.Delta > 0:
		s.OccupancyStart = now
		s.OccupancyStartSet = true
		s.TotalEntries += result.Delta
		result.Arrival = &ArrivalEvent{TotalEntries: s.TotalEntries}

	case result.Delta < 0:
		if s.OccupancyStartSet {
			result.Departure = &DepartureEvent{Duration: now.Sub(s.OccupancyStart)}
		} else {
			result.DepartureSuppressed = true
			slog.Warn("tracker: falling edge before any arrival, duration not reported",
				"debounced_count", s.DebouncedCount,
				"debounced_last_count", s.DebouncedLastCount,
			)
		}
	}

	s.DebouncedLastCount = s.DebouncedCount

	return result
}

// Pending reports whether the latest raw count differs from the settled
// count, i.e. a change is waiting inside the debounce window.
func (t *Tracker) Pending() bool {
	return t.state.LastRawCount != t.state.DebouncedCount
}

// State returns a copy of the current occupancy state.
func (t *Tracker) State() OccupancyState {
	return t.state
}
