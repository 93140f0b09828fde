package peoplecounter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/e7canasta/orion-care-sensor/modules/people-counter/internal/framestats"
)

// DefaultMaxConsecutiveFailures is the number of consecutive per-frame
// inference failures tolerated before the driver gives up.
const DefaultMaxConsecutiveFailures = 10

// Config contains the runtime settings of the driver.
type Config struct {
	// Threshold is the probability threshold in [0,1]
	Threshold float64
	// DebounceWindow defaults to DefaultDebounceWindow when zero
	DebounceWindow time.Duration
	// InferenceTimeout bounds each wait on a slot; zero waits without limit
	InferenceTimeout time.Duration
	// MaxConsecutiveFailures defaults to DefaultMaxConsecutiveFailures when zero
	MaxConsecutiveFailures int
	// Emitter configures topics and payload encoding
	Emitter EmitterConfig
}

// Dependencies are the collaborators the driver threads frames through.
// Source, Engine and Transport are required; Overlay and Sink are optional.
type Dependencies struct {
	Source    FrameSource
	Engine    InferenceEngine
	Transport Transport
	Overlay   Overlay
	Sink      FrameSink
	// Clock defaults to the wall clock
	Clock clock.Clock
}

// Stats is a snapshot of driver counters, safe to read from any goroutine.
type Stats struct {
	Running              bool             `json:"running"`
	FramesProcessed      uint64           `json:"frames_processed"`
	FramesSkipped        uint64           `json:"frames_skipped"`
	ConsecutiveFailures  int              `json:"consecutive_failures"`
	LastInferenceLatency time.Duration    `json:"last_inference_latency"`
	LastRawCount         int              `json:"last_raw_count"`
	MessagesPublished    uint64           `json:"messages_published"`
	PublishFailures      uint64           `json:"publish_failures"`
	Occupancy            OccupancyState   `json:"occupancy"`
	Throughput           framestats.Stats `json:"throughput"`
}

// Driver is the per-frame control loop:
//
//	capture → inference → ParseDetections → Tracker → Emitter → overlay/sink
//
// One Driver owns one Tracker. Run takes ownership of every collaborator it
// was given that can be closed and releases them on every exit path.
type Driver struct {
	cfg  Config
	deps Dependencies

	clock   clock.Clock
	tracker *Tracker
	emitter *Emitter
	window  *framestats.Window

	running         atomic.Bool
	framesProcessed atomic.Uint64
	framesSkipped   atomic.Uint64

	// consecutiveFailures is only touched by the Run goroutine
	consecutiveFailures int

	mu       sync.RWMutex
	snapshot OccupancyState
	lastRaw  int
	lastLat  time.Duration
	lastFail int
}

// inflight is a frame whose inference request occupies a slot.
type inflight struct {
	slot        int
	frame       Frame
	submittedAt time.Time
}

// NewDriver validates the configuration and wires the core components.
//
// Fail-fast validation:
//   - Threshold must be in [0,1]
//   - Source, Engine and Transport must be set
//   - the engine must expose at least one slot
//
// Returns a *ConfigurationError when validation fails.
func NewDriver(cfg Config, deps Dependencies) (*Driver, error) {
	if err := ValidateThreshold(cfg.Threshold); err != nil {
		return nil, err
	}
	if deps.Source == nil {
		return nil, &ConfigurationError{Field: "input", Reason: "frame source is required"}
	}
	if deps.Engine == nil {
		return nil, &ConfigurationError{Field: "model", Reason: "inference engine is required"}
	}
	if deps.Transport == nil {
		return nil, &ConfigurationError{Field: "mqtt", Reason: "transport is required"}
	}
	if deps.Engine.Slots() < 1 {
		return nil, &ConfigurationError{Field: "request_slots", Reason: "engine exposes no request slots"}
	}
	if cfg.InferenceTimeout < 0 {
		return nil, &ConfigurationError{Field: "inference_timeout", Reason: "must not be negative"}
	}

	if cfg.DebounceWindow == 0 {
		cfg.DebounceWindow = DefaultDebounceWindow
	}
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}

	tracker, err := NewTracker(cfg.DebounceWindow)
	if err != nil {
		return nil, err
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Driver{
		cfg:     cfg,
		deps:    deps,
		clock:   clk,
		tracker: tracker,
		emitter: NewEmitter(cfg.Emitter),
		window:  framestats.NewWindow(framestats.DefaultWindowSize),
	}, nil
}

// Run processes frames until end of stream, ctx cancellation or an
// unrecoverable error.
//
// Returns nil on end of stream and ctx.Err() on cancellation. Per-frame
// inference failures are logged and skipped; more than
// MaxConsecutiveFailures in a row returns ErrTooManyFailures.
func (d *Driver) Run(ctx context.Context) (err error) {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("driver: already running")
	}
	defer d.running.Store(false)
	defer func() {
		err = multierr.Append(err, d.release())
	}()

	width, height := d.deps.Source.Dimensions()
	slots := d.deps.Engine.Slots()
	busy := make([]bool, slots)
	queue := make([]inflight, 0, slots)

	slog.Info("driver: processing frames",
		"frame_size", fmt.Sprintf("%dx%d", width, height),
		"input_shape", d.deps.Engine.InputShape().String(),
		"slots", slots,
		"threshold", d.cfg.Threshold,
		"debounce_window", d.cfg.DebounceWindow,
		"inference_timeout", d.cfg.InferenceTimeout,
	)

	// abandoned holds timed-out requests whose slot is still held by the
	// engine, oldest first. Their slots stay busy until a Poll drains them.
	var abandoned []inflight

	endOfStream := false
	for {
		// Keep every free slot busy; the queue stays in frame order
		for !endOfStream {
			slot := freeSlot(busy)
			if slot < 0 {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			frame, err := d.deps.Source.NextFrame(ctx)
			if errors.Is(err, ErrEndOfStream) {
				slog.Info("driver: end of stream", "frames_processed", d.framesProcessed.Load())
				endOfStream = true
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("driver: capture failed: %w", err)
			}

			submittedAt := d.clock.Now()
			if err := d.deps.Engine.Submit(slot, frame); err != nil {
				if ferr := d.frameFailed(frame, err); ferr != nil {
					return ferr
				}
				continue
			}
			busy[slot] = true
			queue = append(queue, inflight{slot: slot, frame: frame, submittedAt: submittedAt})
		}

		// Out of slots: win back the oldest abandoned one before waiting
		// on the queue head
		if !endOfStream && len(abandoned) > 0 {
			drained, err := d.reclaim(ctx, abandoned[0])
			if err != nil {
				return err
			}
			if drained {
				busy[abandoned[0].slot] = false
				abandoned = abandoned[1:]
			}
			continue
		}

		if len(queue) == 0 {
			return nil
		}

		head := queue[0]
		queue = queue[1:]

		timedOut, err := d.complete(ctx, head, width, height)
		if err != nil {
			return err
		}
		if timedOut {
			abandoned = append(abandoned, head)
			continue
		}
		busy[head.slot] = false
	}
}

// complete waits for the oldest in-flight request and runs it through the
// parser, tracker and emitter. timedOut reports that the request is still
// running and its slot must not be reused yet.
func (d *Driver) complete(ctx context.Context, f inflight, width, height int) (timedOut bool, err error) {
	status, err := d.deps.Engine.Poll(ctx, f.slot, d.cfg.InferenceTimeout)
	latency := d.clock.Since(f.submittedAt)

	switch status {
	case PollReady:
	case PollPending:
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, d.frameFailed(f.frame, fmt.Errorf("%w: slot %d after %v", ErrInferenceTimeout, f.slot, latency))
	default:
		if err == nil {
			err = fmt.Errorf("slot %d reported failure", f.slot)
		}
		if !errors.Is(err, ErrInferenceFailed) {
			err = fmt.Errorf("%w: %v", ErrInferenceFailed, err)
		}
		return false, d.frameFailed(f.frame, err)
	}

	tensor, err := d.deps.Engine.Output(f.slot)
	if err != nil {
		if !IsFrameFailure(err) {
			err = fmt.Errorf("%w: %v", ErrInferenceFailed, err)
		}
		return false, d.frameFailed(f.frame, err)
	}

	detections, rawCount, err := ParseDetections(tensor, d.cfg.Threshold, width, height)
	if err != nil {
		return false, d.frameFailed(f.frame, err)
	}
	d.consecutiveFailures = 0

	result := FrameResult{
		Seq:              f.frame.Seq,
		RawCount:         rawCount,
		Detections:       detections,
		InferenceLatency: latency,
		MeanConfidence:   MeanConfidence(tensor),
	}

	now := d.clock.Now()
	transition := d.tracker.Update(rawCount, now)
	d.emitter.Emit(ctx, d.deps.Transport, transition)

	if transition.Arrival != nil {
		slog.Info("driver: arrival",
			"seq", f.frame.Seq,
			"count", transition.DebouncedCount,
			"total_entries", transition.Arrival.TotalEntries,
		)
	}
	if transition.Departure != nil {
		slog.Info("driver: departure",
			"seq", f.frame.Seq,
			"count", transition.DebouncedCount,
			"duration", transition.Departure.Duration,
		)
	}

	d.framesProcessed.Add(1)
	d.window.Add(now)
	d.mu.Lock()
	d.snapshot = d.tracker.State()
	d.lastRaw = rawCount
	d.lastLat = latency
	d.lastFail = 0
	d.mu.Unlock()

	slog.Debug("driver: frame processed",
		"seq", f.frame.Seq,
		"trace_id", f.frame.TraceID,
		"raw_count", rawCount,
		"debounced_count", transition.DebouncedCount,
		"latency", latency,
	)

	return false, d.render(f.frame, result)
}

// render draws the overlay and forwards the frame to the sink, if any.
func (d *Driver) render(frame Frame, result FrameResult) error {
	if d.deps.Sink == nil {
		return nil
	}

	if d.deps.Overlay != nil {
		img, err := d.deps.Overlay.Render(frame, result)
		if err == nil {
			if err := d.deps.Sink.WriteFrame(img); err != nil {
				return fmt.Errorf("driver: frame sink: %w", err)
			}
			return nil
		}
		slog.Warn("driver: overlay failed, writing raw frame", "seq", frame.Seq, "error", err)
	}

	img, err := frame.Image()
	if err != nil {
		slog.Warn("driver: cannot convert frame for sink", "seq", frame.Seq, "error", err)
		return nil
	}
	if err := d.deps.Sink.WriteFrame(img); err != nil {
		return fmt.Errorf("driver: frame sink: %w", err)
	}
	return nil
}

// reclaim waits once more on a timed-out request. A late result, ready or
// failed, belongs to a frame that was already skipped and is discarded
// without touching the failure count. A request still pending after another
// full timeout counts as a consecutive failure.
func (d *Driver) reclaim(ctx context.Context, f inflight) (drained bool, err error) {
	status, perr := d.deps.Engine.Poll(ctx, f.slot, d.cfg.InferenceTimeout)
	if status != PollPending {
		slog.Debug("driver: slot reclaimed",
			"slot", f.slot,
			"seq", f.frame.Seq,
			"late_by", d.clock.Since(f.submittedAt),
			"error", perr,
		)
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, d.failure(f.frame, fmt.Errorf("%w: slot %d still held by frame %d after %v",
		ErrInferenceTimeout, f.slot, f.frame.Seq, d.clock.Since(f.submittedAt)))
}

// frameFailed records a skipped frame. Frame failures are skipped until the
// consecutive limit is exceeded; any other error is returned as fatal.
func (d *Driver) frameFailed(frame Frame, err error) error {
	if !IsFrameFailure(err) {
		return fmt.Errorf("driver: inference engine: %w", err)
	}
	d.framesSkipped.Add(1)
	return d.failure(frame, err)
}

// failure counts one consecutive failure against the limit.
func (d *Driver) failure(frame Frame, err error) error {
	d.consecutiveFailures++
	d.mu.Lock()
	d.lastFail = d.consecutiveFailures
	d.mu.Unlock()

	slog.Warn("driver: inference failure",
		"seq", frame.Seq,
		"trace_id", frame.TraceID,
		"error", err,
		"consecutive_failures", d.consecutiveFailures,
		"max_consecutive_failures", d.cfg.MaxConsecutiveFailures,
	)

	if d.cfg.MaxConsecutiveFailures > 0 && d.consecutiveFailures > d.cfg.MaxConsecutiveFailures {
		return fmt.Errorf("driver: %w (%d in a row, last: %v)", ErrTooManyFailures, d.consecutiveFailures, err)
	}
	return nil
}

// release closes the collaborators the driver owns.
func (d *Driver) release() error {
	var err error

	if cerr := d.deps.Source.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("driver: close source: %w", cerr))
	}
	if d.deps.Sink != nil {
		if cerr := d.deps.Sink.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("driver: close sink: %w", cerr))
		}
	}
	if cerr := d.deps.Engine.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("driver: close engine: %w", cerr))
	}
	if closer, ok := d.deps.Transport.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("driver: close transport: %w", cerr))
		}
	}

	published, failed := d.emitter.Counters()
	slog.Info("driver: resources released",
		"frames_processed", d.framesProcessed.Load(),
		"frames_skipped", d.framesSkipped.Load(),
		"messages_published", published,
		"publish_failures", failed,
	)

	return err
}

// Stats returns a snapshot of driver counters.
//
// Thread-safe - counters are atomic and tracker state is copied under lock.
func (d *Driver) Stats() Stats {
	published, failed := d.emitter.Counters()

	d.mu.RLock()
	defer d.mu.RUnlock()

	return Stats{
		Running:              d.running.Load(),
		FramesProcessed:      d.framesProcessed.Load(),
		FramesSkipped:        d.framesSkipped.Load(),
		ConsecutiveFailures:  d.lastFail,
		LastInferenceLatency: d.lastLat,
		LastRawCount:         d.lastRaw,
		MessagesPublished:    published,
		PublishFailures:      failed,
		Occupancy:            d.snapshot,
		Throughput:           d.window.Stats(),
	}
}

// freeSlot returns the first slot not held by a request, or -1.
func freeSlot(busy []bool) int {
	for i, b := range busy {
		if !b {
			return i
		}
	}
	return -1
}
