package peoplecounter

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	testFrameWidth  = 4
	testFrameHeight = 4
)

// published is one message seen by fakeTransport.
type published struct {
	Topic   string
	Payload string
}

type fakeTransport struct {
	mu       sync.Mutex
	messages []published
	fail     error
	closed   bool
}

func (t *fakeTransport) Publish(topic string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail != nil {
		return t.fail
	}
	t.messages = append(t.messages, published{Topic: topic, Payload: string(payload)})
	return nil
}

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

func (t *fakeTransport) Messages() []published {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]published(nil), t.messages...)
}

// fakeSource yields frames until limit is reached; a negative limit never
// ends. afterFrame runs once each frame has been handed out.
type fakeSource struct {
	limit      int
	served     int
	afterFrame func(seq uint64)
	closed     bool
}

func (s *fakeSource) NextFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.limit >= 0 && s.served >= s.limit {
		return Frame{}, ErrEndOfStream
	}
	s.served++
	seq := uint64(s.served)

	frame := Frame{
		Seq:       seq,
		Timestamp: time.Unix(int64(seq), 0),
		Width:     testFrameWidth,
		Height:    testFrameHeight,
		Data:      make([]byte, testFrameWidth*testFrameHeight*3),
		TraceID:   fmt.Sprintf("trace-%d", seq),
	}
	if s.afterFrame != nil {
		s.afterFrame(seq)
	}
	return frame, nil
}

func (s *fakeSource) Dimensions() (int, int) { return testFrameWidth, testFrameHeight }

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

// outcome is how the fake engine answers for one frame. A PollPending
// outcome leaves the request running: its slot stays held for lateBy more
// polls and is then drained by the next one.
type outcome struct {
	status    PollStatus
	tensor    Tensor
	err       error
	submitErr error
	lateBy    int
}

// fakeEngine answers every frame through script. Each Poll advances the
// mock clock by step, simulating inference time. Like the ONNX engine, a
// slot is held from Submit until its request finishes, timeouts included.
type fakeEngine struct {
	slots  int
	clock  *clock.Mock
	step   time.Duration
	script func(seq uint64) outcome

	pending     map[int]uint64
	late        map[int]int
	drained     []uint64
	submitted   []uint64
	maxInFlight int
	misuse      []string
	closed      bool
}

func newFakeEngine(slots int, clk *clock.Mock, script func(seq uint64) outcome) *fakeEngine {
	return &fakeEngine{
		slots:   slots,
		clock:   clk,
		step:    400 * time.Millisecond,
		script:  script,
		pending: make(map[int]uint64),
		late:    make(map[int]int),
	}
}

func (e *fakeEngine) InputShape() Shape { return Shape{Channels: 3, Height: 2, Width: 2} }

func (e *fakeEngine) Slots() int { return e.slots }

func (e *fakeEngine) Submit(slot int, frame Frame) error {
	if err := e.script(frame.Seq).submitErr; err != nil {
		return err
	}
	if slot < 0 || slot >= e.slots {
		e.misuse = append(e.misuse, fmt.Sprintf("submit on slot %d", slot))
	}
	if _, busy := e.pending[slot]; busy {
		e.misuse = append(e.misuse, fmt.Sprintf("submit on busy slot %d", slot))
		return fmt.Errorf("%w: slot %d still busy", ErrInferenceFailed, slot)
	}
	e.pending[slot] = frame.Seq
	e.submitted = append(e.submitted, frame.Seq)
	if len(e.pending) > e.maxInFlight {
		e.maxInFlight = len(e.pending)
	}
	return nil
}

func (e *fakeEngine) Poll(ctx context.Context, slot int, timeout time.Duration) (PollStatus, error) {
	seq, ok := e.pending[slot]
	if !ok {
		e.misuse = append(e.misuse, fmt.Sprintf("poll on idle slot %d", slot))
		return PollFailed, errors.New("idle slot")
	}
	e.clock.Add(e.step)

	if remaining, timedOut := e.late[slot]; timedOut {
		if remaining > 0 {
			e.late[slot] = remaining - 1
			return PollPending, nil
		}
		delete(e.late, slot)
		delete(e.pending, slot)
		e.drained = append(e.drained, seq)
		return PollReady, nil
	}

	o := e.script(seq)
	switch o.status {
	case PollPending:
		e.late[slot] = o.lateBy
	case PollFailed:
		delete(e.pending, slot)
	}
	return o.status, o.err
}

func (e *fakeEngine) Output(slot int) (Tensor, error) {
	seq, ok := e.pending[slot]
	if !ok {
		return Tensor{}, fmt.Errorf("%w: no output on slot %d", ErrInferenceFailed, slot)
	}
	delete(e.pending, slot)
	return e.script(seq).tensor, nil
}

func (e *fakeEngine) Close() error {
	e.closed = true
	return nil
}

// people returns a ready outcome with n detections above any threshold
// below 0.9 and one low-confidence row.
func people(n int) outcome {
	rows := make([][7]float32, 0, n+1)
	for i := 0; i < n; i++ {
		rows = append(rows, [7]float32{0, 1, 0.95, 0.1, 0.1, 0.5, 0.9})
	}
	rows = append(rows, [7]float32{0, 1, 0.1, 0, 0, 0.2, 0.2})
	return outcome{status: PollReady, tensor: detectionTensor(rows...)}
}

type fakeSink struct {
	frames []image.Image
	fail   error
	closed bool
}

func (s *fakeSink) WriteFrame(img image.Image) error {
	if s.fail != nil {
		return s.fail
	}
	s.frames = append(s.frames, img)
	return nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return nil
}

type fakeOverlay struct {
	seqs []uint64
	fail error
}

func (o *fakeOverlay) Render(frame Frame, result FrameResult) (image.Image, error) {
	o.seqs = append(o.seqs, result.Seq)
	if o.fail != nil {
		return nil, o.fail
	}
	return frame.Image()
}
