package peoplecounter

import (
	"context"
	"image"
	"time"
)

// PollStatus is the state of an inference request slot.
type PollStatus int

const (
	// PollPending means the request has not completed within the poll timeout
	PollPending PollStatus = iota
	// PollReady means the output tensor can be fetched with Output
	PollReady
	// PollFailed means the request completed with an error
	PollFailed
)

// String returns a human-readable representation of the status
func (s PollStatus) String() string {
	switch s {
	case PollPending:
		return "pending"
	case PollReady:
		return "ready"
	case PollFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FrameSource defines the contract for frame acquisition.
//
// Implementations must guarantee:
//   - NextFrame() blocks until a frame is decoded, the stream ends or ctx is done
//   - NextFrame() returns ErrEndOfStream once the input is exhausted
//   - Dimensions() is valid right after a successful open
//   - Close() is idempotent
type FrameSource interface {
	// NextFrame returns the next decoded frame.
	NextFrame(ctx context.Context) (Frame, error)

	// Dimensions returns the native frame size of the input.
	Dimensions() (width, height int)

	// Close releases the capture resource.
	Close() error
}

// InferenceEngine is the capability interface over an inference accelerator.
//
// Loading a model is the adapter's constructor concern; a loaded engine
// exposes a fixed number of request slots. A slot runs at most one request
// at a time:
//
//	Submit(slot, frame) → Poll(ctx, slot, timeout) == PollReady → Output(slot)
//
// Submit preprocesses the frame to InputShape() (resize, channel reorder)
// and returns immediately. Poll is the suspension point: it blocks until the
// request finishes, the timeout elapses (PollPending) or ctx is done.
// A timeout of zero waits without limit.
type InferenceEngine interface {
	// InputShape returns the input layout the model expects.
	InputShape() Shape

	// Slots returns the number of request slots the engine was created with.
	Slots() int

	// Submit starts an asynchronous request on slot.
	Submit(slot int, frame Frame) error

	// Poll waits for the request on slot.
	Poll(ctx context.Context, slot int, timeout time.Duration) (PollStatus, error)

	// Output returns the raw output tensor of a completed request.
	Output(slot int) (Tensor, error)

	// Close releases the engine and its sessions.
	Close() error
}

// Transport delivers encoded messages to a broker. Delivery is best-effort;
// retries and backpressure are the implementation's responsibility.
type Transport interface {
	Publish(topic string, payload []byte) error
}

// Overlay renders detections and statistics onto a frame.
type Overlay interface {
	Render(frame Frame, result FrameResult) (image.Image, error)
}

// FrameSink receives annotated frames (still image file or raw stream).
type FrameSink interface {
	WriteFrame(img image.Image) error
	Close() error
}
