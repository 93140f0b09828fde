package peoplecounter

import (
	"fmt"
	"image"
	"time"
)

// Frame represents a single decoded video frame with metadata
type Frame struct {
	// Seq is the monotonic sequence number assigned by the source
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains packed RGB24 pixels (3 bytes per pixel, row-major)
	Data []byte
	// TraceID is a unique identifier for correlating logs across stages
	TraceID string
}

// Image converts the packed RGB data into an *image.RGBA (alpha = 255).
func (f Frame) Image() (*image.RGBA, error) {
	expected := f.Width * f.Height * 3
	if f.Width <= 0 || f.Height <= 0 || len(f.Data) != expected {
		return nil, fmt.Errorf("invalid RGB frame: %dx%d with %d bytes (expected %d)",
			f.Width, f.Height, len(f.Data), expected)
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i := 0; i < f.Width*f.Height; i++ {
		img.Pix[i*4+0] = f.Data[i*3+0]
		img.Pix[i*4+1] = f.Data[i*3+1]
		img.Pix[i*4+2] = f.Data[i*3+2]
		img.Pix[i*4+3] = 255
	}
	return img, nil
}

// FrameFromImage packs any image.Image into an RGB24 Frame.
func FrameFromImage(img image.Image, seq uint64, ts time.Time) Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	data := make([]byte, w*h*3)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			data[i] = byte(r >> 8)
			data[i+1] = byte(g >> 8)
			data[i+2] = byte(bl >> 8)
			i += 3
		}
	}
	return Frame{Seq: seq, Timestamp: ts, Width: w, Height: h, Data: data}
}

// Shape is the input layout an inference engine expects (NCHW without the batch).
type Shape struct {
	Channels int
	Height   int
	Width    int
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Channels, s.Height, s.Width)
}

// Tensor is a raw float32 output blob with its dimensions.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// BBox is a bounding box in normalized [0,1] coordinates.
type BBox struct {
	XMin float32
	YMin float32
	XMax float32
	YMax float32
}

// Detection is a single accepted row of the detection tensor.
type Detection struct {
	Confidence float32
	// Box in normalized coordinates, as reported by the model
	Box BBox
	// Pixels is Box denormalized to frame coordinates (not clamped)
	Pixels image.Rectangle
	Label  int
}

// FrameResult is the parsed outcome of one processed frame.
type FrameResult struct {
	Seq              uint64
	RawCount         int
	Detections       []Detection
	InferenceLatency time.Duration
	// MeanConfidence is the mean confidence over every row with confidence > 0
	MeanConfidence float64
}

// ArrivalEvent fires on a rising edge of the debounced count.
type ArrivalEvent struct {
	TotalEntries int
}

// DepartureEvent fires on a falling edge of the debounced count.
type DepartureEvent struct {
	Duration time.Duration
}

// LiveCountEvent is emitted on every update.
type LiveCountEvent struct {
	Count int
}

// TransitionResult is what the tracker reports for one update.
type TransitionResult struct {
	At             time.Time
	RawCount       int
	DebouncedCount int
	Delta          int
	Arrival        *ArrivalEvent
	Departure      *DepartureEvent
	Live           LiveCountEvent
	// DepartureSuppressed is set on a falling edge seen before any arrival
	DepartureSuppressed bool
}

// Message is an outbound transport message.
type Message struct {
	Topic   string
	Payload any
}
