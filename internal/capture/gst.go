package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	peoplecounter "github.com/e7canasta/orion-care-sensor/modules/people-counter"
)

const sinkName = "sink"

// rgbTail converts whatever was decoded to packed RGB and hands it to the appsink
const rgbTail = "videoconvert ! video/x-raw,format=RGB ! appsink name=" + sinkName

func cameraPipeline(device string) string {
	return fmt.Sprintf("v4l2src device=%s ! %s", quote(device), rgbTail)
}

func filePipeline(path string) string {
	return fmt.Sprintf("filesrc location=%s ! decodebin ! %s", quote(path), rgbTail)
}

func uriPipeline(uri string) string {
	return fmt.Sprintf("uridecodebin uri=%s ! %s", quote(uri), rgbTail)
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// gstSource decodes frames through a GStreamer pipeline ending in an appsink.
//
// Pipeline structure:
//
//	source → decode → videoconvert → video/x-raw,format=RGB → appsink
//
// Live sources drop frames while the consumer is busy; files apply
// backpressure so every frame is processed.
type gstSource struct {
	input    string
	live     bool
	pipeline *gst.Pipeline
	sink     *app.Sink

	frames chan peoplecounter.Frame
	eos    chan struct{}
	failed chan error
	done   chan struct{}

	width  atomic.Int64
	height atomic.Int64

	frameCounter  atomic.Uint64
	framesDropped atomic.Uint64
	errors        ErrorCounters

	first *peoplecounter.Frame

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func openPipeline(launch, input string, live bool, timeout time.Duration) (*gstSource, error) {
	gst.Init(nil)

	slog.Debug("capture: creating pipeline", "pipeline", launch)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: create pipeline: %v", peoplecounter.ErrCannotOpenInput, input, err)
	}

	elem, err := pipeline.GetElementByName(sinkName)
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("%w: %s: appsink not found: %v", peoplecounter.ErrCannotOpenInput, input, err)
	}
	sink := app.SinkFromElement(elem)
	sink.SetProperty("sync", false)
	if live {
		sink.SetProperty("max-buffers", uint(1))
		sink.SetProperty("drop", true)
	}

	s := &gstSource{
		input:    input,
		live:     live,
		pipeline: pipeline,
		sink:     sink,
		frames:   make(chan peoplecounter.Frame, 2),
		eos:      make(chan struct{}),
		failed:   make(chan error, 1),
		done:     make(chan struct{}),
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("%w: %s: start pipeline: %v", peoplecounter.ErrCannotOpenInput, input, err)
	}

	s.wg.Add(1)
	go s.monitorBus()

	// Dimensions come from the negotiated caps of the first sample
	select {
	case frame := <-s.frames:
		s.first = &frame
	case err := <-s.failed:
		s.Close()
		return nil, fmt.Errorf("%w: %s: %v", peoplecounter.ErrCannotOpenInput, input, err)
	case <-s.eos:
		s.Close()
		return nil, fmt.Errorf("%w: %s: no frames before end of stream", peoplecounter.ErrCannotOpenInput, input)
	case <-time.After(timeout):
		s.Close()
		return nil, fmt.Errorf("%w: %s: no frame after %v", peoplecounter.ErrCannotOpenInput, input, timeout)
	}

	slog.Info("capture: pipeline playing",
		"input", input,
		"live", live,
		"resolution", fmt.Sprintf("%dx%d", s.width.Load(), s.height.Load()),
	)

	return s, nil
}

// onNewSample copies the sample out of the appsink.
func (s *gstSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("capture: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	width, height := s.capsSize(sample)
	if width <= 0 || height <= 0 {
		slog.Warn("capture: sample without frame size, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("capture: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := packRGB(mapInfo.Bytes(), width, height)
	buffer.Unmap()
	if data == nil {
		slog.Warn("capture: short buffer received", "width", width, "height", height)
		return gst.FlowOK
	}

	frame := peoplecounter.Frame{
		Seq:       s.frameCounter.Add(1),
		Timestamp: time.Now(),
		Width:     width,
		Height:    height,
		Data:      data,
		TraceID:   uuid.New().String(),
	}

	if s.live {
		select {
		case s.frames <- frame:
		default:
			s.framesDropped.Add(1)
			slog.Debug("capture: dropping frame, consumer busy", "seq", frame.Seq)
		}
		return gst.FlowOK
	}

	select {
	case s.frames <- frame:
		return gst.FlowOK
	case <-s.done:
		return gst.FlowFlushing
	}
}

// capsSize reads width and height from the sample caps; the first value seen
// is kept as the source dimensions.
func (s *gstSource) capsSize(sample *gst.Sample) (int, int) {
	if w, h := s.width.Load(), s.height.Load(); w > 0 && h > 0 {
		return int(w), int(h)
	}

	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0
	}
	structure := caps.GetStructureAt(0)

	var width, height int
	if val, err := structure.GetValue("width"); err == nil {
		width, _ = val.(int)
	}
	if val, err := structure.GetValue("height"); err == nil {
		height, _ = val.(int)
	}
	if width > 0 && height > 0 {
		s.width.Store(int64(width))
		s.height.Store(int64(height))
	}
	return width, height
}

// packRGB copies an RGB buffer, removing GStreamer's 4-byte row padding.
// Returns nil if data is too short for the frame.
func packRGB(data []byte, width, height int) []byte {
	rowBytes := width * 3
	if height <= 0 || len(data) < rowBytes*height {
		return nil
	}

	out := make([]byte, rowBytes*height)
	stride := len(data) / height
	if stride == rowBytes {
		copy(out, data)
		return out
	}
	for y := 0; y < height; y++ {
		copy(out[y*rowBytes:(y+1)*rowBytes], data[y*stride:y*stride+rowBytes])
	}
	return out
}

// monitorBus watches the pipeline bus for EOS and errors.
func (s *gstSource) monitorBus() {
	defer s.wg.Done()

	bus := s.pipeline.GetPipelineBus()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("capture: end of stream received",
				"input", s.input,
				"frames", s.frameCounter.Load(),
			)
			close(s.eos)
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyError(gerr.Error(), gerr.DebugString())
			s.errors.Record(category)

			slog.Error("capture: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"input", s.input,
				"frames", s.frameCounter.Load(),
			)
			select {
			case s.failed <- fmt.Errorf("pipeline error [%s]: %s", category, gerr.Error()):
			default:
			}
			return

		case gst.MessageStateChanged:
			if msg.Source() == s.pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				slog.Debug("capture: pipeline state changed", "from", old, "to", new)
			}
		}
	}
}

// NextFrame implements peoplecounter.FrameSource
func (s *gstSource) NextFrame(ctx context.Context) (peoplecounter.Frame, error) {
	if s.first != nil {
		frame := *s.first
		s.first = nil
		return frame, nil
	}

	select {
	case frame := <-s.frames:
		return frame, nil
	case <-s.eos:
		// Frames rendered before EOS are still queued
		select {
		case frame := <-s.frames:
			return frame, nil
		default:
			return peoplecounter.Frame{}, peoplecounter.ErrEndOfStream
		}
	case err := <-s.failed:
		return peoplecounter.Frame{}, fmt.Errorf("capture: %s: %w", s.input, err)
	case <-ctx.Done():
		return peoplecounter.Frame{}, ctx.Err()
	}
}

// Dimensions implements peoplecounter.FrameSource
func (s *gstSource) Dimensions() (int, int) {
	return int(s.width.Load()), int(s.height.Load())
}

// Close implements peoplecounter.FrameSource
//
// Idempotent. Sets the pipeline to NULL and stops the bus monitor.
func (s *gstSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if serr := s.pipeline.SetState(gst.StateNull); serr != nil {
			err = fmt.Errorf("capture: set pipeline to NULL: %w", serr)
		}
		s.wg.Wait()

		slog.Debug("capture: pipeline closed",
			"input", s.input,
			"frames", s.frameCounter.Load(),
			"dropped", s.framesDropped.Load(),
			"errors", s.errors.Total(),
		)
	})
	return err
}
