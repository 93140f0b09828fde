// Package engine implements peoplecounter.InferenceEngine on ONNX Runtime.
//
// Each request slot owns its own session and pre-allocated input/output
// tensors, so slots can run concurrently. Submit preprocesses and runs the
// session in a goroutine; Poll waits on the slot's completion channel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	peoplecounter "github.com/e7canasta/orion-care-sensor/modules/people-counter"
)

// Config contains the settings needed to load a model.
type Config struct {
	// ModelPath is the .onnx file (required)
	ModelPath string
	// Device selects the execution provider: CPU, CUDA, or an OpenVINO
	// device type (GPU, NPU, MYRIAD, HETERO:...)
	Device string
	// LibraryPath overrides the ONNX Runtime shared library
	LibraryPath string
	// Slots is the number of request slots (default 1)
	Slots int
	// Threads is the intra-op thread count per session (default NumCPU)
	Threads int
	// ChannelOrder of the input planes (default BGR)
	ChannelOrder ChannelOrder
	// PixelScale multiplies 0-255 pixel values (default 1)
	PixelScale float32
}

// slot is one request slot with its own session.
type slot struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]

	running atomic.Bool
	done    chan error
	result  []float32
	ready   bool
}

// Engine is an ONNX Runtime backed inference engine.
type Engine struct {
	cfg         Config
	inputShape  peoplecounter.Shape
	outputShape []int64
	slots       []*slot

	closeOnce sync.Once
	ownsEnv   bool
}

var nodeNamePattern = regexp.MustCompile(`node with name '([^']*)'`)

// Load reads the model, checks that its layout is executable and creates
// one session per slot.
//
// Fail-fast validation:
//   - model file must exist
//   - exactly one float32 input of rank 4 with 3 channels
//   - exactly one float32 output shaped [1,1,N,7]
//   - no dynamic dimensions besides the batch
//
// Returns *peoplecounter.UnsupportedLayerError listing the offending inputs,
// outputs or nodes when the model cannot run on the device.
func Load(cfg Config) (*Engine, error) {
	if cfg.ModelPath == "" {
		return nil, &peoplecounter.ConfigurationError{Field: "model", Reason: "model path is required"}
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, &peoplecounter.ConfigurationError{Field: "model", Reason: err.Error()}
	}
	if cfg.Device == "" {
		cfg.Device = "CPU"
	}
	if cfg.Slots <= 0 {
		cfg.Slots = 1
	}
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}
	if cfg.PixelScale == 0 {
		cfg.PixelScale = 1
	}

	e := &Engine{cfg: cfg}

	if !ort.IsInitialized() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("engine: initialize ONNX Runtime: %w", err)
		}
		e.ownsEnv = true
	}

	slog.Info("engine: reading model", "model", cfg.ModelPath, "device", cfg.Device)

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("engine: read model info: %w", err)
	}

	inputShape, outputShape, err := checkLayout(cfg.Device, inputs, outputs)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.inputShape = inputShape
	e.outputShape = outputShape

	for i := 0; i < cfg.Slots; i++ {
		s, err := e.newSlot(inputs[0].Name, outputs[0].Name)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("engine: create slot %d: %w", i, err)
		}
		e.slots = append(e.slots, s)
	}

	slog.Info("engine: model loaded",
		"input", inputs[0].Name,
		"input_shape", inputShape.String(),
		"output", outputs[0].Name,
		"output_shape", outputShape,
		"slots", cfg.Slots,
		"channel_order", cfg.ChannelOrder.String(),
	)

	return e, nil
}

// checkLayout validates model inputs/outputs and collects every offending name.
func checkLayout(device string, inputs, outputs []ort.InputOutputInfo) (peoplecounter.Shape, []int64, error) {
	var unsupported []string

	if len(inputs) != 1 {
		for _, in := range inputs {
			unsupported = append(unsupported, in.Name+" (extra input)")
		}
	}
	if len(outputs) != 1 {
		for _, out := range outputs {
			unsupported = append(unsupported, out.Name+" (extra output)")
		}
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return peoplecounter.Shape{}, nil, &peoplecounter.UnsupportedLayerError{
			Device: device,
			Layers: append(unsupported, "model has no input or output"),
		}
	}

	in := inputs[0]
	if in.OrtValueType != ort.ONNXTypeTensor || in.DataType != ort.TensorElementDataTypeFloat {
		unsupported = append(unsupported, in.Name+" (input is not a float32 tensor)")
	}
	var shape peoplecounter.Shape
	if len(in.Dimensions) != 4 {
		unsupported = append(unsupported, fmt.Sprintf("%s (input rank %d, want 4)", in.Name, len(in.Dimensions)))
	} else {
		dims := in.Dimensions
		if dims[1] <= 0 || dims[2] <= 0 || dims[3] <= 0 {
			unsupported = append(unsupported, fmt.Sprintf("%s (dynamic input dimensions %v)", in.Name, dims))
		}
		shape = peoplecounter.Shape{Channels: int(dims[1]), Height: int(dims[2]), Width: int(dims[3])}
		if shape.Channels != 3 {
			unsupported = append(unsupported, fmt.Sprintf("%s (%d channels, want 3)", in.Name, shape.Channels))
		}
	}

	out := outputs[0]
	outDims := make([]int64, len(out.Dimensions))
	copy(outDims, out.Dimensions)
	if out.DataType != ort.TensorElementDataTypeFloat {
		unsupported = append(unsupported, out.Name+" (output is not float32)")
	}
	if len(outDims) != 4 || outDims[3] != 7 {
		unsupported = append(unsupported, fmt.Sprintf("%s (output shape %v, want [1 1 N 7])", out.Name, outDims))
	} else {
		if outDims[0] <= 0 {
			outDims[0] = 1
		}
		if outDims[1] <= 0 || outDims[2] <= 0 {
			unsupported = append(unsupported, fmt.Sprintf("%s (dynamic output dimensions %v)", out.Name, outDims))
		}
	}

	if len(unsupported) > 0 {
		return peoplecounter.Shape{}, nil, &peoplecounter.UnsupportedLayerError{Device: device, Layers: unsupported}
	}
	return shape, outDims, nil
}

func (e *Engine) newSlot(inputName, outputName string) (*slot, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(e.cfg.Threads); err != nil {
		return nil, fmt.Errorf("intra-op threads: %w", err)
	}
	if err := appendProvider(options, e.cfg.Device); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1,
		int64(e.inputShape.Channels), int64(e.inputShape.Height), int64(e.inputShape.Width)))
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(e.outputShape...))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(e.cfg.ModelPath,
		[]string{inputName},
		[]string{outputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		if names := nodeNamePattern.FindAllStringSubmatch(err.Error(), -1); len(names) > 0 {
			layers := make([]string, 0, len(names))
			for _, m := range names {
				layers = append(layers, m[1])
			}
			return nil, &peoplecounter.UnsupportedLayerError{Device: e.cfg.Device, Layers: layers}
		}
		return nil, fmt.Errorf("session: %w", err)
	}

	return &slot{
		session: session,
		input:   input,
		output:  output,
		done:    make(chan error, 1),
	}, nil
}

// appendProvider selects the execution provider for device.
func appendProvider(options *ort.SessionOptions, device string) error {
	switch d := strings.ToUpper(device); {
	case d == "CPU":
		return nil

	case d == "CUDA":
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("engine: CUDA provider options: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return fmt.Errorf("engine: device %s unavailable: %w", device, err)
		}
		return nil

	default:
		// Everything else is an OpenVINO device type (GPU, NPU, MYRIAD, HETERO:...)
		if err := options.AppendExecutionProviderOpenVINO(map[string]string{"device_type": d}); err != nil {
			return fmt.Errorf("engine: device %s unavailable: %w", device, err)
		}
		return nil
	}
}

// InputShape implements peoplecounter.InferenceEngine
func (e *Engine) InputShape() peoplecounter.Shape {
	return e.inputShape
}

// Slots implements peoplecounter.InferenceEngine
func (e *Engine) Slots() int {
	return len(e.slots)
}

// Submit implements peoplecounter.InferenceEngine
//
// Returns an error wrapping ErrInferenceFailed when the slot is still busy
// with a request that was abandoned after a timeout.
func (e *Engine) Submit(id int, frame peoplecounter.Frame) error {
	s, err := e.slot(id)
	if err != nil {
		return err
	}
	if s.running.Load() {
		return fmt.Errorf("%w: slot %d still busy", peoplecounter.ErrInferenceFailed, id)
	}

	// A fresh channel per request, so a result nobody polled is dropped
	done := make(chan error, 1)
	s.done = done
	s.ready = false
	s.running.Store(true)

	go func() {
		err := Preprocess(frame, e.inputShape, e.cfg.ChannelOrder, e.cfg.PixelScale, s.input.GetData())
		if err == nil {
			err = s.session.Run()
		}
		if err == nil {
			data := s.output.GetData()
			if cap(s.result) < len(data) {
				s.result = make([]float32, len(data))
			}
			s.result = s.result[:len(data)]
			copy(s.result, data)
		}
		s.running.Store(false)
		done <- err
	}()

	return nil
}

// Poll implements peoplecounter.InferenceEngine
func (e *Engine) Poll(ctx context.Context, id int, timeout time.Duration) (peoplecounter.PollStatus, error) {
	s, err := e.slot(id)
	if err != nil {
		return peoplecounter.PollFailed, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case err := <-s.done:
		if err != nil {
			return peoplecounter.PollFailed, fmt.Errorf("%w: slot %d: %v", peoplecounter.ErrInferenceFailed, id, err)
		}
		s.ready = true
		return peoplecounter.PollReady, nil
	case <-expired:
		return peoplecounter.PollPending, nil
	case <-ctx.Done():
		return peoplecounter.PollPending, ctx.Err()
	}
}

// Output implements peoplecounter.InferenceEngine
//
// The returned data is a copy owned by the caller.
func (e *Engine) Output(id int) (peoplecounter.Tensor, error) {
	s, err := e.slot(id)
	if err != nil {
		return peoplecounter.Tensor{}, err
	}
	if !s.ready {
		return peoplecounter.Tensor{}, fmt.Errorf("%w: slot %d has no completed request", peoplecounter.ErrInferenceFailed, id)
	}

	data := make([]float32, len(s.result))
	copy(data, s.result)
	shape := make([]int64, len(e.outputShape))
	copy(shape, e.outputShape)

	return peoplecounter.Tensor{Shape: shape, Data: data}, nil
}

// Close implements peoplecounter.InferenceEngine
//
// Idempotent. Waits briefly for running requests before destroying sessions.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		for i, s := range e.slots {
			if s.running.Load() {
				select {
				case <-s.done:
				case <-time.After(3 * time.Second):
					slog.Warn("engine: slot still running at close", "slot", i)
				}
			}
			err = errors.Join(err, s.session.Destroy(), s.input.Destroy(), s.output.Destroy())
		}
		if e.ownsEnv {
			err = errors.Join(err, ort.DestroyEnvironment())
		}
		slog.Debug("engine: closed", "slots", len(e.slots))
	})
	return err
}

func (e *Engine) slot(id int) (*slot, error) {
	if id < 0 || id >= len(e.slots) {
		return nil, fmt.Errorf("engine: slot %d out of range (have %d)", id, len(e.slots))
	}
	return e.slots[id], nil
}
