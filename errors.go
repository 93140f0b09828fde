package peoplecounter

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEndOfStream is returned by a FrameSource when it has no more frames.
	// It is the normal termination path, not a failure.
	ErrEndOfStream = errors.New("end of stream")

	// ErrCannotOpenInput is returned when the capture source cannot be opened.
	ErrCannotOpenInput = errors.New("cannot open input")

	// ErrInferenceTimeout is returned when a slot does not complete in time.
	ErrInferenceTimeout = errors.New("inference timeout")

	// ErrInferenceFailed is returned when the engine reports a failed request.
	ErrInferenceFailed = errors.New("inference failed")

	// ErrMalformedTensor is returned when the output tensor is not [1,1,N,7].
	ErrMalformedTensor = errors.New("malformed detection tensor")

	// ErrTooManyFailures is returned by the driver once consecutive per-frame
	// failures exceed the configured limit.
	ErrTooManyFailures = errors.New("too many consecutive inference failures")
)

// ConfigurationError reports an invalid or missing setting. It is raised
// before the processing loop starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// UnsupportedLayerError is returned when the engine cannot execute some of
// the model's layers. No partial execution is attempted.
type UnsupportedLayerError struct {
	Device string
	Layers []string
}

func (e *UnsupportedLayerError) Error() string {
	return fmt.Sprintf("unsupported layers on device %s: %s", e.Device, strings.Join(e.Layers, ", "))
}

// IsFrameFailure reports whether err only invalidates the current frame.
func IsFrameFailure(err error) bool {
	return errors.Is(err, ErrInferenceTimeout) ||
		errors.Is(err, ErrInferenceFailed) ||
		errors.Is(err, ErrMalformedTensor)
}
