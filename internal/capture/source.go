// Package capture opens frame sources for the pipeline: a V4L2 camera, a
// video file or URL decoded by GStreamer, or a single still image.
package capture

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	peoplecounter "github.com/e7canasta/orion-care-sensor/modules/people-counter"
)

// CameraInput selects the default camera instead of a file.
const CameraInput = "CAM"

// Kind classifies an input string.
type Kind int

const (
	KindCamera Kind = iota
	KindImage
	KindVideo
	KindURL
)

// String returns a human-readable representation of the kind
func (k Kind) String() string {
	switch k {
	case KindCamera:
		return "camera"
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindURL:
		return "url"
	default:
		return "unknown"
	}
}

var stillExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".png":  true,
}

// Config tunes how sources are opened.
type Config struct {
	// CameraDevice is the V4L2 device used for CAM (default /dev/video0)
	CameraDevice string
	// OpenTimeout bounds the wait for the first decoded frame (default 10s)
	OpenTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CameraDevice == "" {
		c.CameraDevice = "/dev/video0"
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 10 * time.Second
	}
	return c
}

// Classify reports which kind of source input names.
func Classify(input string) Kind {
	if input == CameraInput {
		return KindCamera
	}
	if strings.Contains(input, "://") {
		return KindURL
	}
	if stillExtensions[strings.ToLower(filepath.Ext(input))] {
		return KindImage
	}
	return KindVideo
}

// IsStillImage reports whether input is processed as a single image.
func IsStillImage(input string) bool {
	return Classify(input) == KindImage
}

// Open opens the source named by input.
//
// Returns an error wrapping peoplecounter.ErrCannotOpenInput when the file
// does not exist or the source yields no frame.
func Open(input string, cfg Config) (peoplecounter.FrameSource, error) {
	if input == "" {
		return nil, &peoplecounter.ConfigurationError{Field: "input", Reason: "input is required"}
	}
	cfg = cfg.withDefaults()
	kind := Classify(input)

	if kind == KindImage || kind == KindVideo {
		if _, err := os.Stat(input); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", peoplecounter.ErrCannotOpenInput, input, err)
		}
	}

	slog.Info("capture: opening source", "input", input, "kind", kind.String())

	switch kind {
	case KindImage:
		return openImage(input)
	case KindCamera:
		return openPipeline(cameraPipeline(cfg.CameraDevice), input, true, cfg.OpenTimeout)
	case KindURL:
		return openPipeline(uriPipeline(input), input, strings.HasPrefix(input, "rtsp"), cfg.OpenTimeout)
	default:
		return openPipeline(filePipeline(input), input, false, cfg.OpenTimeout)
	}
}
