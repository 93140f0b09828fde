package export

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/disintegration/imaging"
)

// DefaultStillPath is where the annotated still image is written.
const DefaultStillPath = "out_image.jpg"

// Still writes each frame to one image file; the format follows the file
// extension. The last frame written wins.
type Still struct {
	path        string
	jpegQuality int

	framesSaved   atomic.Uint64
	framesDropped atomic.Uint64
}

// NewStill creates a still-image sink. Empty path means DefaultStillPath,
// quality <= 0 means 95.
func NewStill(path string, jpegQuality int) (*Still, error) {
	if path == "" {
		path = DefaultStillPath
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 95
	}
	if _, err := imaging.FormatFromFilename(path); err != nil {
		return nil, fmt.Errorf("export: %s: %w", path, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("export: create output directory: %w", err)
		}
	}
	return &Still{path: path, jpegQuality: jpegQuality}, nil
}

// WriteFrame implements peoplecounter.FrameSink
func (s *Still) WriteFrame(img image.Image) error {
	if err := imaging.Save(img, s.path, imaging.JPEGQuality(s.jpegQuality)); err != nil {
		s.framesDropped.Add(1)
		return fmt.Errorf("export: save %s: %w", s.path, err)
	}
	s.framesSaved.Add(1)
	slog.Info("export: image written", "path", s.path)
	return nil
}

// Path returns the output file.
func (s *Still) Path() string {
	return s.path
}

// Stats returns save statistics.
func (s *Still) Stats() (saved, dropped uint64) {
	return s.framesSaved.Load(), s.framesDropped.Load()
}

// Close implements peoplecounter.FrameSink
func (s *Still) Close() error {
	return nil
}
