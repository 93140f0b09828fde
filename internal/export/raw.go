// Package export writes annotated frames out of the pipeline: a still image
// file, raw BGR24 frames on a stream, or an ffmpeg subprocess.
package export

import (
	"fmt"
	"image"
	"io"
	"sync/atomic"
)

// Raw writes every frame as packed BGR24 bytes, one full frame per write
// with no header.
type Raw struct {
	w      io.Writer
	buf    []byte
	frames atomic.Uint64
}

// NewRaw creates a raw sink on w (typically os.Stdout).
func NewRaw(w io.Writer) *Raw {
	return &Raw{w: w}
}

// WriteFrame implements peoplecounter.FrameSink
func (r *Raw) WriteFrame(img image.Image) error {
	r.buf = AppendBGR(r.buf[:0], img)
	if _, err := r.w.Write(r.buf); err != nil {
		return fmt.Errorf("export: write raw frame: %w", err)
	}
	if f, ok := r.w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("export: flush raw frame: %w", err)
		}
	}
	r.frames.Add(1)
	return nil
}

// Frames returns the number of frames written.
func (r *Raw) Frames() uint64 {
	return r.frames.Load()
}

// Close implements peoplecounter.FrameSink. The writer is not closed.
func (r *Raw) Close() error {
	return nil
}

// AppendBGR appends img as packed BGR24 to dst.
func AppendBGR(dst []byte, img image.Image) []byte {
	b := img.Bounds()

	if rgba, ok := img.(*image.RGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := rgba.Pix[rgba.PixOffset(b.Min.X, y):]
			for x := 0; x < b.Dx(); x++ {
				p := x * 4
				dst = append(dst, row[p+2], row[p+1], row[p])
			}
		}
		return dst
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			dst = append(dst, byte(bl>>8), byte(g>>8), byte(r>>8))
		}
	}
	return dst
}
