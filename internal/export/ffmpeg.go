package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FFmpegConfig configures the encoder subprocess.
type FFmpegConfig struct {
	// URL is the ffmpeg output (file, ffm feed, rtmp/rtsp endpoint)
	URL string
	// FrameRate of the raw input (default 24)
	FrameRate int
	// OutputArgs are extra output options, e.g. {"vcodec": "libx264"}
	OutputArgs map[string]interface{}
}

// FFmpeg pipes BGR24 frames into an ffmpeg subprocess. The process starts
// on the first frame, once the frame size is known.
type FFmpeg struct {
	cfg FFmpegConfig

	ctx    context.Context
	cancel context.CancelFunc

	pw      *io.PipeWriter
	buf     []byte
	size    image.Point
	started bool

	runErr atomic.Value
	wg     sync.WaitGroup
	frames atomic.Uint64
}

// NewFFmpeg checks that ffmpeg is installed and prepares the sink.
func NewFFmpeg(cfg FFmpegConfig) (*FFmpeg, error) {
	if cfg.URL == "" {
		return nil, errors.New("export: ffmpeg output url is required")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 24
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &FFmpeg{cfg: cfg, ctx: ctx, cancel: cancel}, nil
}

func (f *FFmpeg) start(size image.Point) {
	pr, pw := io.Pipe()
	f.pw = pw
	f.size = size
	f.started = true

	inArgs := ffmpeg.KwArgs{
		"format":    "rawvideo",
		"pix_fmt":   "bgr24",
		"s":         fmt.Sprintf("%dx%d", size.X, size.Y),
		"framerate": f.cfg.FrameRate,
	}
	outArgs := ffmpeg.KwArgs{}
	for k, v := range f.cfg.OutputArgs {
		outArgs[k] = v
	}

	slog.Info("export: starting ffmpeg",
		"url", f.cfg.URL,
		"size", inArgs["s"],
		"framerate", f.cfg.FrameRate,
	)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		stream := ffmpeg.Input("pipe:", inArgs).
			Output(f.cfg.URL, outArgs).
			OverWriteOutput().
			WithInput(pr)
		stream.Context = f.ctx
		if err := stream.Run(); err != nil {
			f.runErr.Store(err)
			slog.Error("export: ffmpeg exited", "url", f.cfg.URL, "error", err)
		}
		pr.CloseWithError(io.ErrClosedPipe)
	}()
}

// WriteFrame implements peoplecounter.FrameSink
//
// Every frame must have the size of the first one.
func (f *FFmpeg) WriteFrame(img image.Image) error {
	if err, ok := f.runErr.Load().(error); ok {
		return fmt.Errorf("export: ffmpeg: %w", err)
	}

	size := img.Bounds().Size()
	if !f.started {
		f.start(size)
	} else if size != f.size {
		return fmt.Errorf("export: frame size %v differs from stream size %v", size, f.size)
	}

	f.buf = AppendBGR(f.buf[:0], img)
	if _, err := f.pw.Write(f.buf); err != nil {
		if rerr, ok := f.runErr.Load().(error); ok {
			err = rerr
		}
		return fmt.Errorf("export: ffmpeg: %w", err)
	}
	f.frames.Add(1)
	return nil
}

// Frames returns the number of frames written.
func (f *FFmpeg) Frames() uint64 {
	return f.frames.Load()
}

// Close ends the input stream and waits for ffmpeg to finish encoding.
func (f *FFmpeg) Close() error {
	if f.pw != nil {
		f.pw.Close()
	}
	f.wg.Wait()
	f.cancel()

	if err, ok := f.runErr.Load().(error); ok {
		return fmt.Errorf("export: ffmpeg: %w", err)
	}
	return nil
}
