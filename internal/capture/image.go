package capture

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	peoplecounter "github.com/e7canasta/orion-care-sensor/modules/people-counter"
)

// imageSource yields a single decoded image and then end of stream.
type imageSource struct {
	frame    peoplecounter.Frame
	consumed atomic.Bool
}

func openImage(path string) (*imageSource, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", peoplecounter.ErrCannotOpenInput, path, err)
	}

	frame := peoplecounter.FrameFromImage(img, 1, time.Now())
	frame.TraceID = uuid.New().String()

	return &imageSource{frame: frame}, nil
}

func (s *imageSource) NextFrame(ctx context.Context) (peoplecounter.Frame, error) {
	if err := ctx.Err(); err != nil {
		return peoplecounter.Frame{}, err
	}
	if s.consumed.Swap(true) {
		return peoplecounter.Frame{}, peoplecounter.ErrEndOfStream
	}
	return s.frame, nil
}

func (s *imageSource) Dimensions() (int, int) {
	return s.frame.Width, s.frame.Height
}

func (s *imageSource) Close() error {
	return nil
}
