package engine

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	peoplecounter "github.com/e7canasta/orion-care-sensor/modules/people-counter"
)

// ChannelOrder is the plane order written into the input tensor.
type ChannelOrder int

const (
	// OrderBGR matches models converted from OpenCV-based training pipelines
	OrderBGR ChannelOrder = iota
	// OrderRGB keeps the capture order
	OrderRGB
)

// String returns a human-readable representation of the order
func (o ChannelOrder) String() string {
	switch o {
	case OrderBGR:
		return "BGR"
	case OrderRGB:
		return "RGB"
	default:
		return "unknown"
	}
}

// ParseChannelOrder parses "BGR" or "RGB" (empty means BGR).
func ParseChannelOrder(s string) (ChannelOrder, error) {
	switch s {
	case "", "BGR", "bgr":
		return OrderBGR, nil
	case "RGB", "rgb":
		return OrderRGB, nil
	default:
		return OrderBGR, fmt.Errorf("engine: unknown channel order %q (must be BGR or RGB)", s)
	}
}

// Preprocess resizes a frame to shape and writes it as planar CHW float32
// into dst. Pixel values are multiplied by scale (1 keeps the 0-255 range).
func Preprocess(frame peoplecounter.Frame, shape peoplecounter.Shape, order ChannelOrder, scale float32, dst []float32) error {
	if shape.Channels != 3 {
		return fmt.Errorf("engine: unsupported channel count %d", shape.Channels)
	}
	planeSize := shape.Width * shape.Height
	if len(dst) < planeSize*3 {
		return fmt.Errorf("engine: input buffer too small: %d < %d", len(dst), planeSize*3)
	}

	src, err := frame.Image()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	var resized *image.NRGBA
	if src.Bounds().Dx() == shape.Width && src.Bounds().Dy() == shape.Height {
		resized = imaging.Clone(src)
	} else {
		resized = imaging.Resize(src, shape.Width, shape.Height, imaging.Linear)
	}

	first, third := 0, 2
	if order == OrderBGR {
		first, third = 2, 0
	}

	pix := resized.Pix
	for y := 0; y < shape.Height; y++ {
		row := y * resized.Stride
		for x := 0; x < shape.Width; x++ {
			p := row + x*4
			i := y*shape.Width + x
			dst[i] = float32(pix[p+first]) * scale
			dst[planeSize+i] = float32(pix[p+1]) * scale
			dst[2*planeSize+i] = float32(pix[p+third]) * scale
		}
	}
	return nil
}
