// Package overlay annotates frames with detections and inference telemetry.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	peoplecounter "github.com/e7canasta/orion-care-sensor/modules/people-counter"
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Config controls overlay appearance.
type Config struct {
	Color     color.Color // default: green
	LineWidth float64     // default: 1
	FontSize  float64     // default: 12
}

// Drawer implements peoplecounter.Overlay with gg.
type Drawer struct {
	color     color.Color
	lineWidth float64
	face      *truetype.Options
}

// New creates a Drawer, filling in defaults for zero fields.
func New(cfg Config) *Drawer {
	d := &Drawer{
		color:     cfg.Color,
		lineWidth: cfg.LineWidth,
		face:      &truetype.Options{Size: cfg.FontSize},
	}
	if d.color == nil {
		d.color = color.RGBA{G: 255, A: 255}
	}
	if d.lineWidth <= 0 {
		d.lineWidth = 1
	}
	if d.face.Size <= 0 {
		d.face.Size = 12
	}
	return d
}

// Render draws one rectangle per accepted detection, the inference time at
// (20,20) and the mean output confidence at (20,40).
func (d *Drawer) Render(frame peoplecounter.Frame, result peoplecounter.FrameResult) (image.Image, error) {
	img, err := frame.Image()
	if err != nil {
		return nil, fmt.Errorf("overlay: %w", err)
	}

	dc := gg.NewContextForRGBA(img)
	for _, det := range result.Detections {
		drawRectangle(dc, det.Pixels, d.color, d.lineWidth)
	}

	latencyMS := float64(result.InferenceLatency.Microseconds()) / 1000
	drawString(dc, fmt.Sprintf("Inference time: %.1fms", latencyMS), image.Pt(20, 20), d.color, d.face)
	drawString(dc, fmt.Sprintf("Output confidence: %.1f%%", result.MeanConfidence*100), image.Pt(20, 40), d.color, d.face)

	return img, nil
}

// drawString writes text with its baseline at p.
func drawString(dc *gg.Context, text string, p image.Point, c color.Color, opts *truetype.Options) {
	dc.SetFontFace(truetype.NewFace(font, opts))
	dc.SetColor(c)
	dc.DrawString(text, float64(p.X), float64(p.Y))
}

// drawRectangle strokes r. Coordinates are shifted to pixel centers so a
// 1px line covers exactly one pixel column or row.
func drawRectangle(dc *gg.Context, r image.Rectangle, c color.Color, width float64) {
	x0, y0 := float64(r.Min.X)+0.5, float64(r.Min.Y)+0.5
	x1, y1 := float64(r.Max.X)+0.5, float64(r.Max.Y)+0.5

	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawLine(x0, y0, x1, y0)
	dc.DrawLine(x1, y0, x1, y1)
	dc.DrawLine(x1, y1, x0, y1)
	dc.DrawLine(x0, y1, x0, y0)
	dc.Stroke()
}
