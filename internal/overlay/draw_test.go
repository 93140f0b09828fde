package overlay

import (
	"image"
	"image/color"
	"testing"
	"time"

	peoplecounter "github.com/e7canasta/orion-care-sensor/modules/people-counter"
)

func blackFrame(w, h int) peoplecounter.Frame {
	return peoplecounter.Frame{Seq: 1, Width: w, Height: h, Data: make([]byte, w*h*3)}
}

func TestRender_DrawsDetectionBox(t *testing.T) {
	d := New(Config{})
	result := peoplecounter.FrameResult{
		RawCount: 1,
		Detections: []peoplecounter.Detection{
			{Confidence: 0.9, Pixels: image.Rect(100, 80, 160, 140)},
		},
		InferenceLatency: 12 * time.Millisecond,
		MeanConfidence:   0.9,
	}

	img, err := d.Render(blackFrame(200, 160), result)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 200, 160) {
		t.Fatalf("bounds = %v", img.Bounds())
	}

	edges := []image.Point{
		{100, 110}, // left
		{160, 110}, // right
		{130, 80},  // top
		{130, 140}, // bottom
	}
	for _, p := range edges {
		r, g, b, _ := img.At(p.X, p.Y).RGBA()
		if g>>8 < 200 || r>>8 > 50 || b>>8 > 50 {
			t.Errorf("pixel %v = (%d,%d,%d), want green", p, r>>8, g>>8, b>>8)
		}
	}

	r, g, b, _ := img.At(130, 110).RGBA()
	if r != 0 || g != 0 || b != 0 {
		t.Errorf("box interior must stay untouched, got (%d,%d,%d)", r>>8, g>>8, b>>8)
	}
}

func TestRender_DrawsTelemetryText(t *testing.T) {
	d := New(Config{Color: color.RGBA{R: 255, A: 255}})

	img, err := d.Render(blackFrame(240, 60), peoplecounter.FrameResult{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	lit := 0
	for y := 8; y < 44; y++ {
		for x := 20; x < 200; x++ {
			if r, _, _, _ := img.At(x, y).RGBA(); r > 0 {
				lit++
			}
		}
	}
	if lit == 0 {
		t.Fatal("expected text pixels in the telemetry area")
	}
}

func TestRender_InvalidFrame(t *testing.T) {
	d := New(Config{})
	frame := peoplecounter.Frame{Width: 4, Height: 4, Data: []byte{1, 2, 3}}

	if _, err := d.Render(frame, peoplecounter.FrameResult{}); err == nil {
		t.Fatal("expected error for truncated frame")
	}
}

func TestRender_DoesNotModifyFrame(t *testing.T) {
	frame := blackFrame(50, 50)
	result := peoplecounter.FrameResult{
		Detections: []peoplecounter.Detection{{Pixels: image.Rect(5, 5, 20, 20)}},
	}

	if _, err := New(Config{}).Render(frame, result); err != nil {
		t.Fatalf("Render: %v", err)
	}
	for i, v := range frame.Data {
		if v != 0 {
			t.Fatalf("frame data modified at %d", i)
		}
	}
}
