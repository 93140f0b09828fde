package peoplecounter

import (
	"fmt"
	"image"
	"math"
)

// detectionRowSize is the width of one SSD DetectionOutput row:
// [image_id, label, confidence, xmin, ymin, xmax, ymax]
const detectionRowSize = 7

// ValidateThreshold checks that a probability threshold lies in [0,1].
func ValidateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return &ConfigurationError{
			Field:  "prob_threshold",
			Reason: fmt.Sprintf("%v is outside [0,1]", threshold),
		}
	}
	return nil
}

// ParseDetections converts a [1,1,N,7] detection tensor into the accepted
// detections and the raw occupancy count of the frame.
//
// A row is accepted iff its confidence is strictly greater than threshold.
// Accepted boxes are denormalized with round(coord * size) and are not
// clamped to the frame bounds. A row with a negative image_id ends the list.
func ParseDetections(t Tensor, threshold float64, frameWidth, frameHeight int) ([]Detection, int, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, 0, err
	}

	rows, err := detectionRows(t)
	if err != nil {
		return nil, 0, err
	}

	// Compare at tensor precision so a confidence equal to the threshold is rejected
	cut := float32(threshold)

	detections := make([]Detection, 0, 8)
	for i := 0; i < rows; i++ {
		row := t.Data[i*detectionRowSize : (i+1)*detectionRowSize]
		if row[0] < 0 {
			break
		}

		confidence := row[2]
		if confidence <= cut {
			continue
		}

		box := BBox{XMin: row[3], YMin: row[4], XMax: row[5], YMax: row[6]}
		detections = append(detections, Detection{
			Confidence: confidence,
			Box:        box,
			Pixels:     denormalize(box, frameWidth, frameHeight),
			Label:      int(row[1]),
		})
	}

	return detections, len(detections), nil
}

// MeanConfidence returns the mean confidence over every row with a positive
// confidence, or 0 when there is none.
func MeanConfidence(t Tensor) float64 {
	rows, err := detectionRows(t)
	if err != nil {
		return 0
	}

	var total float64
	var n int
	for i := 0; i < rows; i++ {
		row := t.Data[i*detectionRowSize : (i+1)*detectionRowSize]
		if row[0] < 0 {
			break
		}
		if row[2] > 0 {
			total += float64(row[2])
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// detectionRows validates the tensor layout and returns N.
func detectionRows(t Tensor) (int, error) {
	if len(t.Shape) != 4 {
		return 0, fmt.Errorf("%w: rank %d, want 4", ErrMalformedTensor, len(t.Shape))
	}
	if t.Shape[0] != 1 || t.Shape[1] != 1 || t.Shape[3] != detectionRowSize {
		return 0, fmt.Errorf("%w: shape %v, want [1 1 N %d]", ErrMalformedTensor, t.Shape, detectionRowSize)
	}

	rows := int(t.Shape[2])
	if rows < 0 || len(t.Data) != rows*detectionRowSize {
		return 0, fmt.Errorf("%w: %d values for %d rows", ErrMalformedTensor, len(t.Data), rows)
	}
	return rows, nil
}

func denormalize(b BBox, width, height int) image.Rectangle {
	// image.Rect would canonicalize inverted boxes; keep them as reported
	return image.Rectangle{
		Min: image.Pt(
			int(math.Round(float64(b.XMin)*float64(width))),
			int(math.Round(float64(b.YMin)*float64(height))),
		),
		Max: image.Pt(
			int(math.Round(float64(b.XMax)*float64(width))),
			int(math.Round(float64(b.YMax)*float64(height))),
		),
	}
}
