package geometry

import (
	"fmt"
	"math"

	"drowsiness-monitor/backend/internal/models"
)

// Extractor selects the eye landmarks of one face and converts them to
// pixel space. It holds no mutable state.
type Extractor struct {
	topology Topology
}

func NewExtractor(topologyID string) (*Extractor, error) {
	t, err := LookupTopology(topologyID)
	if err != nil {
		return nil, err
	}
	return &Extractor{topology: t}, nil
}

func (e *Extractor) Topology() Topology {
	return e.topology
}

// Extract returns the left and right eye sets of a face in pixel space:
// pixel = (x * width, y * height).
func (e *Extractor) Extract(landmarks []models.LandmarkPoint, width, height int) (left, right models.EyeLandmarkSet, err error) {
	if need := e.topology.Required(); len(landmarks) < need {
		return left, right, fmt.Errorf("%w: %d landmarks, topology %s needs %d",
			ErrMalformedInput, len(landmarks), e.topology.ID, need)
	}
	if width <= 0 || height <= 0 {
		return left, right, fmt.Errorf("%w: frame size %dx%d", ErrMalformedInput, width, height)
	}

	w, h := float64(width), float64(height)
	for i := 0; i < 6; i++ {
		left[i] = toPixel(landmarks[e.topology.LeftEye[i]], w, h)
		right[i] = toPixel(landmarks[e.topology.RightEye[i]], w, h)
		if !finite(left[i]) || !finite(right[i]) {
			return models.EyeLandmarkSet{}, models.EyeLandmarkSet{},
				fmt.Errorf("%w: eye landmark %d is not finite in pixel space", ErrMalformedInput, i)
		}
	}
	return left, right, nil
}

func toPixel(p models.LandmarkPoint, w, h float64) models.Point {
	return models.Point{X: p.X * w, Y: p.Y * h}
}

func finite(p models.Point) bool {
	return !math.IsInf(p.X, 0) && !math.IsNaN(p.X) && !math.IsInf(p.Y, 0) && !math.IsNaN(p.Y)
}
