package geometry

import (
	"errors"
	"math"

	"drowsiness-monitor/backend/internal/models"
)

// ErrDegenerateGeometry means the eye corners coincide, so EAR is undefined.
var ErrDegenerateGeometry = errors.New("degenerate eye geometry")

// minHorizontal is the smallest corner-to-corner distance, in pixels,
// for which EAR is computed.
const minHorizontal = 1e-6

// EAR computes (|p1-p5| + |p2-p4|) / (2 |p0-p3|).
// For degenerate geometry it returns +Inf together with ErrDegenerateGeometry;
// +Inf never compares below a closure threshold.
func EAR(eye models.EyeLandmarkSet) (float64, error) {
	horizontal := Distance(eye[0], eye[3])
	if horizontal < minHorizontal || math.IsNaN(horizontal) {
		return math.Inf(1), ErrDegenerateGeometry
	}
	vertical := Distance(eye[1], eye[5]) + Distance(eye[2], eye[4])
	return vertical / (2 * horizontal), nil
}

// Distance is the Euclidean distance between two pixel-space points.
func Distance(a, b models.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
