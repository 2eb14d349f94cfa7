package geometry

import "drowsiness-monitor/backend/internal/models"

// SyntheticFace builds a landmark list in topology t whose eyes measure the
// given EAR values once projected onto a width x height frame. Landmarks not
// referenced by the topology sit at the frame center. Used by the test client
// and by tests.
func SyntheticFace(t Topology, width, height int, leftEAR, rightEAR float64) []models.LandmarkPoint {
	n := t.Required()
	if n < 478 {
		n = 478
	}
	pts := make([]models.LandmarkPoint, n)
	for i := range pts {
		pts[i] = models.LandmarkPoint{X: 0.5, Y: 0.5}
	}

	w, h := float64(width), float64(height)
	place := func(idx [6]int, cx, cy, ear float64) {
		r := 0.06 * w
		v := 2 * r * ear
		eye := models.EyeLandmarkSet{
			{X: cx - r, Y: cy},
			{X: cx - r/3, Y: cy - v/2},
			{X: cx + r/3, Y: cy - v/2},
			{X: cx + r, Y: cy},
			{X: cx + r/3, Y: cy + v/2},
			{X: cx - r/3, Y: cy + v/2},
		}
		for i, p := range eye {
			pts[idx[i]] = models.LandmarkPoint{X: p.X / w, Y: p.Y / h}
		}
	}
	place(t.LeftEye, 0.35*w, 0.4*h, leftEAR)
	place(t.RightEye, 0.65*w, 0.4*h, rightEAR)
	return pts
}
