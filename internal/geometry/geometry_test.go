package geometry

import (
	"errors"
	"math"
	"testing"

	"drowsiness-monitor/backend/internal/models"
)

func TestLookupTopology(t *testing.T) {
	topo, err := LookupTopology("mediapipe-face-mesh/478-v1")
	if err != nil {
		t.Fatalf("LookupTopology: %v", err)
	}
	if topo.MaxIndex() != 387 {
		t.Errorf("MaxIndex: got %d, want 387", topo.MaxIndex())
	}
	if topo.Required() != 468 {
		t.Errorf("Required: got %d, want 468", topo.Required())
	}

	_, err = LookupTopology("dlib-68")
	if !errors.Is(err, ErrUnknownTopology) {
		t.Errorf("unknown topology: got %v, want ErrUnknownTopology", err)
	}
}

func TestExtractor_Extract(t *testing.T) {
	ext, err := NewExtractor(FaceMesh478.ID)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	landmarks := make([]models.LandmarkPoint, 478)
	landmarks[33] = models.LandmarkPoint{X: 0.25, Y: 0.5}
	landmarks[373] = models.LandmarkPoint{X: 0.75, Y: 0.1}

	left, right, err := ext.Extract(landmarks, 640, 480)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if left[0] != (models.Point{X: 160, Y: 240}) {
		t.Errorf("left outer corner: got %+v, want {160 240}", left[0])
	}
	if right[5] != (models.Point{X: 480, Y: 48}) {
		t.Errorf("right p5: got %+v, want {480 48}", right[5])
	}
}

func TestExtractor_MalformedInput(t *testing.T) {
	ext, _ := NewExtractor(FaceMesh478.ID)

	tests := []struct {
		name   string
		count  int
		width  int
		height int
	}{
		{"empty", 0, 640, 480},
		{"shorter than max index", 300, 640, 480},
		{"below face mesh minimum", 467, 640, 480},
		{"zero width", 478, 0, 480},
		{"negative height", 478, 640, -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ext.Extract(make([]models.LandmarkPoint, tc.count), tc.width, tc.height)
			if !errors.Is(err, ErrMalformedInput) {
				t.Errorf("got %v, want ErrMalformedInput", err)
			}
		})
	}
}

func TestExtractor_AcceptsUnrefinedMesh(t *testing.T) {
	ext, _ := NewExtractor(FaceMesh478.ID)

	if _, _, err := ext.Extract(make([]models.LandmarkPoint, 468), 640, 480); err != nil {
		t.Errorf("468 landmarks: unexpected error %v", err)
	}
}

func TestExtractor_NonFinitePixels(t *testing.T) {
	ext, _ := NewExtractor(FaceMesh478.ID)

	tests := []struct {
		name string
		p    models.LandmarkPoint
	}{
		{"overflows to infinity", models.LandmarkPoint{X: 1e306, Y: 0.5}},
		{"infinite input", models.LandmarkPoint{X: 0.5, Y: math.Inf(-1)}},
		{"NaN input", models.LandmarkPoint{X: math.NaN(), Y: 0.5}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pts := SyntheticFace(FaceMesh478, 640, 480, 0.3, 0.3)
			pts[FaceMesh478.RightEye[2]] = tc.p

			left, right, err := ext.Extract(pts, 640, 480)
			if !errors.Is(err, ErrMalformedInput) {
				t.Fatalf("got %v, want ErrMalformedInput", err)
			}
			if left != (models.EyeLandmarkSet{}) || right != (models.EyeLandmarkSet{}) {
				t.Error("partial geometry returned with the error")
			}
		})
	}
}

func TestEAR(t *testing.T) {
	tests := []struct {
		name   string
		eye    models.EyeLandmarkSet
		expect float64
	}{
		{
			name: "horizontal line is fully closed",
			eye: models.EyeLandmarkSet{
				{X: 0, Y: 5}, {X: 1, Y: 5}, {X: 2, Y: 5}, {X: 3, Y: 5}, {X: 2, Y: 5}, {X: 1, Y: 5},
			},
			expect: 0,
		},
		{
			name: "square eye",
			eye: models.EyeLandmarkSet{
				{X: 0, Y: 1}, {X: 1, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 1}, {X: 1, Y: 2}, {X: 1, Y: 2},
			},
			expect: 1.0,
		},
		{
			name: "typical open eye",
			eye: models.EyeLandmarkSet{
				{X: 0, Y: 0}, {X: 10, Y: -3}, {X: 20, Y: -3}, {X: 30, Y: 0}, {X: 20, Y: 3}, {X: 10, Y: 3},
			},
			expect: 0.2,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EAR(tc.eye)
			if err != nil {
				t.Fatalf("EAR: %v", err)
			}
			if math.Abs(got-tc.expect) > 1e-9 {
				t.Errorf("EAR: got %v, want %v", got, tc.expect)
			}
		})
	}
}

func TestEAR_DegenerateGeometry(t *testing.T) {
	eye := models.EyeLandmarkSet{
		{X: 5, Y: 5}, {X: 5, Y: 0}, {X: 5, Y: 0}, {X: 5, Y: 5}, {X: 5, Y: 10}, {X: 5, Y: 10},
	}

	got, err := EAR(eye)
	if !errors.Is(err, ErrDegenerateGeometry) {
		t.Fatalf("got err %v, want ErrDegenerateGeometry", err)
	}
	if !math.IsInf(got, 1) {
		t.Errorf("got %v, want +Inf", got)
	}
}

func TestSyntheticFace_RoundTrip(t *testing.T) {
	ext, _ := NewExtractor(FaceMesh478.ID)

	for _, size := range [][2]int{{640, 480}, {480, 640}, {100, 100}} {
		face := SyntheticFace(FaceMesh478, size[0], size[1], 0.1, 0.3)
		left, right, err := ext.Extract(face, size[0], size[1])
		if err != nil {
			t.Fatalf("Extract %v: %v", size, err)
		}
		l, _ := EAR(left)
		r, _ := EAR(right)
		if math.Abs(l-0.1) > 1e-9 || math.Abs(r-0.3) > 1e-9 {
			t.Errorf("size %v: got EAR %.6f/%.6f, want 0.1/0.3", size, l, r)
		}
	}
}
