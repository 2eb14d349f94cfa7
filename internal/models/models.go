package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// LandmarkPoint is one detector landmark in normalized image coordinates.
// X and Y are nominally in [0,1]; the range is not enforced.
type LandmarkPoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z,omitempty"`
	Visibility float64 `json:"visibility,omitempty"`
}

// Point is a 2D point in pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EyeLandmarkSet holds the six eye points in anatomical order:
// outer corner, two upper-lid points, inner corner, two lower-lid points.
type EyeLandmarkSet [6]Point

// Face is the full landmark list for one detected face.
type Face struct {
	Landmarks []LandmarkPoint `json:"landmarks"`
}

// Frame is a captured image handed to the landmark detector.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Seq       uint64
	Timestamp time.Time
}

// DetectorOutput is one completion from the landmark detector. Exactly one of
// Faces (possibly empty) or Err is meaningful.
type DetectorOutput struct {
	SessionID   string
	Seq         uint64
	Timestamp   time.Time
	FrameWidth  int
	FrameHeight int
	Faces       []Face
	Err         *DetectorError
}

// ErrorCode is the coarse classification of a detector failure.
type ErrorCode int

const (
	OtherError ErrorCode = iota
	AcceleratorError
)

func (c ErrorCode) String() string {
	switch c {
	case AcceleratorError:
		return "ACCELERATOR_ERROR"
	default:
		return "OTHER_ERROR"
	}
}

// ParseErrorCode maps a wire name to an ErrorCode. Unknown names map to OtherError.
func ParseErrorCode(s string) ErrorCode {
	switch strings.ToUpper(s) {
	case "ACCELERATOR_ERROR", "GPU_ERROR":
		return AcceleratorError
	default:
		return OtherError
	}
}

func (c ErrorCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ErrorCode) UnmarshalText(b []byte) error {
	*c = ParseErrorCode(string(b))
	return nil
}

// DetectorError is a failure reported by the landmark detector.
type DetectorError struct {
	Message string    `json:"message"`
	Code    ErrorCode `json:"code"`
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector %s: %s", e.Code, e.Message)
}

// Delegate selects the detector's inference backend. The pipeline never
// interprets it; it is passed through to the detector.
type Delegate string

const (
	DelegateCPU Delegate = "CPU"
	DelegateGPU Delegate = "GPU"
)

// ParseDelegate accepts "cpu"/"gpu" in any case.
func ParseDelegate(s string) (Delegate, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CPU":
		return DelegateCPU, nil
	case "GPU":
		return DelegateGPU, nil
	default:
		return "", fmt.Errorf("unknown accelerator delegate %q", s)
	}
}

// FrameMetrics is the per-frame eye measurement fed to the aggregator.
type FrameMetrics struct {
	LeftEAR    float64   `json:"left_ear"`
	RightEAR   float64   `json:"right_ear"`
	EyesClosed bool      `json:"eyes_closed"`
	Timestamp  time.Time `json:"timestamp"`
}

// MarshalJSON encodes non-finite EAR values (degenerate geometry) as null.
func (m FrameMetrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		LeftEAR    *float64  `json:"left_ear"`
		RightEAR   *float64  `json:"right_ear"`
		EyesClosed bool      `json:"eyes_closed"`
		Timestamp  time.Time `json:"timestamp"`
	}{FiniteOrNil(m.LeftEAR), FiniteOrNil(m.RightEAR), m.EyesClosed, m.Timestamp})
}

// FiniteOrNil returns nil for NaN and infinities.
func FiniteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Label is the drowsiness classification of a PERCLOS value.
type Label int

const (
	Alert Label = iota
	Drowsy
	Fatigue
)

func (l Label) String() string {
	switch l {
	case Drowsy:
		return "Drowsy"
	case Fatigue:
		return "Fatigue"
	default:
		return "Alert"
	}
}

func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Label) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Alert":
		*l = Alert
	case "Drowsy":
		*l = Drowsy
	case "Fatigue":
		*l = Fatigue
	default:
		return fmt.Errorf("unknown label %q", b)
	}
	return nil
}
