package models

import "time"

// ResultKind distinguishes metric results from detector error events.
type ResultKind string

const (
	KindMetric ResultKind = "metric"
	KindError  ResultKind = "error"
)

// Segment is a line between two pixel-space points, used for overlays.
type Segment struct {
	From Point `json:"from"`
	To   Point `json:"to"`
}

// EyeGeometry is the pixel-space eye landmark geometry of one frame.
type EyeGeometry struct {
	Left  EyeLandmarkSet `json:"left"`
	Right EyeLandmarkSet `json:"right"`
	Lines []Segment      `json:"lines,omitempty"` // Outline of Left and Right
}

// NewEyeGeometry builds the overlay geometry of both eyes, outline included.
func NewEyeGeometry(left, right EyeLandmarkSet) *EyeGeometry {
	g := &EyeGeometry{Left: left, Right: right}
	g.Lines = g.Outline()
	return g
}

// Outline returns the closed contour of both eyes as line segments.
func (g EyeGeometry) Outline() []Segment {
	segs := make([]Segment, 0, 12)
	for _, eye := range [2]EyeLandmarkSet{g.Left, g.Right} {
		// p0 -> p1 -> p2 -> p3 -> p4 -> p5 -> p0
		for i := range eye {
			segs = append(segs, Segment{From: eye[i], To: eye[(i+1)%len(eye)]})
		}
	}
	return segs
}

// Result is what the publisher exposes to the UI for one processed frame.
type Result struct {
	SessionID   string         `json:"session_id"`
	Seq         uint64         `json:"seq"`
	Kind        ResultKind     `json:"kind"`
	Perclos     float64        `json:"perclos"`
	Label       Label          `json:"label"`
	FacePresent bool           `json:"face_present"`
	Metrics     *FrameMetrics  `json:"metrics,omitempty"`
	Geometry    *EyeGeometry   `json:"geometry,omitempty"`
	Error       *DetectorError `json:"error,omitempty"`
	WindowLen   int            `json:"window_len"`
	WindowCap   int            `json:"window_cap"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Profile is a per-driver calibration of the pipeline configuration.
type Profile struct {
	DriverID      string    `json:"driver_id" db:"driver_id"`
	EARThreshold  float64   `json:"ear_threshold" db:"ear_threshold"`
	WindowSeconds int       `json:"window_seconds" db:"window_seconds"`
	FrameRateHint int       `json:"frame_rate_hint" db:"frame_rate_hint"`
	Delegate      Delegate  `json:"delegate" db:"delegate"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// SessionInfo summarizes a live session for the HTTP API.
type SessionInfo struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	StartedAt time.Time `json:"started_at"`
	Latest    *Result   `json:"latest,omitempty"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
	Code      string `json:"code,omitempty"`
}

type HealthStatus struct {
	Status         string  `json:"status"`
	GoBackend      string  `json:"go_backend"`
	Detector       bool    `json:"detector"`
	Database       bool    `json:"database"`
	ActiveSessions int     `json:"active_sessions"`
	UptimeSec      float64 `json:"uptime_sec"`
	Version        string  `json:"version,omitempty"`
}
