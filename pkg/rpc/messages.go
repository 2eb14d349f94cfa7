package rpc

// Landmark is a normalized face landmark.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z,omitempty"`
	Visibility float64 `json:"visibility,omitempty"`
}

type Face struct {
	Landmarks []Landmark `json:"landmarks"`
}

// DetectorError codes: "OTHER_ERROR", "ACCELERATOR_ERROR".
type DetectorError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// LandmarkFrame is one detector completion: faces (possibly none) or an error.
type LandmarkFrame struct {
	SessionID   string         `json:"session_id,omitempty"`
	Seq         uint64         `json:"seq"`
	TimestampMs int64          `json:"timestamp_ms"`
	Width       int32          `json:"width"`
	Height      int32          `json:"height"`
	Faces       []Face         `json:"faces,omitempty"`
	Error       *DetectorError `json:"error,omitempty"`
}

// ImageFrame is a captured image submitted to the landmark detector.
type ImageFrame struct {
	SessionID   string `json:"session_id"`
	Seq         uint64 `json:"seq"`
	TimestampMs int64  `json:"timestamp_ms"`
	Width       int32  `json:"width"`
	Height      int32  `json:"height"`
	Data        []byte `json:"data"`
	Delegate    string `json:"delegate"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Line is an overlay segment between two pixel-space points.
type Line struct {
	From Point `json:"from"`
	To   Point `json:"to"`
}

type EyeGeometry struct {
	Left  []Point `json:"left"`
	Right []Point `json:"right"`
	Lines []Line  `json:"lines,omitempty"`
}

// ResultMessage is a published pipeline result, or an error event when
// Kind is "error".
type ResultMessage struct {
	SessionID   string         `json:"session_id"`
	Seq         uint64         `json:"seq"`
	Kind        string         `json:"kind"`
	Perclos     float64        `json:"perclos"`
	Label       string         `json:"label"`
	FacePresent bool           `json:"face_present"`
	LeftEAR     *float64       `json:"left_ear,omitempty"` // nil when no face or degenerate
	RightEAR    *float64       `json:"right_ear,omitempty"`
	EyesClosed  bool           `json:"eyes_closed"`
	WindowLen   int32          `json:"window_len"`
	WindowCap   int32          `json:"window_cap"`
	TimestampMs int64          `json:"timestamp_ms"`
	Geometry    *EyeGeometry   `json:"geometry,omitempty"`
	Error       *DetectorError `json:"error,omitempty"`
}

type LatestRequest struct {
	SessionID string `json:"session_id"`
}
