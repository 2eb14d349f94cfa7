package rpc

import (
	"time"

	"drowsiness-monitor/backend/internal/models"
)

// ToDetectorOutput converts a wire frame into the pipeline's detector output.
func ToDetectorOutput(f *LandmarkFrame) models.DetectorOutput {
	out := models.DetectorOutput{
		SessionID:   f.SessionID,
		Seq:         f.Seq,
		Timestamp:   time.UnixMilli(f.TimestampMs),
		FrameWidth:  int(f.Width),
		FrameHeight: int(f.Height),
	}
	if f.TimestampMs == 0 {
		out.Timestamp = time.Now()
	}
	if f.Error != nil {
		out.Err = &models.DetectorError{
			Message: f.Error.Message,
			Code:    models.ParseErrorCode(f.Error.Code),
		}
		return out
	}

	out.Faces = make([]models.Face, len(f.Faces))
	for i, face := range f.Faces {
		pts := make([]models.LandmarkPoint, len(face.Landmarks))
		for j, l := range face.Landmarks {
			pts[j] = models.LandmarkPoint{X: l.X, Y: l.Y, Z: l.Z, Visibility: l.Visibility}
		}
		out.Faces[i] = models.Face{Landmarks: pts}
	}
	return out
}

// FromLandmarks builds a wire frame with one face per landmark list. No
// lists means no face was detected.
func FromLandmarks(seq uint64, ts time.Time, width, height int, faces ...[]models.LandmarkPoint) *LandmarkFrame {
	f := &LandmarkFrame{
		Seq:         seq,
		TimestampMs: ts.UnixMilli(),
		Width:       int32(width),
		Height:      int32(height),
		Faces:       make([]Face, len(faces)),
	}
	for i, pts := range faces {
		lms := make([]Landmark, len(pts))
		for j, p := range pts {
			lms[j] = Landmark{X: p.X, Y: p.Y, Z: p.Z, Visibility: p.Visibility}
		}
		f.Faces[i] = Face{Landmarks: lms}
	}
	return f
}

// FromResult converts a published result into its wire form.
func FromResult(r models.Result) *ResultMessage {
	msg := &ResultMessage{
		SessionID:   r.SessionID,
		Seq:         r.Seq,
		Kind:        string(r.Kind),
		Perclos:     r.Perclos,
		Label:       r.Label.String(),
		FacePresent: r.FacePresent,
		WindowLen:   int32(r.WindowLen),
		WindowCap:   int32(r.WindowCap),
		TimestampMs: r.Timestamp.UnixMilli(),
	}
	if r.Metrics != nil {
		msg.LeftEAR = models.FiniteOrNil(r.Metrics.LeftEAR)
		msg.RightEAR = models.FiniteOrNil(r.Metrics.RightEAR)
		msg.EyesClosed = r.Metrics.EyesClosed
	}
	if r.Geometry != nil {
		msg.Geometry = &EyeGeometry{
			Left:  toPoints(r.Geometry.Left),
			Right: toPoints(r.Geometry.Right),
			Lines: make([]Line, 0, 12),
		}
		for _, seg := range r.Geometry.Outline() {
			msg.Geometry.Lines = append(msg.Geometry.Lines, Line{
				From: Point{X: seg.From.X, Y: seg.From.Y},
				To:   Point{X: seg.To.X, Y: seg.To.Y},
			})
		}
	}
	if r.Error != nil {
		msg.Error = &DetectorError{Message: r.Error.Message, Code: r.Error.Code.String()}
	}
	return msg
}

// ToImageFrame converts a captured frame for submission to the detector.
func ToImageFrame(sessionID string, f models.Frame, delegate models.Delegate) *ImageFrame {
	return &ImageFrame{
		SessionID:   sessionID,
		Seq:         f.Seq,
		TimestampMs: f.Timestamp.UnixMilli(),
		Width:       int32(f.Width),
		Height:      int32(f.Height),
		Data:        f.Data,
		Delegate:    string(delegate),
	}
}

func toPoints(eye models.EyeLandmarkSet) []Point {
	pts := make([]Point, len(eye))
	for i, p := range eye {
		pts[i] = Point{X: p.X, Y: p.Y}
	}
	return pts
}
