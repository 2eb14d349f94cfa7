package perclos

import (
	"time"

	"drowsiness-monitor/backend/internal/config"
	"drowsiness-monitor/backend/internal/models"
)

// Stats is a snapshot of the aggregator window.
type Stats struct {
	Perclos float64
	Closed  int
	Len     int
	Cap     int
}

// Aggregator turns per-frame eye measurements into a PERCLOS percentage over
// a trailing window of WindowFrames samples. It owns its window exclusively
// and must be driven by a single goroutine.
type Aggregator struct {
	threshold float64
	window    *Window
}

func NewAggregator(cfg config.Pipeline) *Aggregator {
	return &Aggregator{
		threshold: cfg.EARThreshold,
		window:    NewWindow(cfg.WindowFrames()),
	}
}

// IsClosed reports a closure event. Both eyes must be below the threshold;
// a single closed eye does not count.
func (a *Aggregator) IsClosed(leftEAR, rightEAR float64) bool {
	return leftEAR < a.threshold && rightEAR < a.threshold
}

// Measure builds the FrameMetrics for one face.
func (a *Aggregator) Measure(leftEAR, rightEAR float64, ts time.Time) models.FrameMetrics {
	return models.FrameMetrics{
		LeftEAR:    leftEAR,
		RightEAR:   rightEAR,
		EyesClosed: a.IsClosed(leftEAR, rightEAR),
		Timestamp:  ts,
	}
}

// Ingest adds one frame to the window and returns the updated PERCLOS.
// Closure is decided from the EAR values with this aggregator's threshold.
func (a *Aggregator) Ingest(m models.FrameMetrics) float64 {
	a.window.Push(a.IsClosed(m.LeftEAR, m.RightEAR))
	return a.window.Percent()
}

// IngestNoFace records a frame without a usable face as an open sample.
func (a *Aggregator) IngestNoFace() float64 {
	a.window.Push(false)
	return a.window.Percent()
}

func (a *Aggregator) Stats() Stats {
	return Stats{
		Perclos: a.window.Percent(),
		Closed:  a.window.Closed(),
		Len:     a.window.Len(),
		Cap:     a.window.Cap(),
	}
}

// Reset discards all samples, as at the start of a new session.
func (a *Aggregator) Reset() {
	a.window.Reset()
}
