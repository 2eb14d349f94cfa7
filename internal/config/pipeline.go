package config

import (
	"errors"
	"fmt"

	"drowsiness-monitor/backend/internal/models"
)

// Default pipeline settings.
const (
	DefaultEARThreshold   = 0.2
	DefaultWindowSeconds  = 30
	DefaultFrameRateHint  = 30
	DefaultTopology       = "mediapipe-face-mesh/478-v1"
	DefaultDrowsyPercent  = 20.0
	DefaultFatiguePercent = 30.0
)

// Window size limits. Their product bounds the ClosureWindow allocation.
const (
	MaxWindowSeconds = 3600
	MaxFrameRateHint = 240
	MaxWindowFrames  = MaxWindowSeconds * MaxFrameRateHint
)

// Pipeline holds the settings of one detection session. It is a value type:
// the With* methods return an updated copy and never mutate the receiver.
type Pipeline struct {
	EARThreshold  float64         // both eyes below this count as closed
	WindowSeconds int             // PERCLOS window duration
	FrameRateHint int             // only used to size the window in frames
	Delegate      models.Delegate // passed through to the detector
	Topology      string          // landmark index table identifier

	DrowsyPercent  float64 // PERCLOS at which Drowsy starts
	FatiguePercent float64 // PERCLOS at which Fatigue starts
}

func DefaultPipeline() Pipeline {
	return Pipeline{
		EARThreshold:   DefaultEARThreshold,
		WindowSeconds:  DefaultWindowSeconds,
		FrameRateHint:  DefaultFrameRateHint,
		Delegate:       models.DelegateCPU,
		Topology:       DefaultTopology,
		DrowsyPercent:  DefaultDrowsyPercent,
		FatiguePercent: DefaultFatiguePercent,
	}
}

// WindowFrames is the ClosureWindow capacity.
func (p Pipeline) WindowFrames() int {
	return p.WindowSeconds * p.FrameRateHint
}

func (p Pipeline) WithEARThreshold(v float64) Pipeline {
	p.EARThreshold = v
	return p
}

func (p Pipeline) WithWindow(seconds, frameRate int) Pipeline {
	p.WindowSeconds = seconds
	p.FrameRateHint = frameRate
	return p
}

func (p Pipeline) WithDelegate(d models.Delegate) Pipeline {
	p.Delegate = d
	return p
}

func (p Pipeline) WithTopology(id string) Pipeline {
	p.Topology = id
	return p
}

func (p Pipeline) WithLabelThresholds(drowsy, fatigue float64) Pipeline {
	p.DrowsyPercent = drowsy
	p.FatiguePercent = fatigue
	return p
}

// WithProfile applies a driver calibration. Zero-valued profile fields keep
// the current setting.
func (p Pipeline) WithProfile(pr models.Profile) Pipeline {
	if pr.EARThreshold > 0 {
		p = p.WithEARThreshold(pr.EARThreshold)
	}
	if pr.WindowSeconds > 0 || pr.FrameRateHint > 0 {
		secs, fps := p.WindowSeconds, p.FrameRateHint
		if pr.WindowSeconds > 0 {
			secs = pr.WindowSeconds
		}
		if pr.FrameRateHint > 0 {
			fps = pr.FrameRateHint
		}
		p = p.WithWindow(secs, fps)
	}
	if pr.Delegate != "" {
		p = p.WithDelegate(pr.Delegate)
	}
	return p
}

func (p Pipeline) Validate() error {
	var errs []error
	if !(p.EARThreshold > 0) {
		errs = append(errs, fmt.Errorf("ear threshold must be positive, got %v", p.EARThreshold))
	}
	if p.WindowSeconds <= 0 || p.WindowSeconds > MaxWindowSeconds {
		errs = append(errs, fmt.Errorf("window seconds must be in 1..%d, got %d", MaxWindowSeconds, p.WindowSeconds))
	}
	if p.FrameRateHint <= 0 || p.FrameRateHint > MaxFrameRateHint {
		errs = append(errs, fmt.Errorf("frame rate hint must be in 1..%d, got %d", MaxFrameRateHint, p.FrameRateHint))
	}
	if p.Delegate != models.DelegateCPU && p.Delegate != models.DelegateGPU {
		errs = append(errs, fmt.Errorf("unknown delegate %q", p.Delegate))
	}
	if p.Topology == "" {
		errs = append(errs, errors.New("landmark topology is required"))
	}
	if p.DrowsyPercent <= 0 || p.FatiguePercent <= p.DrowsyPercent || p.FatiguePercent > 100 {
		errs = append(errs, fmt.Errorf("label thresholds must satisfy 0 < drowsy < fatigue <= 100, got %v/%v",
			p.DrowsyPercent, p.FatiguePercent))
	}
	return errors.Join(errs...)
}
