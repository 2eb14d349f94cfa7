package perclos

import (
	"drowsiness-monitor/backend/internal/config"
	"drowsiness-monitor/backend/internal/models"
)

// Thresholds are the PERCLOS percentages at which each label starts. Each
// tier is closed on its lower bound: p < Drowsy is Alert,
// Drowsy <= p < Fatigue is Drowsy, p >= Fatigue is Fatigue.
type Thresholds struct {
	Drowsy  float64
	Fatigue float64
}

var DefaultThresholds = Thresholds{
	Drowsy:  config.DefaultDrowsyPercent,
	Fatigue: config.DefaultFatiguePercent,
}

func ThresholdsFrom(cfg config.Pipeline) Thresholds {
	return Thresholds{Drowsy: cfg.DrowsyPercent, Fatigue: cfg.FatiguePercent}
}

func (t Thresholds) Classify(perclos float64) models.Label {
	switch {
	case perclos >= t.Fatigue:
		return models.Fatigue
	case perclos >= t.Drowsy:
		return models.Drowsy
	default:
		return models.Alert
	}
}

// Classify maps a PERCLOS percentage to a label using DefaultThresholds.
func Classify(perclos float64) models.Label {
	return DefaultThresholds.Classify(perclos)
}
