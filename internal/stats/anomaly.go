package stats

import (
	"time"
)

// Direction classifies an anomaly.
type Direction string

const (
	DirectionDegradation Direction = "degradation"
	DirectionImprovement Direction = "improvement"
)

// Anomaly is an advisory finding: processing latency drifted. Anomalies are
// surfaced through stats and logs, they never gate the pipeline.
type Anomaly struct {
	Direction Direction     `json:"direction"`
	Recent    time.Duration `json:"recent_mean"`
	Preceding time.Duration `json:"preceding_mean"`
	Magnitude float64       `json:"magnitude"`
	At        time.Time     `json:"at"`
}

// AnomalyConfig holds detector settings.
type AnomalyConfig struct {
	SampleSize int     `yaml:"sample_size" json:"sample_size"`
	Threshold  float64 `yaml:"threshold" json:"threshold"`
}

// DefaultAnomalyConfig returns the default detector configuration: the last
// 10 samples against the preceding 10 with a 20% drift threshold.
func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		SampleSize: 10,
		Threshold:  0.2,
	}
}

// AnomalyDetector compares the recent latency mean with the preceding one.
type AnomalyDetector struct {
	config AnomalyConfig
}

// NewAnomalyDetector creates a detector.
func NewAnomalyDetector(cfg AnomalyConfig) *AnomalyDetector {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 10
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.2
	}
	return &AnomalyDetector{config: cfg}
}

// Check inspects the window. Returns nil when there is no anomaly or not
// enough samples.
func (d *AnomalyDetector) Check(w *LatencyWindow) *Anomaly {
	recent, preceding, ok := w.RecentMeans(d.config.SampleSize)
	if !ok || preceding == 0 {
		return nil
	}

	drift := (float64(recent) - float64(preceding)) / float64(preceding)
	if drift > d.config.Threshold {
		return &Anomaly{
			Direction: DirectionDegradation,
			Recent:    recent,
			Preceding: preceding,
			Magnitude: drift,
			At:        time.Now().UTC(),
		}
	}
	if drift < -d.config.Threshold {
		return &Anomaly{
			Direction: DirectionImprovement,
			Recent:    recent,
			Preceding: preceding,
			Magnitude: -drift,
			At:        time.Now().UTC(),
		}
	}
	return nil
}
