package telemetry

import (
	"fmt"
	"math"
	"time"
)

// Anomaly types
const (
	AnomalyPerformance = "performance"
	AnomalyAccuracy    = "accuracy"
	AnomalyPattern     = "pattern"
)

// Anomaly severities
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// AnomalyEvent describes one detected deviation from a stage's baseline
type AnomalyEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Stage       string    `json:"stage"`
	Description string    `json:"description"`
	Value       float64   `json:"value"`
	Threshold   float64   `json:"threshold"`
}

// detectAnomalies compares the incoming sample against the stage's moving
// baselines. Called with the collector lock held, before the sample is
// folded into the histories, so the baseline never includes the sample
// being judged.
func (c *Collector) detectAnomalies(state *stageState, eval Evaluation) []AnomalyEvent {
	var detected []AnomalyEvent

	durationMs := float64(eval.Duration.Nanoseconds()) / 1e6

	if anomaly := c.judge(state, AnomalyPerformance, state.durationHistory, durationMs, eval.Timestamp); anomaly != nil {
		detected = append(detected, *anomaly)
	}

	score := 0.0
	if eval.Success {
		score = 1.0
	}
	if anomaly := c.judge(state, AnomalyAccuracy, state.scoreHistory, score, eval.Timestamp); anomaly != nil {
		detected = append(detected, *anomaly)
	}

	if !state.lastEvaluation.IsZero() {
		arrivalMs := float64(eval.Timestamp.Sub(state.lastEvaluation).Nanoseconds()) / 1e6
		if anomaly := c.judge(state, AnomalyPattern, state.arrivalHistory, arrivalMs, eval.Timestamp); anomaly != nil {
			detected = append(detected, *anomaly)
		}
	}

	return detected
}

// judge reports an anomaly when the sample deviates from the history mean
// by more than the configured sensitivity
func (c *Collector) judge(state *stageState, anomalyType string, history []float64, value float64, at time.Time) *AnomalyEvent {
	if len(history) < c.config.MinSamples {
		return nil
	}

	baseline := mean(history)
	deviation := relativeDeviation(value, baseline)
	if deviation <= c.config.AnomalySensitivity {
		return nil
	}

	return &AnomalyEvent{
		Timestamp:   at,
		Type:        anomalyType,
		Severity:    c.scaleSeverity(deviation),
		Stage:       state.name,
		Description: describeAnomaly(anomalyType, state.name, value, baseline),
		Value:       value,
		Threshold:   baseline,
	}
}

// scaleSeverity maps deviation magnitude to a severity bucket
func (c *Collector) scaleSeverity(deviation float64) string {
	switch {
	case deviation > 3*c.config.AnomalySensitivity:
		return SeverityHigh
	case deviation > 2*c.config.AnomalySensitivity:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// relativeDeviation measures how far a value sits from its baseline,
// proportional to the baseline magnitude
func relativeDeviation(value, baseline float64) float64 {
	diff := math.Abs(value - baseline)
	if baseline == 0 {
		if diff == 0 {
			return 0
		}
		return diff
	}
	return diff / math.Abs(baseline)
}

func describeAnomaly(anomalyType, stageName string, value, baseline float64) string {
	switch anomalyType {
	case AnomalyPerformance:
		return fmt.Sprintf("%s attempt took %.1fms against a %.1fms baseline", stageName, value, baseline)
	case AnomalyAccuracy:
		return fmt.Sprintf("%s outcome score %.2f deviates from %.2f baseline", stageName, value, baseline)
	case AnomalyPattern:
		return fmt.Sprintf("%s arrival gap %.1fms deviates from %.1fms baseline", stageName, value, baseline)
	default:
		return fmt.Sprintf("%s metric %.2f deviates from %.2f baseline", stageName, value, baseline)
	}
}
