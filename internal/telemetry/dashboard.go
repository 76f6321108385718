package telemetry

import (
	"sort"
	"time"
)

// recentAnomalyWindow bounds the anomaly-probability estimate
const recentAnomalyWindow = time.Hour

// Dashboard is the structured operational summary served to dashboards
type Dashboard struct {
	GeneratedAt time.Time          `json:"generated_at"`
	UptimeSecs  float64            `json:"uptime_seconds"`
	Totals      DashboardTotals    `json:"totals"`
	Stages      []StagePerformance `json:"stages"`
	Anomalies   AnomalyBreakdown   `json:"anomalies"`
	Trends      []Trend            `json:"trends"`
	Predictions Predictions        `json:"predictions"`
}

// DashboardTotals aggregates cross-stage counters
type DashboardTotals struct {
	Evaluations       int64   `json:"evaluations"`
	Successes         int64   `json:"successes"`
	Failures          int64   `json:"failures"`
	Rejected          int64   `json:"rejected"`
	SuccessRate       float64 `json:"success_rate"`
	AverageDurationMs float64 `json:"average_duration_ms"`
}

// StagePerformance is the per-stage dashboard row
type StagePerformance struct {
	Name              string    `json:"name"`
	Evaluations       int64     `json:"evaluations"`
	SuccessRate       float64   `json:"success_rate"`
	AverageDurationMs float64   `json:"average_duration_ms"`
	Rejected          int64     `json:"rejected"`
	LastEvaluation    time.Time `json:"last_evaluation"`
	LastError         string    `json:"last_error,omitempty"`
}

// AnomalyBreakdown counts retained anomalies by type and severity
type AnomalyBreakdown struct {
	Total      int            `json:"total"`
	ByType     map[string]int `json:"by_type"`
	BySeverity map[string]int `json:"by_severity"`
	Recent     []AnomalyEvent `json:"recent"`
}

// Predictions carries naive short-horizon estimates derived from current
// rates and trend extrapolation
type Predictions struct {
	NextHourEvaluations float64 `json:"next_hour_evaluations"`
	ExpectedSuccessRate float64 `json:"expected_success_rate"`
	AnomalyProbability  float64 `json:"anomaly_probability"`
}

// DashboardSummary builds the dashboard document from current state
func (c *Collector) DashboardSummary() *Dashboard {
	snapshot := c.GetMetrics()

	dashboard := &Dashboard{
		GeneratedAt: snapshot.GeneratedAt,
		UptimeSecs:  snapshot.Uptime.Seconds(),
		Totals: DashboardTotals{
			Evaluations:       snapshot.Global.TotalEvaluations,
			Successes:         snapshot.Global.TotalSuccesses,
			Failures:          snapshot.Global.TotalFailures,
			Rejected:          snapshot.Global.TotalRejected,
			SuccessRate:       snapshot.Global.SuccessRate,
			AverageDurationMs: snapshot.Global.AverageDurationMs,
		},
		Anomalies: AnomalyBreakdown{
			ByType:     make(map[string]int),
			BySeverity: make(map[string]int),
		},
		Trends: snapshot.Trends,
	}

	names := make([]string, 0, len(snapshot.Stages))
	for name := range snapshot.Stages {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		stage := snapshot.Stages[name]
		dashboard.Stages = append(dashboard.Stages, StagePerformance{
			Name:              stage.Name,
			Evaluations:       stage.Evaluations,
			SuccessRate:       stage.SuccessRate,
			AverageDurationMs: stage.AverageDurationMs,
			Rejected:          stage.Rejected,
			LastEvaluation:    stage.LastEvaluation,
			LastError:         stage.LastError,
		})
	}

	dashboard.Anomalies.Total = len(snapshot.Anomalies)
	for _, anomaly := range snapshot.Anomalies {
		dashboard.Anomalies.ByType[anomaly.Type]++
		dashboard.Anomalies.BySeverity[anomaly.Severity]++
	}
	recentLimit := 10
	if len(snapshot.Anomalies) < recentLimit {
		recentLimit = len(snapshot.Anomalies)
	}
	dashboard.Anomalies.Recent = snapshot.Anomalies[len(snapshot.Anomalies)-recentLimit:]

	dashboard.Predictions = c.predict(snapshot)

	return dashboard
}

// predict derives short-horizon estimates. Load extrapolates the observed
// rate; success rate prefers the newest score trend over the lifetime
// average; anomaly probability is the recent anomaly share of evaluations.
func (c *Collector) predict(snapshot *MetricsSnapshot) Predictions {
	predictions := Predictions{
		ExpectedSuccessRate: snapshot.Global.SuccessRate,
	}

	if seconds := snapshot.Uptime.Seconds(); seconds > 0 {
		perSecond := float64(snapshot.Global.TotalEvaluations) / seconds
		predictions.NextHourEvaluations = perSecond * 3600
	}

	for i := len(snapshot.Trends) - 1; i >= 0; i-- {
		trend := snapshot.Trends[i]
		if trend.Metric == trend.Stage+".success_score" {
			predictions.ExpectedSuccessRate = clamp01(trend.Prediction)
			break
		}
	}

	recent := 0
	cutoff := snapshot.GeneratedAt.Add(-recentAnomalyWindow)
	for _, anomaly := range snapshot.Anomalies {
		if anomaly.Timestamp.After(cutoff) {
			recent++
		}
	}
	if snapshot.Global.TotalEvaluations > 0 {
		predictions.AnomalyProbability = clamp01(float64(recent) / float64(snapshot.Global.TotalEvaluations))
	}

	return predictions
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
