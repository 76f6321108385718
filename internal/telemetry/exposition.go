package telemetry

import (
	"fmt"
	"sort"
	"strings"
)

// Exposition renders the collector state as Prometheus-style plain text.
// This is the engine's own view of its evaluation state; the process-level
// registry is served separately by the metrics handler.
func (c *Collector) Exposition() string {
	snapshot := c.GetMetrics()

	var b strings.Builder
	fmt.Fprintf(&b, "# Generated at %s\n", snapshot.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(&b, "# Uptime %.0fs\n\n", snapshot.Uptime.Seconds())

	writeHeader(&b, "engine_evaluations_total", "counter", "Total number of recorded stage evaluations")
	fmt.Fprintf(&b, "engine_evaluations_total %d\n\n", snapshot.Global.TotalEvaluations)

	writeHeader(&b, "engine_success_rate", "gauge", "Fraction of evaluations that succeeded")
	fmt.Fprintf(&b, "engine_success_rate %s\n\n", formatFloat(snapshot.Global.SuccessRate))

	writeHeader(&b, "engine_average_duration_ms", "gauge", "Running average evaluation duration in milliseconds")
	fmt.Fprintf(&b, "engine_average_duration_ms %s\n\n", formatFloat(snapshot.Global.AverageDurationMs))

	names := make([]string, 0, len(snapshot.Stages))
	for name := range snapshot.Stages {
		names = append(names, name)
	}
	sort.Strings(names)

	writeHeader(&b, "engine_stage_evaluations_total", "counter", "Evaluations per stage")
	for _, name := range names {
		fmt.Fprintf(&b, "engine_stage_evaluations_total{stage=%q} %d\n", name, snapshot.Stages[name].Evaluations)
	}
	b.WriteString("\n")

	writeHeader(&b, "engine_stage_successes_total", "counter", "Successful evaluations per stage")
	for _, name := range names {
		fmt.Fprintf(&b, "engine_stage_successes_total{stage=%q} %d\n", name, snapshot.Stages[name].Successes)
	}
	b.WriteString("\n")

	writeHeader(&b, "engine_stage_rejected_total", "counter", "Breaker-rejected visits per stage")
	for _, name := range names {
		fmt.Fprintf(&b, "engine_stage_rejected_total{stage=%q} %d\n", name, snapshot.Stages[name].Rejected)
	}
	b.WriteString("\n")

	writeHeader(&b, "engine_stage_success_rate", "gauge", "Success rate per stage")
	for _, name := range names {
		fmt.Fprintf(&b, "engine_stage_success_rate{stage=%q} %s\n", name, formatFloat(snapshot.Stages[name].SuccessRate))
	}
	b.WriteString("\n")

	writeHeader(&b, "engine_stage_average_duration_ms", "gauge", "Running average attempt duration per stage in milliseconds")
	for _, name := range names {
		fmt.Fprintf(&b, "engine_stage_average_duration_ms{stage=%q} %s\n", name, formatFloat(snapshot.Stages[name].AverageDurationMs))
	}
	b.WriteString("\n")

	severityCounts := map[string]int{}
	typeCounts := map[string]int{}
	for _, anomaly := range snapshot.Anomalies {
		severityCounts[anomaly.Severity]++
		typeCounts[anomaly.Type]++
	}

	writeHeader(&b, "engine_anomalies", "gauge", "Detected anomalies currently retained, by severity")
	for _, severity := range []string{SeverityLow, SeverityMedium, SeverityHigh} {
		fmt.Fprintf(&b, "engine_anomalies{severity=%q} %d\n", severity, severityCounts[severity])
	}
	b.WriteString("\n")

	writeHeader(&b, "engine_anomalies_by_type", "gauge", "Detected anomalies currently retained, by type")
	for _, anomalyType := range []string{AnomalyPerformance, AnomalyAccuracy, AnomalyPattern} {
		fmt.Fprintf(&b, "engine_anomalies_by_type{type=%q} %d\n", anomalyType, typeCounts[anomalyType])
	}

	return b.String()
}

func writeHeader(b *strings.Builder, name, metricType, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, metricType)
}

func formatFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", v), "0"), ".")
}
