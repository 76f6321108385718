package telemetry

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Trend directions
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// stableBand is the relative change below which a trend counts as stable
const stableBand = 0.05

// Trend describes how a tracked metric moved between two adjacent windows
type Trend struct {
	Metric     string    `json:"metric"`
	Stage      string    `json:"stage"`
	Direction  string    `json:"direction"`
	Current    float64   `json:"current"`
	Previous   float64   `json:"previous"`
	ChangeRate float64   `json:"change_rate"`
	Prediction float64   `json:"prediction"`
	WindowSize int       `json:"window_size"`
	Timestamp  time.Time `json:"timestamp"`
}

// AnalyzeTrends compares the most recent window of each tracked history
// against the window before it. Results replace the stored trend list and
// are returned to the caller.
func (c *Collector) AnalyzeTrends() []Trend {
	now := time.Now()
	window := c.config.TrendWindow

	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.stages))
	for name := range c.stages {
		names = append(names, name)
	}
	sort.Strings(names)

	var trends []Trend
	for _, name := range names {
		state := c.stages[name]

		if trend := windowTrend(state.durationHistory, window); trend != nil {
			trend.Metric = fmt.Sprintf("%s.duration_ms", name)
			trend.Stage = name
			trend.Timestamp = now
			trends = append(trends, *trend)
		}
		if trend := windowTrend(state.scoreHistory, window); trend != nil {
			trend.Metric = fmt.Sprintf("%s.success_score", name)
			trend.Stage = name
			trend.Timestamp = now
			trends = append(trends, *trend)
		}
	}

	if len(trends) > c.config.TrendLimit {
		trends = trends[len(trends)-c.config.TrendLimit:]
	}
	c.trends = trends

	out := make([]Trend, len(trends))
	copy(out, trends)
	return out
}

// windowTrend needs two full windows of samples; with fewer it reports nothing
func windowTrend(history []float64, window int) *Trend {
	if len(history) < 2*window {
		return nil
	}

	recent := mean(history[len(history)-window:])
	previous := mean(history[len(history)-2*window : len(history)-window])

	changeRate := 0.0
	if previous != 0 {
		changeRate = (recent - previous) / previous
	} else if recent != 0 {
		changeRate = 1.0
	}

	direction := TrendStable
	switch {
	case changeRate > stableBand:
		direction = TrendIncreasing
	case changeRate < -stableBand:
		direction = TrendDecreasing
	}

	return &Trend{
		Direction:  direction,
		Current:    recent,
		Previous:   previous,
		ChangeRate: changeRate,
		Prediction: recent + (recent - previous),
		WindowSize: window,
	}
}

// TrendMonitor periodically refreshes the collector's trend list
type TrendMonitor struct {
	collector *Collector
	interval  time.Duration
	stopCh    chan struct{}
}

// NewTrendMonitor creates a trend monitor
func NewTrendMonitor(collector *Collector, interval time.Duration) *TrendMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TrendMonitor{
		collector: collector,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start runs periodic trend analysis until the context ends or Stop is called
func (tm *TrendMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(tm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tm.stopCh:
			return
		case <-ticker.C:
			tm.collector.AnalyzeTrends()
		}
	}
}

// Stop stops the monitor
func (tm *TrendMonitor) Stop() {
	close(tm.stopCh)
}
