package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trendConfig(window int) *Config {
	cfg := DefaultConfig()
	cfg.TrendWindow = window
	return cfg
}

func trendByMetric(trends []Trend, metric string) *Trend {
	for i := range trends {
		if trends[i].Metric == metric {
			return &trends[i]
		}
	}
	return nil
}

func TestAnalyzeTrends_RequiresTwoFullWindows(t *testing.T) {
	c := NewCollector(trendConfig(5))

	for i := 0; i < 9; i++ {
		recordSuccess(c, "primary-api", 100*time.Millisecond)
	}

	assert.Empty(t, c.AnalyzeTrends())
}

func TestAnalyzeTrends_DetectsIncreasingDuration(t *testing.T) {
	c := NewCollector(trendConfig(5))

	for i := 0; i < 5; i++ {
		recordSuccess(c, "primary-api", 100*time.Millisecond)
	}
	for i := 0; i < 5; i++ {
		recordSuccess(c, "primary-api", 200*time.Millisecond)
	}

	trends := c.AnalyzeTrends()
	duration := trendByMetric(trends, "primary-api.duration_ms")
	require.NotNil(t, duration)

	assert.Equal(t, TrendIncreasing, duration.Direction)
	assert.InDelta(t, 200, duration.Current, 1e-9)
	assert.InDelta(t, 100, duration.Previous, 1e-9)
	assert.InDelta(t, 1.0, duration.ChangeRate, 1e-9)
	assert.InDelta(t, 300, duration.Prediction, 1e-9)
	assert.Equal(t, 5, duration.WindowSize)
	assert.Equal(t, "primary-api", duration.Stage)

	score := trendByMetric(trends, "primary-api.success_score")
	require.NotNil(t, score)
	assert.Equal(t, TrendStable, score.Direction)
}

func TestAnalyzeTrends_DetectsCollapsingSuccessScore(t *testing.T) {
	c := NewCollector(trendConfig(5))

	for i := 0; i < 5; i++ {
		recordSuccess(c, "primary-api", 100*time.Millisecond)
	}
	for i := 0; i < 5; i++ {
		recordFailure(c, "primary-api", 100*time.Millisecond, "external")
	}

	trends := c.AnalyzeTrends()
	score := trendByMetric(trends, "primary-api.success_score")
	require.NotNil(t, score)

	assert.Equal(t, TrendDecreasing, score.Direction)
	assert.InDelta(t, 0, score.Current, 1e-9)
	assert.InDelta(t, 1, score.Previous, 1e-9)
	assert.InDelta(t, -1.0, score.ChangeRate, 1e-9)

	duration := trendByMetric(trends, "primary-api.duration_ms")
	require.NotNil(t, duration)
	assert.Equal(t, TrendStable, duration.Direction)
}

func TestAnalyzeTrends_SmallDriftCountsAsStable(t *testing.T) {
	c := NewCollector(trendConfig(5))

	for i := 0; i < 5; i++ {
		recordSuccess(c, "primary-api", 100*time.Millisecond)
	}
	for i := 0; i < 5; i++ {
		recordSuccess(c, "primary-api", 102*time.Millisecond)
	}

	trends := c.AnalyzeTrends()
	duration := trendByMetric(trends, "primary-api.duration_ms")
	require.NotNil(t, duration)
	assert.Equal(t, TrendStable, duration.Direction)
}

func TestAnalyzeTrends_CoversEveryStage(t *testing.T) {
	c := NewCollector(trendConfig(3))

	for _, name := range []string{"primary-api", "secondary-api"} {
		for i := 0; i < 6; i++ {
			recordSuccess(c, name, 50*time.Millisecond)
		}
	}

	trends := c.AnalyzeTrends()
	assert.NotNil(t, trendByMetric(trends, "primary-api.duration_ms"))
	assert.NotNil(t, trendByMetric(trends, "secondary-api.duration_ms"))
	assert.NotNil(t, trendByMetric(trends, "primary-api.success_score"))
	assert.NotNil(t, trendByMetric(trends, "secondary-api.success_score"))
}

func TestAnalyzeTrends_SnapshotCarriesResults(t *testing.T) {
	c := NewCollector(trendConfig(5))

	for i := 0; i < 10; i++ {
		recordSuccess(c, "primary-api", 100*time.Millisecond)
	}

	require.Empty(t, c.GetMetrics().Trends)
	c.AnalyzeTrends()
	assert.NotEmpty(t, c.GetMetrics().Trends)
}

func TestTrendMonitor_RefreshesPeriodically(t *testing.T) {
	c := NewCollector(trendConfig(5))
	for i := 0; i < 10; i++ {
		recordSuccess(c, "primary-api", 100*time.Millisecond)
	}

	monitor := NewTrendMonitor(c, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go monitor.Start(ctx)
	defer monitor.Stop()

	require.Eventually(t, func() bool {
		return len(c.GetMetrics().Trends) > 0
	}, time.Second, 5*time.Millisecond)
}
