package resilience

import (
	"sync"
	"time"

	"github.com/NikhilSetiya/fallback-engine/pkg/logging"
)

// DegradationLevel represents the level of service degradation
type DegradationLevel int

const (
	// LevelNormal - all stages are operational
	LevelNormal DegradationLevel = iota
	// LevelPartial - some stages are degraded but fresh data is still served
	LevelPartial
	// LevelSevere - upstream stages are down, cascades land on cached data
	LevelSevere
	// LevelCritical - only the static default stage is answering
	LevelCritical
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case LevelPartial:
		return "PARTIAL"
	case LevelSevere:
		return "SEVERE"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// StageHealth represents the health status of one provider stage
type StageHealth struct {
	Name         string
	Healthy      bool
	LastCheck    time.Time
	ErrorCount   int
	ResponseTime time.Duration
	Message      string
}

// DegradationManager tracks per-stage health and derives a system-wide
// degradation level from it
type DegradationManager struct {
	stages map[string]*StageHealth
	mutex  sync.RWMutex
	logger *logging.Logger

	// Configuration
	unhealthyThreshold int
	degradationRules   map[string]DegradationLevel
}

// NewDegradationManager creates a new degradation manager
func NewDegradationManager() *DegradationManager {
	return &DegradationManager{
		stages:             make(map[string]*StageHealth),
		logger:             logging.GetLogger(),
		unhealthyThreshold: 3,
		degradationRules:   make(map[string]DegradationLevel),
	}
}

// RegisterStage registers a stage for health tracking. The degradation level
// is the severity implied by this stage becoming unavailable.
func (dm *DegradationManager) RegisterStage(name string, degradationLevel DegradationLevel) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	dm.stages[name] = &StageHealth{
		Name:      name,
		Healthy:   true,
		LastCheck: time.Now(),
	}
	dm.degradationRules[name] = degradationLevel
}

// UpdateStageHealth updates the health status of a stage. Consecutive
// failures below the unhealthy threshold keep the stage nominally healthy.
func (dm *DegradationManager) UpdateStageHealth(name string, healthy bool, responseTime time.Duration, message string) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	stage, exists := dm.stages[name]
	if !exists {
		dm.logger.Warn("Attempted to update health for unregistered stage", "stage", name)
		return
	}

	stage.LastCheck = time.Now()
	stage.ResponseTime = responseTime
	stage.Message = message

	if healthy {
		stage.Healthy = true
		stage.ErrorCount = 0
	} else {
		stage.ErrorCount++
		if stage.ErrorCount >= dm.unhealthyThreshold {
			stage.Healthy = false
		}
	}

	dm.logger.Debug("Stage health updated",
		"stage", name,
		"healthy", stage.Healthy,
		"error_count", stage.ErrorCount,
		"response_time", responseTime,
		"message", message,
	)
}

// ApplyBreakerState folds a circuit breaker snapshot into stage health. An
// open or probing breaker marks the stage unhealthy immediately; a closed
// breaker restores it.
func (dm *DegradationManager) ApplyBreakerState(snapshot CircuitBreakerState) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	stage, exists := dm.stages[snapshot.StageName]
	if !exists {
		return
	}

	stage.LastCheck = time.Now()
	stage.Message = "breaker " + snapshot.State.String()

	if snapshot.State == StateClosed {
		stage.Healthy = true
		stage.ErrorCount = 0
	} else {
		stage.Healthy = false
		stage.ErrorCount = int(snapshot.ConsecutiveFailures)
	}
}

// GetCurrentDegradationLevel returns the current system degradation level
func (dm *DegradationManager) GetCurrentDegradationLevel() DegradationLevel {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	maxLevel := LevelNormal
	unhealthyStages := 0
	totalStages := len(dm.stages)

	for name, stage := range dm.stages {
		if !stage.Healthy {
			unhealthyStages++
			if level, exists := dm.degradationRules[name]; exists && level > maxLevel {
				maxLevel = level
			}
		}
	}

	// Apply additional rules based on percentage of unhealthy stages
	if totalStages > 0 {
		unhealthyPercentage := float64(unhealthyStages) / float64(totalStages)
		if unhealthyPercentage >= 0.75 {
			if maxLevel < LevelCritical {
				maxLevel = LevelCritical
			}
		} else if unhealthyPercentage >= 0.5 {
			if maxLevel < LevelSevere {
				maxLevel = LevelSevere
			}
		} else if unhealthyPercentage >= 0.25 {
			if maxLevel < LevelPartial {
				maxLevel = LevelPartial
			}
		}
	}

	return maxLevel
}

// GetStageHealth returns the health status of a specific stage
func (dm *DegradationManager) GetStageHealth(name string) (*StageHealth, bool) {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	stage, exists := dm.stages[name]
	if !exists {
		return nil, false
	}

	// Return a copy to avoid race conditions
	return &StageHealth{
		Name:         stage.Name,
		Healthy:      stage.Healthy,
		LastCheck:    stage.LastCheck,
		ErrorCount:   stage.ErrorCount,
		ResponseTime: stage.ResponseTime,
		Message:      stage.Message,
	}, true
}

// GetAllStageHealth returns the health status of all stages
func (dm *DegradationManager) GetAllStageHealth() map[string]*StageHealth {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	result := make(map[string]*StageHealth)
	for name, stage := range dm.stages {
		result[name] = &StageHealth{
			Name:         stage.Name,
			Healthy:      stage.Healthy,
			LastCheck:    stage.LastCheck,
			ErrorCount:   stage.ErrorCount,
			ResponseTime: stage.ResponseTime,
			Message:      stage.Message,
		}
	}
	return result
}

// IsStageHealthy checks if a specific stage is healthy
func (dm *DegradationManager) IsStageHealthy(name string) bool {
	stage, exists := dm.GetStageHealth(name)
	return exists && stage.Healthy
}

// GetHealthyStages returns a list of healthy stages
func (dm *DegradationManager) GetHealthyStages() []string {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	var healthy []string
	for name, stage := range dm.stages {
		if stage.Healthy {
			healthy = append(healthy, name)
		}
	}
	return healthy
}

// GetUnhealthyStages returns a list of unhealthy stages
func (dm *DegradationManager) GetUnhealthyStages() []string {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	var unhealthy []string
	for name, stage := range dm.stages {
		if !stage.Healthy {
			unhealthy = append(unhealthy, name)
		}
	}
	return unhealthy
}

// CascadeDegradationTracker derives cascade-level degradation from stage
// health, ordered by stage priority
type CascadeDegradationTracker struct {
	degradationManager *DegradationManager
	logger             *logging.Logger

	// Stage names in ascending priority order
	stageOrder []string
}

// NewCascadeDegradationTracker creates a tracker for the given stage order.
// Upstream API stages imply partial degradation when down, cache stages
// severe, and the terminal stage critical.
func NewCascadeDegradationTracker(stageOrder []string, levels map[string]DegradationLevel) *CascadeDegradationTracker {
	tracker := &CascadeDegradationTracker{
		degradationManager: NewDegradationManager(),
		logger:             logging.GetLogger(),
		stageOrder:         stageOrder,
	}

	for _, name := range stageOrder {
		level, ok := levels[name]
		if !ok {
			level = LevelPartial
		}
		tracker.degradationManager.RegisterStage(name, level)
	}

	return tracker
}

// Manager exposes the underlying degradation manager
func (t *CascadeDegradationTracker) Manager() *DegradationManager {
	return t.degradationManager
}

// UpdateFromBreakers refreshes stage health from breaker snapshots
func (t *CascadeDegradationTracker) UpdateFromBreakers(snapshots []CircuitBreakerState) {
	for _, snapshot := range snapshots {
		t.degradationManager.ApplyBreakerState(snapshot)
	}
}

// ExpectedSource returns the name of the first healthy stage in priority
// order, the stage a cascade is expected to land on right now. Falls back to
// the terminal stage when everything upstream is unhealthy.
func (t *CascadeDegradationTracker) ExpectedSource() string {
	for _, name := range t.stageOrder {
		if t.degradationManager.IsStageHealthy(name) {
			return name
		}
	}
	if len(t.stageOrder) > 0 {
		return t.stageOrder[len(t.stageOrder)-1]
	}
	return ""
}

// Status returns the degradation status for dashboard surfaces
func (t *CascadeDegradationTracker) Status() map[string]interface{} {
	level := t.degradationManager.GetCurrentDegradationLevel()
	healthyStages := t.degradationManager.GetHealthyStages()
	unhealthyStages := t.degradationManager.GetUnhealthyStages()

	return map[string]interface{}{
		"degradation_level": level.String(),
		"expected_source":   t.ExpectedSource(),
		"healthy_stages":    healthyStages,
		"unhealthy_stages":  unhealthyStages,
		"total_stages":      len(healthyStages) + len(unhealthyStages),
	}
}
