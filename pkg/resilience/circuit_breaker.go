package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/NikhilSetiya/fallback-engine/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, a single probe is allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name of the circuit breaker for logging/metrics
	Name string
	// FailureThreshold is the number of consecutive failures that trips the
	// breaker from closed to open
	FailureThreshold uint32
	// Interval is the cyclic period of the closed state
	// for the circuit breaker to clear the internal counts
	Interval time.Duration
	// Cooldown is the period of the open state,
	// after which the state becomes half-open
	Cooldown time.Duration
	// ReadyToTrip is called with a copy of Counts whenever a request fails
	// in the closed state. If ReadyToTrip returns true, the circuit breaker
	// will be placed into the open state. When nil, the breaker trips after
	// FailureThreshold consecutive failures.
	ReadyToTrip func(counts Counts) bool
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

// Counts holds the numbers of requests and their successes/failures
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreakerState is a point-in-time snapshot of one breaker, shaped for
// health and dashboard surfaces
type CircuitBreakerState struct {
	StageName           string       `json:"stage_name"`
	State               CircuitState `json:"-"`
	StateName           string       `json:"state"`
	ConsecutiveFailures uint32       `json:"consecutive_failures"`
	LastFailureTime     time.Time    `json:"last_failure_time"`
	LastStateChange     time.Time    `json:"last_state_change"`
}

// CircuitBreaker is a state machine to prevent sending requests that are likely to fail.
// While half-open it admits exactly one in-flight probe; concurrent callers
// are rejected as if the breaker were still open.
type CircuitBreaker struct {
	name             string
	failureThreshold uint32
	interval         time.Duration
	cooldown         time.Duration
	readyToTrip      func(counts Counts) bool
	onStateChange    func(name string, from CircuitState, to CircuitState)

	mutex           sync.Mutex
	state           CircuitState
	generation      uint64
	counts          Counts
	expiry          time.Time
	lastFailure     time.Time
	lastStateChange time.Time

	logger *logging.Logger
}

const (
	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second

	// halfOpenMaxRequests serializes the recovery probe: one call in flight
	halfOpenMaxRequests uint32 = 1
)

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		interval:         config.Interval,
		cooldown:         config.Cooldown,
		logger:           logging.GetLogger(),
	}

	if cb.failureThreshold == 0 {
		cb.failureThreshold = defaultFailureThreshold
	}
	if cb.cooldown == 0 {
		cb.cooldown = defaultCooldown
	}

	if config.ReadyToTrip == nil {
		cb.readyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= cb.failureThreshold
		}
	} else {
		cb.readyToTrip = config.ReadyToTrip
	}

	if config.OnStateChange != nil {
		cb.onStateChange = config.OnStateChange
	}

	cb.lastStateChange = time.Now()
	cb.toNewGeneration(time.Now())
	return cb
}

// Execute runs the given request if the circuit breaker accepts it
func (cb *CircuitBreaker) Execute(ctx context.Context, req func(context.Context) (interface{}, error)) (interface{}, error) {
	generation, err := cb.beforeRequest()
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(generation, false)
			panic(r)
		}
	}()

	result, err := req(ctx)
	cb.afterRequest(generation, err == nil)
	return result, err
}

// Call is a convenience method that wraps Execute for functions that don't need context
func (cb *CircuitBreaker) Call(fn func() (interface{}, error)) (interface{}, error) {
	return cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return fn()
	})
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	state, _ := cb.currentState(now)
	return state
}

// Counts returns a copy of the current counts
func (cb *CircuitBreaker) Counts() Counts {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.counts
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Snapshot returns a point-in-time view of the breaker for observability surfaces
func (cb *CircuitBreaker) Snapshot() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	state, _ := cb.currentState(now)

	return CircuitBreakerState{
		StageName:           cb.name,
		State:               state,
		StateName:           state.String(),
		ConsecutiveFailures: cb.counts.ConsecutiveFailures,
		LastFailureTime:     cb.lastFailure,
		LastStateChange:     cb.lastStateChange,
	}
}

func (cb *CircuitBreaker) beforeRequest() (uint64, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	state, generation := cb.currentState(now)

	if state == StateOpen {
		return generation, &CircuitBreakerError{Name: cb.name, State: state}
	} else if state == StateHalfOpen && cb.counts.Requests >= halfOpenMaxRequests {
		// Probe already in flight; reject as if still open
		return generation, &CircuitBreakerError{Name: cb.name, State: StateOpen}
	}

	cb.counts.Requests++
	return generation, nil
}

func (cb *CircuitBreaker) afterRequest(before uint64, success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	state, generation := cb.currentState(now)
	if generation != before {
		return
	}

	if success {
		cb.onSuccess(state, now)
	} else {
		cb.onFailure(state, now)
	}
}

func (cb *CircuitBreaker) onSuccess(state CircuitState, now time.Time) {
	cb.counts.TotalSuccesses++
	cb.counts.ConsecutiveSuccesses++
	cb.counts.ConsecutiveFailures = 0

	if state == StateHalfOpen {
		cb.setState(StateClosed, now)
	}
}

func (cb *CircuitBreaker) onFailure(state CircuitState, now time.Time) {
	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0
	cb.lastFailure = now

	if state == StateClosed {
		if cb.readyToTrip(cb.counts) {
			cb.setState(StateOpen, now)
		}
	} else if state == StateHalfOpen {
		cb.setState(StateOpen, now)
	}
}

func (cb *CircuitBreaker) currentState(now time.Time) (CircuitState, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.toNewGeneration(now)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state, cb.generation
}

func (cb *CircuitBreaker) setState(state CircuitState, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.lastStateChange = now

	cb.toNewGeneration(now)

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
		"counts", cb.counts,
	)
}

func (cb *CircuitBreaker) toNewGeneration(now time.Time) {
	cb.generation++
	cb.counts = Counts{}

	var zero time.Time
	switch cb.state {
	case StateClosed:
		if cb.interval == 0 {
			cb.expiry = zero
		} else {
			cb.expiry = now.Add(cb.interval)
		}
	case StateOpen:
		cb.expiry = now.Add(cb.cooldown)
	default: // StateHalfOpen
		cb.expiry = zero
	}
}

// CircuitBreakerError represents an error when the circuit breaker rejects a call
type CircuitBreakerError struct {
	Name  string
	State CircuitState
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State.String())
}

// IsCircuitBreakerError checks if an error is a circuit breaker error
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
