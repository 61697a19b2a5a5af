package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/respicare/ai-service/pkg/errors"
	"github.com/respicare/ai-service/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, a single probe request is allowed
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
	// FailureThreshold is the number of counted failures in the closed state
	// before the circuit opens
	FailureThreshold int
	// SuccessThreshold is the number of consecutive probe successes in the
	// half-open state before the circuit closes again
	SuccessThreshold int
	// RecoveryTimeout is how long the circuit stays open after the last
	// failure before a probe call is admitted
	RecoveryTimeout time.Duration
	// Countable decides whether an error counts against the failure
	// threshold. Errors that say nothing about dependency health (validation,
	// programming errors) should not open the circuit.
	Countable func(error) bool
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

// Counts holds a snapshot of the breaker's accumulators
type Counts struct {
	Failures      int       `json:"failures"`
	Successes     int       `json:"successes"`
	LastFailureAt time.Time `json:"last_failure_at"`
}

// CircuitBreaker is a state machine that fails fast once a named dependency
// is presumed unhealthy. The failure and success counters are mutually
// exclusive accumulators: entering OPEN or CLOSED resets both to zero.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration
	countable        func(error) bool
	onStateChange    func(name string, from CircuitState, to CircuitState)

	mutex         sync.Mutex
	state         CircuitState
	generation    uint64
	failureCount  int
	successCount  int
	lastFailureAt time.Time
	probing       bool

	// onReset lets specialized breakers clear their own accumulators when
	// the base breaker is reset through the registry. Called with the lock
	// held.
	onReset func()

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		successThreshold: config.SuccessThreshold,
		recoveryTimeout:  config.RecoveryTimeout,
		onStateChange:    config.OnStateChange,
		state:            StateClosed,
		logger:           logging.GetLogger(),
	}

	if cb.failureThreshold <= 0 {
		cb.failureThreshold = 5
	}
	if cb.successThreshold <= 0 {
		cb.successThreshold = 2
	}
	if cb.recoveryTimeout <= 0 {
		cb.recoveryTimeout = 60 * time.Second
	}

	if config.Countable == nil {
		cb.countable = errors.IsCountable
	} else {
		cb.countable = config.Countable
	}

	return cb
}

// Execute runs the given request if the circuit breaker admits it. The
// wrapped call runs outside the breaker lock so a slow call never blocks
// concurrent admission checks.
func (cb *CircuitBreaker) Execute(ctx context.Context, req func(context.Context) (interface{}, error)) (interface{}, error) {
	gen, err := cb.beforeCall()
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterCall(gen, stderrors.New("panic in wrapped call"))
			panic(r)
		}
	}()

	result, err := req(ctx)
	cb.afterCall(gen, err)
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
	return cb.state
}

// Counts returns a snapshot of the current counters
func (cb *CircuitBreaker) Counts() Counts {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return Counts{
		Failures:      cb.failureCount,
		Successes:     cb.successCount,
		LastFailureAt: cb.lastFailureAt,
	}
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset returns the breaker to the closed state with cleared counters.
// In-flight calls admitted before the reset are discarded on completion.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.setState(StateClosed, time.Now())
	cb.generation++
	cb.failureCount = 0
	cb.successCount = 0
	cb.probing = false
	cb.lastFailureAt = time.Time{}
	if cb.onReset != nil {
		cb.onReset()
	}
}

// beforeCall admits or rejects a call and returns the generation it was
// admitted under. Outcomes reported against a stale generation are discarded,
// so a call admitted while CLOSED can never act as the HALF_OPEN probe or
// count toward the probe success threshold.
func (cb *CircuitBreaker) beforeCall() (uint64, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()

	switch cb.state {
	case StateOpen:
		if now.Sub(cb.lastFailureAt) < cb.recoveryTimeout {
			return cb.generation, NewCircuitOpenError(cb.name, cb.state)
		}
		// Recovery window elapsed: this call becomes the probe.
		cb.setState(StateHalfOpen, now)
		cb.probing = true
	case StateHalfOpen:
		if cb.probing {
			return cb.generation, NewCircuitOpenError(cb.name, cb.state)
		}
		cb.probing = true
	}

	return cb.generation, nil
}

func (cb *CircuitBreaker) afterCall(gen uint64, err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if gen != cb.generation {
		return
	}

	now := time.Now()
	if cb.state == StateHalfOpen {
		cb.probing = false
	}

	if err == nil {
		cb.onSuccess(now)
		return
	}

	// Rejections from a nested breaker and non-countable errors are not
	// evidence of this dependency's unhealthiness.
	if IsCircuitOpen(err) || !cb.countable(err) {
		return
	}

	cb.onFailure(now)
}

// onSuccess is called with the lock held.
func (cb *CircuitBreaker) onSuccess(now time.Time) {
	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.setState(StateClosed, now)
		}
	case StateClosed:
		cb.failureCount = 0
	}
}

// onFailure is called with the lock held.
func (cb *CircuitBreaker) onFailure(now time.Time) {
	switch cb.state {
	case StateHalfOpen:
		cb.lastFailureAt = now
		cb.setState(StateOpen, now)
	case StateClosed:
		cb.failureCount++
		cb.lastFailureAt = now
		if cb.failureCount >= cb.failureThreshold {
			cb.setState(StateOpen, now)
		}
	}
}

// tripOpen forces the circuit open regardless of the failure threshold.
// Used by specialized breakers for errors that make further calls pointless,
// such as exhausted quota on a metered API. Called with the lock held.
func (cb *CircuitBreaker) tripOpen(now time.Time) {
	cb.lastFailureAt = now
	cb.setState(StateOpen, now)
}

// setState transitions the breaker, starts a new generation and resets the
// accumulators when entering OPEN or CLOSED. Called with the lock held.
func (cb *CircuitBreaker) setState(state CircuitState, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.generation++

	if state == StateOpen || state == StateClosed {
		cb.failureCount = 0
		cb.successCount = 0
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
	)
}

// CircuitOpenError is returned when a call is rejected because the circuit
// is open. A rejected call never reaches the wrapped function and is not
// counted as a failure.
type CircuitOpenError struct {
	Name  string
	State CircuitState
}

// NewCircuitOpenError creates a rejection error for the named breaker
func NewCircuitOpenError(name string, state CircuitState) *CircuitOpenError {
	return &CircuitOpenError{Name: name, State: state}
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State.String())
}

// IsCircuitOpen checks if an error is a circuit breaker rejection
func IsCircuitOpen(err error) bool {
	var cbErr *CircuitOpenError
	return stderrors.As(err, &cbErr)
}
