// Package resilience provides the failover primitives for speech and
// language providers.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops a call from waiting on a provider that is already known to be down.
// [FallbackGroup] composes several providers of one type behind per-entry
// breakers so a failing primary is bypassed in favour of a healthy
// alternate. The typed wrappers in this package adapt the group to the
// transcription, completion, and synthesis interfaces.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// open and its reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen]. The breaker enters
	// this state after too many consecutive failures and leaves it once the
	// reset timeout elapses.
	StateOpen

	// StateHalfOpen admits a bounded number of probe calls. The breaker
	// closes when the probes succeed and re-opens on the first probe failure.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds the tuning knobs for a [CircuitBreaker]. Zero
// fields take the defaults noted per field.
type CircuitBreakerConfig struct {
	// Name labels the breaker in log messages, typically the provider name.
	Name string

	// MaxFailures is how many consecutive failures the closed state tolerates
	// before tripping. Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing the
	// provider again. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget of the half-open state. The breaker
	// closes after this many successful probes. Default 3.
	HalfOpenMax int
}

// CircuitBreaker tracks consecutive failures of a single provider and
// short-circuits calls while the provider is considered down. It is safe for
// concurrent use.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu          sync.Mutex
	state       State
	failStreak  int
	lastFailure time.Time
	probes      int
	probeFails  int
}

// NewCircuitBreaker creates a breaker from cfg, filling zero fields with the
// documented defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
	}
}

// Execute runs fn when the breaker admits the call and folds the outcome
// into the breaker's state. While open it returns [ErrCircuitOpen] without
// invoking fn; while half-open only the probe budget is let through.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probing, admitErr := cb.admit()
	if admitErr != nil {
		return admitErr
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.settleFailure(probing)
	} else {
		cb.settleSuccess(probing)
	}
	return err
}

// admit decides whether a call may proceed and reports whether it counts as
// a half-open probe.
func (cb *CircuitBreaker) admit() (probing bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeFails = 0
		slog.Info("circuit breaker probing provider", "name", cb.name)
	}

	if cb.state == StateHalfOpen {
		if cb.probes >= cb.halfOpenMax {
			// Probe budget spent, outcome not yet settled in our favour.
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

// settleFailure folds a failed call into the state. Caller holds cb.mu.
func (cb *CircuitBreaker) settleFailure(probing bool) {
	cb.lastFailure = time.Now()

	if probing {
		cb.probeFails++
		cb.state = StateOpen
		cb.failStreak = cb.maxFailures
		slog.Warn("circuit breaker re-opened, probe failed", "name", cb.name)
		return
	}

	cb.failStreak++
	if cb.failStreak >= cb.maxFailures {
		cb.state = StateOpen
		slog.Warn("circuit breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.failStreak)
	}
}

// settleSuccess folds a successful call into the state. Caller holds cb.mu.
func (cb *CircuitBreaker) settleSuccess(probing bool) {
	if !probing {
		cb.failStreak = 0
		return
	}
	if cb.probes-cb.probeFails >= cb.halfOpenMax {
		cb.state = StateClosed
		cb.failStreak = 0
		cb.probes = 0
		cb.probeFails = 0
		slog.Info("circuit breaker closed, provider recovered", "name", cb.name)
	}
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the stored state changes on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failStreak = 0
	cb.probes = 0
	cb.probeFails = 0
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
