// Package circuitbreaker provides per-provider circuit breaking for the LLM
// request pipeline. Breakers open after repeated failures, let a bounded
// number of half-open probes test recovery, and coordinate probes across
// instances through an optional Redis guard.
package circuitbreaker

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/ahrav/go-mealmatch/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-mealmatch/internal/llm/errors"
)

var (
	// ErrUnknownCircuitState reports a state value outside the three-state
	// machine, which can only come from memory corruption or a bad cast.
	ErrUnknownCircuitState = errors.New("unknown circuit state")
	// ErrCircuitBreakerNotFound reports a lookup for a provider that never
	// had a breaker created.
	ErrCircuitBreakerNotFound = errors.New("circuit breaker not found")
)

// jitterDivisor sets jitter to a tenth of the open timeout, desynchronizing
// recovery probes across workers that tripped at the same moment.
const jitterDivisor = 10

// CircuitState is the breaker's position in its three-state machine.
type CircuitState int32

const (
	// StateClosed allows requests through.
	StateClosed CircuitState = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows limited requests for testing.
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// circuitResult is the breaker's verdict on one request. Cleanup must run
// when the request finishes; for half-open probes it releases the probe
// slot, otherwise it is a no-op. IsHalfOpenProbe tells the middleware
// whether this request's outcome decides a state transition.
type circuitResult struct {
	Allowed         bool
	Cleanup         func()
	IsHalfOpenProbe bool
}

// circuitBreaker tracks failures for one provider. All mutable state lives
// in atomics; transitions go through compare-and-swap so concurrent
// successes and failures cannot double-transition.
type circuitBreaker struct {
	state           atomic.Int32
	failures        atomic.Int32
	successes       atomic.Int32
	lastFailureTime atomic.Int64
	halfOpenProbes  atomic.Int32

	failureThreshold  int
	successThreshold  int
	openTimeout       time.Duration
	maxHalfOpenProbes int

	// adaptive, when non-nil, lowers the failure threshold during high
	// error-rate windows.
	adaptive *adaptiveThresholds
	metrics  *circuitBreakerMetrics
}

// getJitter draws a random slice of up to a tenth of the open timeout.
func (cb *circuitBreaker) getJitter() time.Duration {
	if cb.openTimeout == 0 {
		return 0
	}

	jit := cb.openTimeout / jitterDivisor
	if jit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(jit)))
}

func newCircuitBreaker(cfg configuration.CircuitBreakerConfig) *circuitBreaker {
	cb := &circuitBreaker{
		failureThreshold:  cfg.FailureThreshold,
		successThreshold:  cfg.SuccessThreshold,
		openTimeout:       cfg.OpenTimeout,
		maxHalfOpenProbes: cfg.HalfOpenProbes,
		metrics:           &circuitBreakerMetrics{},
	}

	if cfg.AdaptiveThresholds {
		cb.adaptive = newAdaptiveThresholds(cfg.FailureThreshold)
	}

	cb.state.Store(int32(StateClosed))
	cb.metrics.lastStateChange.Store(time.Now().UnixNano())
	return cb
}

// handleHalfOpenProbe claims a probe slot or rejects the request when all
// slots are in flight. The returned cleanup releases the slot, saturating
// at zero in case a state transition already reset the counter.
func (cb *circuitBreaker) handleHalfOpenProbe() (*circuitResult, error) {
	for {
		current := cb.halfOpenProbes.Load()
		if int(current) >= cb.maxHalfOpenProbes {
			cb.metrics.requestsRejected.Add(1)
			return &circuitResult{
					Allowed:         false,
					Cleanup:         func() {},
					IsHalfOpenProbe: false,
				}, &llmerrors.ProviderError{
					Code:    "CIRCUIT_HALF_OPEN_LIMIT",
					Message: "half-open probe limit reached",
					Type:    llmerrors.ErrorTypeCircuitBreaker,
				}
		}
		if cb.halfOpenProbes.CompareAndSwap(current, current+1) {
			cleanup := func() {
				for {
					cur := cb.halfOpenProbes.Load()
					if cur == 0 {
						return
					}
					if cb.halfOpenProbes.CompareAndSwap(cur, cur-1) {
						return
					}
				}
			}
			cb.metrics.probeAttempts.Add(1)
			cb.metrics.requestsAllowed.Add(1)
			return &circuitResult{
				Allowed:         true,
				Cleanup:         cleanup,
				IsHalfOpenProbe: true,
			}, nil
		}
	}
}

// allow decides whether one request may proceed. Closed passes everything.
// Open rejects until the timeout (plus jitter) has elapsed, then flips to
// half-open and competes for a probe slot like any half-open request.
func (cb *circuitBreaker) allow() (*circuitResult, error) {
	state := CircuitState(cb.state.Load())

	switch state {
	case StateClosed:
		cb.metrics.requestsAllowed.Add(1)
		return &circuitResult{
			Allowed:         true,
			Cleanup:         func() {},
			IsHalfOpenProbe: false,
		}, nil

	case StateOpen, StateHalfOpen:
		if state == StateOpen {
			lastFailureNano := cb.lastFailureTime.Load()
			lastFailure := time.Unix(0, lastFailureNano)
			timeout := cb.openTimeout + cb.getJitter()
			if time.Since(lastFailure) <= timeout {
				cb.metrics.requestsRejected.Add(1)
				return &circuitResult{
						Allowed:         false,
						Cleanup:         func() {},
						IsHalfOpenProbe: false,
					}, &llmerrors.ProviderError{
						Code:    "CIRCUIT_OPEN",
						Message: "circuit breaker is open",
						Type:    llmerrors.ErrorTypeCircuitBreaker,
					}
			}
			cb.transitionTo(StateHalfOpen)
		}

		return cb.handleHalfOpenProbe()

	default:
		return &circuitResult{
			Allowed:         false,
			Cleanup:         func() {},
			IsHalfOpenProbe: false,
		}, fmt.Errorf("%w: %v", ErrUnknownCircuitState, state)
	}
}

// recordSuccess clears the failure streak when closed and counts toward the
// success threshold when half-open. The CAS loop retries on a lost race so
// a concurrent failure cannot strand the success count.
func (cb *circuitBreaker) recordSuccess() {
	if cb.adaptive != nil {
		cb.adaptive.recordRequest(true)
	}

	for {
		state := cb.state.Load()
		switch CircuitState(state) {
		case StateClosed:
			cb.failures.Store(0)
			return

		case StateHalfOpen:
			successes := cb.successes.Add(1)
			cb.metrics.probeSuccesses.Add(1)
			if int(successes) >= cb.successThreshold {
				if cb.state.CompareAndSwap(state, int32(StateClosed)) {
					cb.failures.Store(0)
					cb.successes.Store(0)
					cb.halfOpenProbes.Store(0)
					cb.metrics.stateTransitions.Add(1)
					cb.metrics.updateStateTime(StateHalfOpen)
					slog.Info("circuit breaker state transition",
						"from", StateHalfOpen.String(),
						"to", StateClosed.String())
					return
				}
				// Lost the transition race; give the count back and retry.
				cb.successes.Add(-1)
				continue
			}
			return

		case StateOpen:
			// A request admitted before the trip finished after it.
			slog.Warn("success recorded in open state")
			return
		}
	}
}

// recordFailure counts toward the failure threshold when closed, tripping
// the breaker at the limit. Any failure while half-open reopens immediately:
// a provider that fails its probe has not recovered.
func (cb *circuitBreaker) recordFailure() {
	cb.lastFailureTime.Store(time.Now().UnixNano())

	if cb.adaptive != nil {
		cb.adaptive.recordRequest(false)
	}

	for {
		state := cb.state.Load()
		switch CircuitState(state) {
		case StateClosed:
			failures := cb.failures.Add(1)
			threshold := cb.failureThreshold
			if cb.adaptive != nil {
				threshold = cb.adaptive.getThreshold()
			}
			if int(failures) >= threshold {
				if cb.state.CompareAndSwap(state, int32(StateOpen)) {
					cb.failures.Store(0)
					cb.successes.Store(0)
					cb.metrics.stateTransitions.Add(1)
					cb.metrics.updateStateTime(StateClosed)
					slog.Info("circuit breaker state transition",
						"from", StateClosed.String(),
						"to", StateOpen.String())
					return
				}
				continue
			}
			return

		case StateHalfOpen:
			if cb.state.CompareAndSwap(state, int32(StateOpen)) {
				cb.failures.Store(0)
				cb.successes.Store(0)
				cb.halfOpenProbes.Store(0)
				cb.metrics.stateTransitions.Add(1)
				cb.metrics.updateStateTime(StateHalfOpen)
				slog.Info("circuit breaker state transition",
					"from", StateHalfOpen.String(),
					"to", StateOpen.String())
				return
			}
			continue

		case StateOpen:
			return
		}
	}
}

// transitionTo forces a state change, resetting the counters the new state
// must not inherit. Used for the open-to-half-open timeout transition, where
// there is no outcome to record.
func (cb *circuitBreaker) transitionTo(newState CircuitState) {
	oldState := CircuitState(cb.state.Swap(int32(newState)))

	if oldState == newState {
		return
	}

	switch newState {
	case StateClosed, StateOpen:
		cb.failures.Store(0)
		cb.successes.Store(0)
		cb.halfOpenProbes.Store(0)
	case StateHalfOpen:
		cb.successes.Store(0)
		cb.halfOpenProbes.Store(0)
	}

	cb.metrics.stateTransitions.Add(1)
	cb.metrics.updateStateTime(oldState)

	slog.Info("circuit breaker state transition",
		"from", oldState.String(),
		"to", newState.String())
}
