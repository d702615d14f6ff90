package circuitbreaker

import (
	"sync/atomic"
	"time"
)

// circuitBreakerMetrics are per-breaker counters, all atomic so the hot
// path never takes a lock to count.
type circuitBreakerMetrics struct {
	stateTransitions    atomic.Int64
	requestsAllowed     atomic.Int64
	requestsRejected    atomic.Int64
	probeAttempts       atomic.Int64
	probeSuccesses      atomic.Int64
	probeGuardConflicts atomic.Int64
	// Nanoseconds accumulated per state, attributed on transition.
	timeInClosed    atomic.Int64
	timeInOpen      atomic.Int64
	timeInHalfOpen  atomic.Int64
	lastStateChange atomic.Int64
}

// updateStateTime charges the time since the last transition to the state
// just exited.
func (m *circuitBreakerMetrics) updateStateTime(currentState CircuitState) {
	now := time.Now().UnixNano()
	lastChange := m.lastStateChange.Load()
	if lastChange == 0 {
		m.lastStateChange.Store(now)
		return
	}

	duration := now - lastChange
	switch currentState {
	case StateClosed:
		m.timeInClosed.Add(duration)
	case StateOpen:
		m.timeInOpen.Add(duration)
	case StateHalfOpen:
		m.timeInHalfOpen.Add(duration)
	}
	m.lastStateChange.Store(now)
}

// Stats aggregates breaker counters across every provider for monitoring.
type Stats struct {
	// TotalBreakers is the number of live breakers, normally one per
	// provider seen so far.
	TotalBreakers int `json:"total_breakers"`
	// StateCount buckets breakers by state name.
	StateCount map[string]int `json:"state_count"`

	TotalStateTransitions int64 `json:"total_state_transitions"`
	TotalRequestsAllowed  int64 `json:"total_requests_allowed"`
	TotalRequestsRejected int64 `json:"total_requests_rejected"`
	TotalProbeAttempts    int64 `json:"total_probe_attempts"`
	TotalProbeSuccesses   int64 `json:"total_probe_successes"`
	// TotalProbeGuardConflicts counts probes skipped because another
	// instance held the Redis probe guard.
	TotalProbeGuardConflicts int64 `json:"total_probe_guard_conflicts"`
}
