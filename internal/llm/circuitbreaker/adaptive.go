package circuitbreaker

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// minRequestsForAdjustment keeps the threshold at its base until the
	// window holds enough samples to mean anything.
	minRequestsForAdjustment = 10
	// Error-rate bands: above the high band the threshold halves, above
	// the medium band it drops to three quarters, below both it returns
	// to base.
	highErrorRateThreshold   = 0.5
	mediumErrorRateThreshold = 0.3

	mediumThresholdMultiplier = 0.75
	highThresholdDivisor      = 2
)

// adaptiveThresholds tightens the failure threshold while a provider is
// having a bad minute. Counters reset each window, so a burst of errors an
// hour ago does not keep the breaker trigger-happy now. Counting is
// lock-free; the mutex only serializes window resets.
type adaptiveThresholds struct {
	mu                   sync.Mutex
	baseFailureThreshold int
	currentThreshold     atomic.Int32
	totalRequests        atomic.Int64
	totalFailures        atomic.Int64
	windowStart          atomic.Int64
	windowDuration       time.Duration
}

// clampToInt32 saturates out-of-range values at MaxInt32 so a huge or
// nonsensical configured threshold cannot wrap the atomic.
func clampToInt32(v int) int32 {
	if v < 0 || v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}

func newAdaptiveThresholds(baseThreshold int) *adaptiveThresholds {
	at := &adaptiveThresholds{
		baseFailureThreshold: baseThreshold,
		windowDuration:       1 * time.Minute,
	}
	at.currentThreshold.Store(clampToInt32(baseThreshold))
	at.windowStart.Store(time.Now().UnixNano())
	return at
}

// recordRequest folds one outcome into the current window, resetting the
// window first if it has expired.
func (at *adaptiveThresholds) recordRequest(success bool) {
	now := time.Now().UnixNano()

	if now-at.windowStart.Load() > int64(at.windowDuration) {
		at.mu.Lock()
		// Re-check under the lock; another goroutine may have reset first.
		if now-at.windowStart.Load() > int64(at.windowDuration) {
			// Counters zero before windowStart publishes, so readers never
			// see old counts attributed to the new window.
			at.totalRequests.Store(0)
			at.totalFailures.Store(0)
			at.windowStart.Store(now)
		}
		at.mu.Unlock()
	}

	at.totalRequests.Add(1)
	if !success {
		at.totalFailures.Add(1)
	}

	at.adjust()
}

// adjust recomputes the threshold from the window's error rate.
func (at *adaptiveThresholds) adjust() {
	total := at.totalRequests.Load()
	if total < minRequestsForAdjustment {
		return
	}

	failures := at.totalFailures.Load()
	errorRate := float64(failures) / float64(total)

	var newThreshold int32
	switch {
	case errorRate > highErrorRateThreshold:
		newThreshold = clampToInt32(at.baseFailureThreshold / highThresholdDivisor)
	case errorRate > mediumErrorRateThreshold:
		adjusted := float64(at.baseFailureThreshold) * mediumThresholdMultiplier
		if adjusted > math.MaxInt32 {
			newThreshold = math.MaxInt32
		} else {
			newThreshold = int32(adjusted)
		}
	default:
		newThreshold = clampToInt32(at.baseFailureThreshold)
	}

	if newThreshold < 1 {
		newThreshold = 1
	}

	at.currentThreshold.Store(newThreshold)
}

func (at *adaptiveThresholds) getThreshold() int { return int(at.currentThreshold.Load()) }
