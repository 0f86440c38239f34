package joinabletask

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is the optional pump/transition metrics collector (SPEC_FULL §2
// C10), grounded on the teacher's Loop.Metrics()/metrics.go. Nil unless the
// owning Context was built with WithMetrics(true); every recording method
// is nil-safe so call sites never need a feature-flag check of their own.
type Metrics struct {
	transitioningCount atomic.Int64
	transitionedCount  atomic.Int64
	continuationsRun   atomic.Int64
	cancellations      atomic.Int64

	mu      sync.Mutex
	latency *psquareEstimator
}

func newMetrics() *Metrics {
	return &Metrics{latency: newPSquareEstimator(0.95)}
}

// TransitioningCount is the number of OnTransitioningToMainThread firings.
func (m *Metrics) TransitioningCount() int64 {
	if m == nil {
		return 0
	}
	return m.transitioningCount.Load()
}

// TransitionedCount is the number of OnTransitionedToMainThread firings;
// per spec §8 property 6, this always equals TransitioningCount once all
// outstanding transitions have settled.
func (m *Metrics) TransitionedCount() int64 {
	if m == nil {
		return 0
	}
	return m.transitionedCount.Load()
}

// ContinuationsRun counts every continuation the pump has dispatched,
// across all tasks and factories sharing this Context.
func (m *Metrics) ContinuationsRun() int64 {
	if m == nil {
		return 0
	}
	return m.continuationsRun.Load()
}

// Cancellations counts SwitchToMainThreadAsync calls that completed via
// cancellation rather than dispatch.
func (m *Metrics) Cancellations() int64 {
	if m == nil {
		return 0
	}
	return m.cancellations.Load()
}

// DispatchLatencyP95 returns the streaming P95 estimate of the time between a
// continuation being enqueued and the pump dispatching it.
func (m *Metrics) DispatchLatencyP95() time.Duration {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Duration(m.latency.value() * float64(time.Second))
}

func (m *Metrics) recordTransitioning() {
	if m == nil {
		return
	}
	m.transitioningCount.Add(1)
}

func (m *Metrics) recordTransitioned() {
	if m == nil {
		return
	}
	m.transitionedCount.Add(1)
}

func (m *Metrics) recordCancellation() {
	if m == nil {
		return
	}
	m.cancellations.Add(1)
}

func (m *Metrics) recordDispatch(enqueuedAt time.Time) {
	if m == nil {
		return
	}
	m.continuationsRun.Add(1)
	m.mu.Lock()
	m.latency.observe(time.Since(enqueuedAt).Seconds())
	m.mu.Unlock()
}
