package provider

import (
	"sync"
	"time"
)

// metricsWindow is how far back request outcomes count toward ranking.
const metricsWindow = time.Hour

// Metrics tracks a rolling window of request outcomes for one provider.
// It is mutated only by the pool after each fetch attempt and is never
// persisted.
type Metrics struct {
	mu                  sync.Mutex
	window              time.Duration
	outcomes            []outcome
	consecutiveFailures int
}

type outcome struct {
	at      time.Time
	ok      bool
	latency time.Duration
}

// NewMetrics creates a Metrics with the standard one-hour window.
func NewMetrics() *Metrics {
	return &Metrics{window: metricsWindow}
}

// RecordSuccess records a successful fetch and its observed latency.
func (m *Metrics) RecordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(time.Now())
	m.outcomes = append(m.outcomes, outcome{at: time.Now(), ok: true, latency: latency})
	m.consecutiveFailures = 0
}

// RecordFailure records a failed fetch attempt.
func (m *Metrics) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(time.Now())
	m.outcomes = append(m.outcomes, outcome{at: time.Now(), ok: false})
	m.consecutiveFailures++
}

// SuccessRate returns the fraction of successful requests in the window.
// With no recorded outcomes it returns 1.0 so unproven providers are not
// penalized below proven ones.
func (m *Metrics) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(time.Now())
	if len(m.outcomes) == 0 {
		return 1.0
	}
	ok := 0
	for _, o := range m.outcomes {
		if o.ok {
			ok++
		}
	}
	return float64(ok) / float64(len(m.outcomes))
}

// ConsecutiveFailures returns the current failure streak.
func (m *Metrics) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFailures
}

// AvgLatency returns the mean latency of successful requests in the window,
// or zero when there are none.
func (m *Metrics) AvgLatency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(time.Now())
	var sum time.Duration
	n := 0
	for _, o := range m.outcomes {
		if o.ok {
			sum += o.latency
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}

// Counts returns successes and failures currently in the window.
func (m *Metrics) Counts() (successes, failures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(time.Now())
	for _, o := range m.outcomes {
		if o.ok {
			successes++
		} else {
			failures++
		}
	}
	return successes, failures
}

// prune drops outcomes older than the window. Caller must hold mu.
func (m *Metrics) prune(now time.Time) {
	cutoff := now.Add(-m.window)
	i := 0
	for ; i < len(m.outcomes); i++ {
		if m.outcomes[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		m.outcomes = m.outcomes[i:]
	}
}
