package telemetry

import (
	"context"
	"time"
)

// RetryMetrics implements retry.EventHandler on top of Metrics
type RetryMetrics struct {
	m *Metrics
}

// OnRetryAttempt implements retry.EventHandler
func (r *RetryMetrics) OnRetryAttempt(ctx context.Context, name string, attempt int, delay time.Duration, err error) {
	if !r.m.enabled() {
		return
	}
	r.m.retryAttempts.WithLabelValues(name).Inc()
	r.m.retryDelaySecs.Add(delay.Seconds())
}

// OnRetrySuccess implements retry.EventHandler
func (r *RetryMetrics) OnRetrySuccess(ctx context.Context, name string, attempts int, duration time.Duration) {
	if r.m.enabled() {
		r.m.retryOutcomes.WithLabelValues(name, "success").Inc()
	}
}

// OnMaxAttemptsReached implements retry.EventHandler
func (r *RetryMetrics) OnMaxAttemptsReached(ctx context.Context, name string, attempts int, err error) {
	if r.m.enabled() {
		r.m.retryOutcomes.WithLabelValues(name, "exhausted").Inc()
	}
}
