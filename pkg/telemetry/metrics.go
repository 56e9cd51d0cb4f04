package telemetry

import (
	"net/http"
	"time"

	"github.com/jzx17/voltloop/pkg/bootstrap"
	"github.com/jzx17/voltloop/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records loop, bootstrap and retry measurements in a private
// Prometheus registry. It satisfies controller.MetricsCollector and
// bootstrap.MetricsCollector. A disabled Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	ticks         *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	computeErrors prometheus.Counter
	renderErrors  *prometheus.CounterVec
	loopState     prometheus.Gauge

	stageAttempts *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec

	retryAttempts  *prometheus.CounterVec
	retryOutcomes  *prometheus.CounterVec
	retryDelaySecs prometheus.Counter
}

// NewMetrics creates and registers the metrics
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{}
	}

	ns := cfg.Namespace
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "ticks_total",
			Help:      "Completed control loop ticks by power flow convergence",
		}, []string{"converged"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "tick_duration_seconds",
			Help:      "Duration of compute plus render for one tick",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		computeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "compute_errors_total",
			Help:      "Ticks that failed and stopped the loop",
		}),
		renderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "render_errors_total",
			Help:      "Render sink failures by chart",
		}, []string{"chart"}),
		loopState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "loop_state",
			Help:      "Loop state (0=idle, 1=running, 2=stopped)",
		}),
		stageAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "bootstrap_stage_attempts_total",
			Help:      "Bootstrap stage attempts by stage and final status",
		}, []string{"stage", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "bootstrap_stage_duration_seconds",
			Help:      "Bootstrap stage duration including retry delays",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "retry_attempts_total",
			Help:      "Failed attempts followed by a retry",
		}, []string{"operation"}),
		retryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "retry_outcomes_total",
			Help:      "Final retry outcomes",
		}, []string{"operation", "outcome"}),
		retryDelaySecs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "retry_delay_seconds_total",
			Help:      "Total time spent waiting between attempts",
		}),
	}

	m.registry.MustRegister(
		m.ticks, m.tickDuration, m.computeErrors, m.renderErrors, m.loopState,
		m.stageAttempts, m.stageDuration,
		m.retryAttempts, m.retryOutcomes, m.retryDelaySecs,
	)
	return m
}

func (m *Metrics) enabled() bool {
	return m.registry != nil
}

// ObserveTick records a completed tick
func (m *Metrics) ObserveTick(duration time.Duration, converged bool) {
	if !m.enabled() {
		return
	}
	label := "false"
	if converged {
		label = "true"
	}
	m.ticks.WithLabelValues(label).Inc()
	m.tickDuration.Observe(duration.Seconds())
}

// ObserveComputeError records a failed tick
func (m *Metrics) ObserveComputeError() {
	if m.enabled() {
		m.computeErrors.Inc()
	}
}

// ObserveRenderError records a render sink failure
func (m *Metrics) ObserveRenderError(chartID string) {
	if m.enabled() {
		m.renderErrors.WithLabelValues(chartID).Inc()
	}
}

// SetLoopState records the loop state
func (m *Metrics) SetLoopState(state types.LoopState) {
	if m.enabled() {
		m.loopState.Set(float64(state))
	}
}

// ObserveStage records a bootstrap stage outcome
func (m *Metrics) ObserveStage(stageID string, status bootstrap.StageStatus, attempts int, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.stageAttempts.WithLabelValues(stageID, status.String()).Add(float64(attempts))
	m.stageDuration.WithLabelValues(stageID).Observe(duration.Seconds())
}

// RetryHandler returns a retry.EventHandler feeding the retry metrics
func (m *Metrics) RetryHandler() *RetryMetrics {
	return &RetryMetrics{m: m}
}

// Registry returns the Prometheus registry, nil when disabled
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
