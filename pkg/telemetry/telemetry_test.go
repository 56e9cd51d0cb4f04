package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jzx17/voltloop/pkg/bootstrap"
	"github.com/jzx17/voltloop/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

var _ types.Logger = (*Logger)(nil)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerFrom(zerolog.New(&buf).Level(zerolog.DebugLevel)).
		Component("controller").
		WithField("chart", "voltage").
		WithError(errors.New("canvas detached"))

	log.Warnf("render failed after %d calls", 3)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "controller", entry["component"])
	assert.Equal(t, "voltage", entry["chart"])
	assert.Equal(t, "canvas detached", entry["error"])
	assert.Equal(t, "render failed after 3 calls", entry["message"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerFrom(zerolog.New(&buf).Level(zerolog.WarnLevel))

	log.Debugf("hidden")
	log.Infof("hidden")
	assert.Zero(t, buf.Len())

	log.Errorf("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop.log")
	log, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)
	log.Infof("hello")

	_, err = NewLogger(LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func TestMetrics_Loop(t *testing.T) {
	m := NewMetrics(DefaultMetricsConfig())

	m.ObserveTick(2*time.Millisecond, true)
	m.ObserveTick(3*time.Millisecond, true)
	m.ObserveTick(time.Millisecond, false)
	m.ObserveComputeError()
	m.ObserveRenderError("voltage")
	m.ObserveRenderError("voltage")
	m.SetLoopState(types.StateRunning)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.computeErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.renderErrors.WithLabelValues("voltage")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loopState))
}

func TestMetrics_BootstrapAndRetry(t *testing.T) {
	m := NewMetrics(DefaultMetricsConfig())
	ctx := context.Background()

	m.ObserveStage("runtime", bootstrap.StageCompleted, 3, time.Second)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.stageAttempts.WithLabelValues("runtime", "completed")))

	h := m.RetryHandler()
	h.OnRetryAttempt(ctx, "runtime", 1, 500*time.Millisecond, errors.New("timeout"))
	h.OnRetryAttempt(ctx, "runtime", 2, time.Second, errors.New("timeout"))
	h.OnRetrySuccess(ctx, "runtime", 3, 2*time.Second)
	h.OnMaxAttemptsReached(ctx, "bind-functions", 3, errors.New("missing"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.retryAttempts.WithLabelValues("runtime")))
	assert.Equal(t, 1.5, testutil.ToFloat64(m.retryDelaySecs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retryOutcomes.WithLabelValues("runtime", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retryOutcomes.WithLabelValues("bind-functions", "exhausted")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(DefaultMetricsConfig())
	m.ObserveComputeError()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "voltloop_compute_errors_total 1")
}

func TestMetrics_Disabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{})
	assert.Nil(t, m.Registry())

	m.ObserveTick(time.Millisecond, true)
	m.ObserveComputeError()
	m.ObserveRenderError("voltage")
	m.SetLoopState(types.StateStopped)
	m.ObserveStage("runtime", bootstrap.StageError, 1, time.Second)
	m.RetryHandler().OnRetryAttempt(context.Background(), "x", 1, time.Second, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestSetupTracing_Stdout(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	tr, err := SetupTracing(TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1}, "voltloop", "test", &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "tick")
	span.End()
	require.NoError(t, tr.Shutdown(context.Background()))

	assert.True(t, strings.Contains(buf.String(), `"Name":"tick"`), buf.String())
}

func TestSetupTracing_UnknownExporter(t *testing.T) {
	_, err := SetupTracing(TracingConfig{Enabled: true, Exporter: "jaeger"}, "voltloop", "test", nil)
	assert.Error(t, err)
}
