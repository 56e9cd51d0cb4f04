// Package telemetry provides logging, metrics and tracing for the control loop
package telemetry

// LoggingConfig configures structured logging
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error)
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`

	// Format is console or json
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`

	// Output is stdout, stderr or a file path
	Output string `yaml:"output"`

	// TimeFormat is rfc3339, unix or unixms
	TimeFormat string `yaml:"time_format" validate:"omitempty,oneof=rfc3339 unix unixms"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	// Address is where the CLI serves /metrics, e.g. ":9090"
	Address string `yaml:"address"`
}

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is stdout or none
	Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=stdout none"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
}

// DefaultLoggingConfig returns info-level console logging to stderr
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "rfc3339",
	}
}

// DefaultMetricsConfig returns enabled metrics without an HTTP listener
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "voltloop",
	}
}

// DefaultTracingConfig returns disabled tracing
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Exporter:     "stdout",
		SamplingRate: 1.0,
	}
}
