package telemetry

import "time"

// LoggingConfig controls the zerolog logger.
type LoggingConfig struct {
	// Level is the minimum level: trace, debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "json" or "console".
	Format string `yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `yaml:"output"`

	// EnableCaller adds file:line of the call site to each event.
	EnableCaller bool `yaml:"enable_caller"`
}

// DefaultLoggingConfig returns the production defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stderr",
	}
}

// MetricsConfig controls the Prometheus registry.
type MetricsConfig struct {
	// Enabled turns metric collection on.
	Enabled bool `yaml:"enabled"`

	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace"`
}

// DefaultMetricsConfig returns the production defaults.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "securactl",
	}
}

// TracingConfig controls the OpenTelemetry tracer.
type TracingConfig struct {
	// Enabled turns span export on.
	Enabled bool `yaml:"enabled"`

	// Exporter is "otlp", "stdout", or "none".
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP gRPC endpoint, host:port.
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS on the OTLP connection.
	Insecure bool `yaml:"insecure"`

	// SamplingRate is the trace sampling ratio in [0, 1].
	SamplingRate float64 `yaml:"sampling_rate"`

	// ExportTimeout bounds a single batch export.
	ExportTimeout time.Duration `yaml:"export_timeout"`
}

// DefaultTracingConfig returns the production defaults: tracing off.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Exporter:      "none",
		SamplingRate:  1.0,
		ExportTimeout: 30 * time.Second,
	}
}
