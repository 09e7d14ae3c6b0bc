package instrumentation

import (
	"fmt"
	"os"
	"strconv"
)

// Exporter types.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// Metric label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	RefreshResultSuccess = "success"
	RefreshResultFailure = "failure"
)

// Config holds the OpenTelemetry setup for the service.
type Config struct {
	// ServiceName identifies the service in exported telemetry.
	ServiceName string

	// ServiceVersion is stamped on the telemetry resource.
	ServiceVersion string

	// ServiceInstanceID defaults to the hostname when empty.
	ServiceInstanceID string

	// Enabled turns the whole provider off when false; Metrics then
	// degrades to a no-op recorder.
	Enabled bool

	// MetricsExporter selects prometheus, otlp, or stdout.
	MetricsExporter string

	// TracingExporter selects otlp, stdout, or none.
	TracingExporter string

	// OTLPEndpoint is the collector endpoint, host:port without scheme.
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP export. Local development only.
	OTLPInsecure bool

	// TraceSamplingRate is the parent-based ratio sampler argument.
	TraceSamplingRate float64
}

// DefaultConfig builds a Config from the conventional OTel environment
// variables.
func DefaultConfig() Config {
	return Config{
		ServiceName:       envOr("OTEL_SERVICE_NAME", "voxmail"),
		ServiceVersion:    "unknown",
		ServiceInstanceID: envOr("OTEL_SERVICE_INSTANCE_ID", ""),
		Enabled:           envBoolOr("INSTRUMENTATION_ENABLED", true),
		MetricsExporter:   envOr("METRICS_EXPORTER", ExporterPrometheus),
		TracingExporter:   envOr("TRACING_EXPORTER", ExporterNone),
		OTLPEndpoint:      envOr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure:      envBoolOr("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSamplingRate: envFloatOr("OTEL_TRACES_SAMPLER_ARG", 0.1),
	}
}

// Validate rejects unknown exporters and inconsistent OTLP settings.
func (c *Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %f", c.TraceSamplingRate)
	}

	switch c.MetricsExporter {
	case "", ExporterPrometheus, ExporterOTLP, ExporterStdout:
	default:
		return fmt.Errorf("invalid metrics exporter %q, must be one of: prometheus, otlp, stdout", c.MetricsExporter)
	}

	switch c.TracingExporter {
	case "", ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		return fmt.Errorf("invalid tracing exporter %q, must be one of: otlp, stdout, none", c.TracingExporter)
	}

	if c.OTLPEndpoint == "" {
		if c.MetricsExporter == ExporterOTLP {
			return fmt.Errorf("OTLP endpoint is required when using OTLP metrics exporter")
		}
		if c.TracingExporter == ExporterOTLP {
			return fmt.Errorf("OTLP endpoint is required when using OTLP tracing exporter")
		}
	}

	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
