package instrumentation

import "testing"

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.ServiceName != "voxmail" {
		t.Errorf("expected service name voxmail, got %q", config.ServiceName)
	}
	if !config.Enabled {
		t.Error("expected instrumentation enabled by default")
	}
	if config.MetricsExporter != ExporterPrometheus {
		t.Errorf("expected prometheus metrics exporter, got %q", config.MetricsExporter)
	}
	if config.TracingExporter != ExporterNone {
		t.Errorf("expected tracing disabled by default, got %q", config.TracingExporter)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}
}

func TestDefaultConfigEnvOverrides(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "voxmail-test")
	t.Setenv("METRICS_EXPORTER", "stdout")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.5")

	config := DefaultConfig()
	if config.ServiceName != "voxmail-test" {
		t.Errorf("expected env override for service name, got %q", config.ServiceName)
	}
	if config.MetricsExporter != ExporterStdout {
		t.Errorf("expected stdout exporter, got %q", config.MetricsExporter)
	}
	if config.TraceSamplingRate != 0.5 {
		t.Errorf("expected sampling rate 0.5, got %f", config.TraceSamplingRate)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "valid prometheus config",
			config: Config{MetricsExporter: ExporterPrometheus, TracingExporter: ExporterNone, TraceSamplingRate: 0.1},
		},
		{
			name:    "unknown metrics exporter",
			config:  Config{MetricsExporter: "statsd", TracingExporter: ExporterNone},
			wantErr: true,
		},
		{
			name:    "unknown tracing exporter",
			config:  Config{MetricsExporter: ExporterPrometheus, TracingExporter: "jaeger"},
			wantErr: true,
		},
		{
			name:    "otlp metrics without endpoint",
			config:  Config{MetricsExporter: ExporterOTLP, TracingExporter: ExporterNone},
			wantErr: true,
		},
		{
			name:    "otlp tracing without endpoint",
			config:  Config{MetricsExporter: ExporterPrometheus, TracingExporter: ExporterOTLP},
			wantErr: true,
		},
		{
			name:    "sampling rate out of range",
			config:  Config{MetricsExporter: ExporterPrometheus, TracingExporter: ExporterNone, TraceSamplingRate: 1.5},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}
