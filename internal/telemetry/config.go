package telemetry

import (
	"fmt"
	"time"
)

// Config holds the OpenTelemetry bootstrap configuration.
type Config struct {
	// Enabled turns telemetry export on. Disabled yields no-op providers.
	Enabled bool `koanf:"enabled"`

	// ServiceName identifies this process in traces and metrics.
	ServiceName string `koanf:"service_name"`

	// ServiceVersion is attached to the resource.
	ServiceVersion string `koanf:"service_version"`

	// Endpoint is the OTLP gRPC collector endpoint (host:port).
	Endpoint string `koanf:"endpoint"`

	// Insecure disables TLS towards the collector.
	Insecure bool `koanf:"insecure"`

	// SampleRate is the trace sampling ratio in [0, 1].
	SampleRate float64 `koanf:"sample_rate"`

	// MetricInterval is the periodic metric export interval.
	MetricInterval time.Duration `koanf:"metric_interval"`

	// ShutdownTimeout bounds provider shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DefaultConfig returns production-ready defaults with export disabled.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         false,
		ServiceName:     "turbine",
		ServiceVersion:  "dev",
		Endpoint:        "localhost:4317",
		SampleRate:      1.0,
		MetricInterval:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate must be in [0, 1], got %v", c.SampleRate)
	}
	if c.Enabled && c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.MetricInterval <= 0 {
		return fmt.Errorf("metric interval must be > 0")
	}
	return nil
}
