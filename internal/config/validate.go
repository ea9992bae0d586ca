package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for errors that prevent startup. All
// problems are reported at once, one per line.
func (c *Config) Validate() error {
	var problems []string

	if c.Endpoint == "" {
		problems = append(problems, "endpoint: ingest endpoint is required (flag -endpoint, YAML export.endpoint, or "+EnvEndpoint+")")
	}
	if c.ServiceName == "" {
		problems = append(problems, "service-name: service name must not be empty")
	}
	if c.ExportInterval <= 0 {
		problems = append(problems, fmt.Sprintf("export-interval: must be positive, got %v", c.ExportInterval))
	}
	if c.FlushTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("flush-timeout: must be positive, got %v", c.FlushTimeout))
	}
	if c.CycleTimeout < 0 {
		problems = append(problems, fmt.Sprintf("cycle-timeout: must not be negative, got %v", c.CycleTimeout))
	}
	if c.AccumulatorCapacity <= 0 {
		problems = append(problems, fmt.Sprintf("capacity: must be positive, got %d", c.AccumulatorCapacity))
	}
	if c.RetryMaxAttempts <= 0 {
		problems = append(problems, fmt.Sprintf("retry-max-attempts: must be positive, got %d", c.RetryMaxAttempts))
	}
	if c.RetryBaseDelay <= 0 {
		problems = append(problems, fmt.Sprintf("retry-base-delay: must be positive, got %v", c.RetryBaseDelay))
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		problems = append(problems, fmt.Sprintf("retry-max-delay: must not be below the base delay, got %v < %v", c.RetryMaxDelay, c.RetryBaseDelay))
	}
	if c.RetryMultiplier < 1 {
		problems = append(problems, fmt.Sprintf("retry-multiplier: must be >= 1, got %g", c.RetryMultiplier))
	}
	if _, err := c.CompressionConfig(); err != nil {
		problems = append(problems, fmt.Sprintf("compression: %v", err))
	}
	if c.TLSEnabled && (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		problems = append(problems, "tls: cert and key files must be provided together")
	}
	if c.StatsTLSEnabled && (c.StatsTLSCertFile == "" || c.StatsTLSKeyFile == "") {
		problems = append(problems, "stats-tls: cert and key files are required when TLS is enabled")
	}
	if c.StatsAuthEnabled && c.StatsBearerToken == "" && c.StatsBasicUsername == "" {
		problems = append(problems, "stats-auth: a bearer token or basic auth credentials are required when auth is enabled")
	}
	switch c.TelemetryProtocol {
	case "grpc", "http":
	default:
		problems = append(problems, fmt.Sprintf("telemetry-protocol: must be grpc or http, got %q", c.TelemetryProtocol))
	}
	if c.MemoryLimitRatio <= 0 || c.MemoryLimitRatio > 1 {
		problems = append(problems, fmt.Sprintf("memory-limit-ratio: must be in (0, 1], got %g", c.MemoryLimitRatio))
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
}
