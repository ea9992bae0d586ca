package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the YAML configuration file structure.
type YAMLConfig struct {
	Service   ServiceYAMLConfig   `yaml:"service"`
	Export    ExportYAMLConfig    `yaml:"export"`
	Sampler   SamplerYAMLConfig   `yaml:"sampler"`
	Stats     StatsYAMLConfig     `yaml:"stats"`
	Telemetry TelemetryYAMLConfig `yaml:"telemetry"`
}

// ServiceYAMLConfig identifies the profiled service.
type ServiceYAMLConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
}

// ExportYAMLConfig holds the upload pipeline configuration.
type ExportYAMLConfig struct {
	Endpoint     string                `yaml:"endpoint"`
	AuthToken    string                `yaml:"auth_token"`
	Interval     Duration              `yaml:"interval"`
	CycleTimeout Duration              `yaml:"cycle_timeout"`
	FlushTimeout Duration              `yaml:"flush_timeout"`
	Timeout      Duration              `yaml:"timeout"`
	Capacity     int                   `yaml:"capacity"`
	Retry        RetryYAMLConfig       `yaml:"retry"`
	Compression  CompressionYAMLConfig `yaml:"compression"`
	TLS          TLSClientYAMLConfig   `yaml:"tls"`
	Auth         AuthClientYAMLConfig  `yaml:"auth"`
	HTTPClient   HTTPClientYAMLConfig  `yaml:"http_client"`
}

// RetryYAMLConfig holds backoff settings.
type RetryYAMLConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	Multiplier  float64  `yaml:"multiplier"`
}

// CompressionYAMLConfig holds payload compression settings.
type CompressionYAMLConfig struct {
	Type  string `yaml:"type"`
	Level int    `yaml:"level"`
}

// TLSClientYAMLConfig holds client TLS settings for the upload transport.
type TLSClientYAMLConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	ServerName         string `yaml:"server_name"`
}

// AuthClientYAMLConfig holds upload transport authentication beyond the
// bearer token.
type AuthClientYAMLConfig struct {
	BasicUsername string            `yaml:"basic_username"`
	BasicPassword string            `yaml:"basic_password"`
	Headers       map[string]string `yaml:"headers"`
}

// HTTPClientYAMLConfig holds upload connection pool settings.
type HTTPClientYAMLConfig struct {
	MaxIdleConns        int      `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int      `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int      `yaml:"max_conns_per_host"`
	IdleConnTimeout     Duration `yaml:"idle_conn_timeout"`
	DisableKeepAlives   bool     `yaml:"disable_keep_alives"`
	ForceHTTP2          bool     `yaml:"force_http2"`
}

// SamplerYAMLConfig holds in-process runtime sampler settings.
type SamplerYAMLConfig struct {
	Enabled      *bool    `yaml:"enabled"`
	WallInterval Duration `yaml:"wall_interval"`
	HeapInterval Duration `yaml:"heap_interval"`
}

// StatsYAMLConfig holds the ops HTTP endpoint settings.
type StatsYAMLConfig struct {
	Address       string `yaml:"address"`
	TLSEnabled    bool   `yaml:"tls_enabled"`
	TLSCertFile   string `yaml:"tls_cert_file"`
	TLSKeyFile    string `yaml:"tls_key_file"`
	AuthEnabled   bool   `yaml:"auth_enabled"`
	BearerToken   string `yaml:"bearer_token"`
	BasicUsername string `yaml:"basic_username"`
	BasicPassword string `yaml:"basic_password"`
}

// TelemetryYAMLConfig holds OTLP self-monitoring telemetry configuration.
type TelemetryYAMLConfig struct {
	Endpoint        string            `yaml:"endpoint"` // OTLP endpoint (empty = disabled)
	Protocol        string            `yaml:"protocol"` // "grpc" or "http" (default: "grpc")
	Insecure        *bool             `yaml:"insecure"`
	Timeout         Duration          `yaml:"timeout"`
	PushInterval    Duration          `yaml:"push_interval"`
	Compression     string            `yaml:"compression"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"`
	Headers         map[string]string `yaml:"headers"`
}

// Duration is a wrapper for time.Duration that supports YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// LoadYAML loads configuration from a YAML file.
func LoadYAML(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML parses YAML configuration from bytes.
func ParseYAML(data []byte) (*YAMLConfig, error) {
	cfg := &YAMLConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToConfig converts the YAML representation into a Config, starting from
// the defaults so fields absent from the file keep valid values.
func (y *YAMLConfig) ToConfig() *Config {
	cfg := DefaultConfig()

	if y.Service.Name != "" {
		cfg.ServiceName = y.Service.Name
	}
	if y.Service.Environment != "" {
		cfg.Environment = y.Service.Environment
	}
	if y.Service.Host != "" {
		cfg.Host = y.Service.Host
	}

	if y.Export.Endpoint != "" {
		cfg.Endpoint = y.Export.Endpoint
	}
	if y.Export.AuthToken != "" {
		cfg.AuthToken = y.Export.AuthToken
	}
	if y.Export.Interval != 0 {
		cfg.ExportInterval = time.Duration(y.Export.Interval)
	}
	if y.Export.CycleTimeout != 0 {
		cfg.CycleTimeout = time.Duration(y.Export.CycleTimeout)
	}
	if y.Export.FlushTimeout != 0 {
		cfg.FlushTimeout = time.Duration(y.Export.FlushTimeout)
	}
	if y.Export.Timeout != 0 {
		cfg.UploadTimeout = time.Duration(y.Export.Timeout)
	}
	if y.Export.Capacity != 0 {
		cfg.AccumulatorCapacity = y.Export.Capacity
	}

	if y.Export.Retry.MaxAttempts != 0 {
		cfg.RetryMaxAttempts = y.Export.Retry.MaxAttempts
	}
	if y.Export.Retry.BaseDelay != 0 {
		cfg.RetryBaseDelay = time.Duration(y.Export.Retry.BaseDelay)
	}
	if y.Export.Retry.MaxDelay != 0 {
		cfg.RetryMaxDelay = time.Duration(y.Export.Retry.MaxDelay)
	}
	if y.Export.Retry.Multiplier != 0 {
		cfg.RetryMultiplier = y.Export.Retry.Multiplier
	}

	if y.Export.Compression.Type != "" {
		cfg.Compression = y.Export.Compression.Type
	}
	if y.Export.Compression.Level != 0 {
		cfg.CompressionLevel = y.Export.Compression.Level
	}

	cfg.TLSEnabled = y.Export.TLS.Enabled
	cfg.TLSCertFile = y.Export.TLS.CertFile
	cfg.TLSKeyFile = y.Export.TLS.KeyFile
	cfg.TLSCAFile = y.Export.TLS.CAFile
	cfg.TLSInsecureSkipVerify = y.Export.TLS.InsecureSkipVerify
	cfg.TLSServerName = y.Export.TLS.ServerName

	cfg.AuthBasicUsername = y.Export.Auth.BasicUsername
	cfg.AuthBasicPassword = y.Export.Auth.BasicPassword
	if len(y.Export.Auth.Headers) > 0 {
		pairs := make([]string, 0, len(y.Export.Auth.Headers))
		for k, v := range y.Export.Auth.Headers {
			pairs = append(pairs, k+"="+v)
		}
		cfg.AuthHeaders = strings.Join(pairs, ",")
	}

	if y.Export.HTTPClient.MaxIdleConns != 0 {
		cfg.HTTPMaxIdleConns = y.Export.HTTPClient.MaxIdleConns
	}
	if y.Export.HTTPClient.MaxIdleConnsPerHost != 0 {
		cfg.HTTPMaxIdleConnsPerHost = y.Export.HTTPClient.MaxIdleConnsPerHost
	}
	if y.Export.HTTPClient.MaxConnsPerHost != 0 {
		cfg.HTTPMaxConnsPerHost = y.Export.HTTPClient.MaxConnsPerHost
	}
	if y.Export.HTTPClient.IdleConnTimeout != 0 {
		cfg.HTTPIdleConnTimeout = time.Duration(y.Export.HTTPClient.IdleConnTimeout)
	}
	cfg.HTTPDisableKeepAlives = y.Export.HTTPClient.DisableKeepAlives
	cfg.HTTPForceHTTP2 = y.Export.HTTPClient.ForceHTTP2

	if y.Sampler.Enabled != nil {
		cfg.SamplerEnabled = *y.Sampler.Enabled
	}
	if y.Sampler.WallInterval != 0 {
		cfg.SamplerWallInterval = time.Duration(y.Sampler.WallInterval)
	}
	if y.Sampler.HeapInterval != 0 {
		cfg.SamplerHeapInterval = time.Duration(y.Sampler.HeapInterval)
	}

	if y.Stats.Address != "" {
		cfg.StatsAddr = y.Stats.Address
	}
	cfg.StatsTLSEnabled = y.Stats.TLSEnabled
	cfg.StatsTLSCertFile = y.Stats.TLSCertFile
	cfg.StatsTLSKeyFile = y.Stats.TLSKeyFile
	cfg.StatsAuthEnabled = y.Stats.AuthEnabled
	cfg.StatsBearerToken = y.Stats.BearerToken
	cfg.StatsBasicUsername = y.Stats.BasicUsername
	cfg.StatsBasicPassword = y.Stats.BasicPassword

	cfg.TelemetryEndpoint = y.Telemetry.Endpoint
	if y.Telemetry.Protocol != "" {
		cfg.TelemetryProtocol = y.Telemetry.Protocol
	}
	if y.Telemetry.Insecure != nil {
		cfg.TelemetryInsecure = *y.Telemetry.Insecure
	}
	if y.Telemetry.Timeout != 0 {
		cfg.TelemetryTimeout = time.Duration(y.Telemetry.Timeout)
	}
	if y.Telemetry.PushInterval != 0 {
		cfg.TelemetryPushInterval = time.Duration(y.Telemetry.PushInterval)
	}
	if y.Telemetry.Compression != "" {
		cfg.TelemetryCompression = y.Telemetry.Compression
	}
	if y.Telemetry.ShutdownTimeout != 0 {
		cfg.TelemetryShutdownTimeout = time.Duration(y.Telemetry.ShutdownTimeout)
	}
	if len(y.Telemetry.Headers) > 0 {
		cfg.TelemetryHeaders = map[string]string{}
		for k, v := range y.Telemetry.Headers {
			cfg.TelemetryHeaders[k] = v
		}
	}

	return cfg
}
