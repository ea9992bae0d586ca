// Package config loads the bridge configuration from flags, an optional
// YAML file and environment fallbacks. The result is read-only after
// Parse.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joker-joker-yuan/profile-bridge/internal/auth"
	"github.com/joker-joker-yuan/profile-bridge/internal/compression"
	"github.com/joker-joker-yuan/profile-bridge/internal/sampler"
	"github.com/joker-joker-yuan/profile-bridge/internal/scheduler"
	"github.com/joker-joker-yuan/profile-bridge/internal/telemetry"
	tlspkg "github.com/joker-joker-yuan/profile-bridge/internal/tls"
	"github.com/joker-joker-yuan/profile-bridge/internal/uploader"
)

// version is set at build time via ldflags
var version = "dev"

// Version returns the build version string.
func Version() string {
	return version
}

// Environment fallbacks for secrets and identity, checked when the
// corresponding flag and YAML field are unset.
const (
	EnvToken       = "TOKEN"
	EnvServiceName = "SERVICE_NAME"
	EnvEndpoint    = "PROFILING_ENDPOINT"
)

// Config holds the application configuration.
type Config struct {
	// Service identity
	ServiceName string
	Environment string
	Host        string

	// Export settings
	Endpoint            string
	AuthToken           string
	ExportInterval      time.Duration
	CycleTimeout        time.Duration
	FlushTimeout        time.Duration
	UploadTimeout       time.Duration
	AccumulatorCapacity int

	// Retry settings
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryMultiplier  float64

	// Compression settings
	Compression      string
	CompressionLevel int

	// Upload TLS settings
	TLSEnabled            bool
	TLSCertFile           string
	TLSKeyFile            string
	TLSCAFile             string
	TLSInsecureSkipVerify bool
	TLSServerName         string

	// Upload auth settings beyond the bearer token
	AuthBasicUsername string
	AuthBasicPassword string
	AuthHeaders       string // Comma-separated key=value pairs

	// Upload HTTP client settings
	HTTPMaxIdleConns        int
	HTTPMaxIdleConnsPerHost int
	HTTPMaxConnsPerHost     int
	HTTPIdleConnTimeout     time.Duration
	HTTPDisableKeepAlives   bool
	HTTPForceHTTP2          bool

	// In-process sampler settings
	SamplerEnabled      bool
	SamplerWallInterval time.Duration
	SamplerHeapInterval time.Duration

	// Ops endpoint settings
	StatsAddr          string
	StatsTLSEnabled    bool
	StatsTLSCertFile   string
	StatsTLSKeyFile    string
	StatsAuthEnabled   bool
	StatsBearerToken   string
	StatsBasicUsername string
	StatsBasicPassword string

	// Self-telemetry settings
	TelemetryEndpoint        string
	TelemetryProtocol        string
	TelemetryInsecure        bool
	TelemetryTimeout         time.Duration
	TelemetryPushInterval    time.Duration
	TelemetryCompression     string
	TelemetryShutdownTimeout time.Duration
	TelemetryHeaders         map[string]string

	// Memory limit settings
	MemoryLimitRatio float64

	// Debug logging
	Debug bool

	ConfigFile  string
	ShowHelp    bool
	ShowVersion bool
}

// DefaultConfig returns a Config with all defaults applied.
func DefaultConfig() *Config {
	host, _ := os.Hostname()
	return &Config{
		ServiceName: "unknown-service",
		Host:        host,

		ExportInterval:      scheduler.DefaultInterval,
		FlushTimeout:        scheduler.DefaultFlushTimeout,
		UploadTimeout:       10 * time.Second,
		AccumulatorCapacity: 8192,

		RetryMaxAttempts: uploader.DefaultMaxAttempts,
		RetryBaseDelay:   uploader.DefaultBaseDelay,
		RetryMaxDelay:    uploader.DefaultMaxDelay,
		RetryMultiplier:  uploader.DefaultMultiplier,

		Compression: "gzip",

		SamplerEnabled:      true,
		SamplerWallInterval: sampler.DefaultWallInterval,
		SamplerHeapInterval: sampler.DefaultHeapInterval,

		StatsAddr: ":9090",

		TelemetryProtocol:        "grpc",
		TelemetryInsecure:        true,
		TelemetryPushInterval:    30 * time.Second,
		TelemetryShutdownTimeout: 5 * time.Second,

		MemoryLimitRatio: 0.9,
	}
}

// ParseFlags parses command-line flags, loading the YAML config file when
// one is given and applying environment fallbacks last.
func ParseFlags() *Config {
	cfg := DefaultConfig()

	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to YAML configuration file")

	flag.StringVar(&cfg.ServiceName, "service-name", cfg.ServiceName, "Service name reported with every profile")
	flag.StringVar(&cfg.Environment, "environment", "", "Deployment environment label (e.g. production)")
	flag.StringVar(&cfg.Host, "host", cfg.Host, "Host label reported with every profile")

	flag.StringVar(&cfg.Endpoint, "endpoint", "", "Profile ingest endpoint URL")
	flag.StringVar(&cfg.AuthToken, "auth-token", "", "Bearer token for the ingest endpoint")
	flag.DurationVar(&cfg.ExportInterval, "export-interval", cfg.ExportInterval, "Interval between export cycles")
	flag.DurationVar(&cfg.CycleTimeout, "cycle-timeout", 0, "Per-cycle timeout (0 = export interval)")
	flag.DurationVar(&cfg.FlushTimeout, "flush-timeout", cfg.FlushTimeout, "Max time for the final flush at shutdown")
	flag.DurationVar(&cfg.UploadTimeout, "upload-timeout", cfg.UploadTimeout, "Per-attempt HTTP request timeout")
	flag.IntVar(&cfg.AccumulatorCapacity, "capacity", cfg.AccumulatorCapacity, "Max buffered samples per sample type")

	flag.IntVar(&cfg.RetryMaxAttempts, "retry-max-attempts", cfg.RetryMaxAttempts, "Max upload attempts per profile")
	flag.DurationVar(&cfg.RetryBaseDelay, "retry-base-delay", cfg.RetryBaseDelay, "Initial backoff delay")
	flag.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Backoff delay cap")
	flag.Float64Var(&cfg.RetryMultiplier, "retry-multiplier", cfg.RetryMultiplier, "Backoff growth factor")

	flag.StringVar(&cfg.Compression, "compression", cfg.Compression, "Payload compression: none, gzip, zstd, snappy, lz4")
	flag.IntVar(&cfg.CompressionLevel, "compression-level", 0, "Compression level (0 = algorithm default)")

	flag.BoolVar(&cfg.TLSEnabled, "tls-enabled", false, "Enable custom TLS config for the upload transport")
	flag.StringVar(&cfg.TLSCertFile, "tls-cert", "", "Path to client certificate file (mTLS)")
	flag.StringVar(&cfg.TLSKeyFile, "tls-key", "", "Path to client private key file (mTLS)")
	flag.StringVar(&cfg.TLSCAFile, "tls-ca", "", "Path to CA certificate for server verification")
	flag.BoolVar(&cfg.TLSInsecureSkipVerify, "tls-skip-verify", false, "Skip TLS certificate verification (insecure)")
	flag.StringVar(&cfg.TLSServerName, "tls-server-name", "", "Override server name for TLS verification")

	flag.StringVar(&cfg.AuthBasicUsername, "auth-basic-username", "", "Basic auth username for the ingest endpoint")
	flag.StringVar(&cfg.AuthBasicPassword, "auth-basic-password", "", "Basic auth password for the ingest endpoint")
	flag.StringVar(&cfg.AuthHeaders, "auth-headers", "", "Custom upload headers (format: key1=value1,key2=value2)")

	flag.IntVar(&cfg.HTTPMaxIdleConns, "http-max-idle-conns", 0, "Max idle connections (0 = default)")
	flag.IntVar(&cfg.HTTPMaxIdleConnsPerHost, "http-max-idle-conns-per-host", 0, "Max idle connections per host (0 = default)")
	flag.IntVar(&cfg.HTTPMaxConnsPerHost, "http-max-conns-per-host", 0, "Max connections per host (0 = unlimited)")
	flag.DurationVar(&cfg.HTTPIdleConnTimeout, "http-idle-conn-timeout", 0, "Idle connection timeout (0 = default)")
	flag.BoolVar(&cfg.HTTPDisableKeepAlives, "http-disable-keep-alives", false, "Disable HTTP keep-alives")
	flag.BoolVar(&cfg.HTTPForceHTTP2, "http-force-http2", false, "Force HTTP/2 for the upload transport")

	flag.BoolVar(&cfg.SamplerEnabled, "sampler-enabled", cfg.SamplerEnabled, "Enable the in-process runtime sampler")
	flag.DurationVar(&cfg.SamplerWallInterval, "sampler-wall-interval", cfg.SamplerWallInterval, "Goroutine stack scan interval (negative disables)")
	flag.DurationVar(&cfg.SamplerHeapInterval, "sampler-heap-interval", cfg.SamplerHeapInterval, "Heap profile scan interval (negative disables)")

	flag.StringVar(&cfg.StatsAddr, "stats-addr", cfg.StatsAddr, "Ops HTTP endpoint address (metrics, liveness, readiness)")
	flag.BoolVar(&cfg.StatsTLSEnabled, "stats-tls-enabled", false, "Enable TLS on the ops endpoint")
	flag.StringVar(&cfg.StatsTLSCertFile, "stats-tls-cert", "", "Path to ops endpoint TLS certificate file")
	flag.StringVar(&cfg.StatsTLSKeyFile, "stats-tls-key", "", "Path to ops endpoint TLS private key file")
	flag.BoolVar(&cfg.StatsAuthEnabled, "stats-auth-enabled", false, "Require authentication on the ops endpoint")
	flag.StringVar(&cfg.StatsBearerToken, "stats-auth-bearer-token", "", "Bearer token for the ops endpoint")
	flag.StringVar(&cfg.StatsBasicUsername, "stats-auth-basic-username", "", "Basic auth username for the ops endpoint")
	flag.StringVar(&cfg.StatsBasicPassword, "stats-auth-basic-password", "", "Basic auth password for the ops endpoint")

	flag.StringVar(&cfg.TelemetryEndpoint, "telemetry-endpoint", "", "OTLP endpoint for self-telemetry (empty = disabled)")
	flag.StringVar(&cfg.TelemetryProtocol, "telemetry-protocol", cfg.TelemetryProtocol, "Self-telemetry protocol: grpc or http")
	flag.BoolVar(&cfg.TelemetryInsecure, "telemetry-insecure", cfg.TelemetryInsecure, "Use insecure connection for self-telemetry")
	flag.DurationVar(&cfg.TelemetryPushInterval, "telemetry-push-interval", cfg.TelemetryPushInterval, "Self-telemetry metric push interval")

	flag.Float64Var(&cfg.MemoryLimitRatio, "memory-limit-ratio", cfg.MemoryLimitRatio, "Ratio of container memory for GOMEMLIMIT")

	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")

	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help message")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version (shorthand)")

	flag.Usage = PrintUsage
	flag.Parse()

	if configFile != "" {
		yamlCfg, err := LoadYAML(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config file %s: %v\n", configFile, err)
			os.Exit(1)
		}
		fromFile := yamlCfg.ToConfig()
		applyFlagOverrides(fromFile)
		fromFile.ConfigFile = configFile
		fromFile.ShowHelp = cfg.ShowHelp
		fromFile.ShowVersion = cfg.ShowVersion
		fromFile.Debug = cfg.Debug
		cfg = fromFile
	}

	ApplyEnvFallbacks(cfg)
	return cfg
}

// applyFlagOverrides re-applies CLI flag values that were explicitly set,
// so flags win over the YAML file.
func applyFlagOverrides(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "service-name":
			cfg.ServiceName = f.Value.String()
		case "environment":
			cfg.Environment = f.Value.String()
		case "host":
			cfg.Host = f.Value.String()
		case "endpoint":
			cfg.Endpoint = f.Value.String()
		case "auth-token":
			cfg.AuthToken = f.Value.String()
		case "export-interval":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.ExportInterval = d
			}
		case "cycle-timeout":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.CycleTimeout = d
			}
		case "flush-timeout":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.FlushTimeout = d
			}
		case "upload-timeout":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.UploadTimeout = d
			}
		case "capacity":
			if v, ok := intFlagValue(f); ok {
				cfg.AccumulatorCapacity = v
			}
		case "retry-max-attempts":
			if v, ok := intFlagValue(f); ok {
				cfg.RetryMaxAttempts = v
			}
		case "retry-base-delay":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.RetryBaseDelay = d
			}
		case "retry-max-delay":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.RetryMaxDelay = d
			}
		case "retry-multiplier":
			if v, ok := f.Value.(flag.Getter); ok {
				if m, ok := v.Get().(float64); ok {
					cfg.RetryMultiplier = m
				}
			}
		case "compression":
			cfg.Compression = f.Value.String()
		case "compression-level":
			if v, ok := intFlagValue(f); ok {
				cfg.CompressionLevel = v
			}
		case "tls-enabled":
			cfg.TLSEnabled = f.Value.String() == "true"
		case "tls-cert":
			cfg.TLSCertFile = f.Value.String()
		case "tls-key":
			cfg.TLSKeyFile = f.Value.String()
		case "tls-ca":
			cfg.TLSCAFile = f.Value.String()
		case "tls-skip-verify":
			cfg.TLSInsecureSkipVerify = f.Value.String() == "true"
		case "tls-server-name":
			cfg.TLSServerName = f.Value.String()
		case "auth-basic-username":
			cfg.AuthBasicUsername = f.Value.String()
		case "auth-basic-password":
			cfg.AuthBasicPassword = f.Value.String()
		case "auth-headers":
			cfg.AuthHeaders = f.Value.String()
		case "http-max-idle-conns":
			if v, ok := intFlagValue(f); ok {
				cfg.HTTPMaxIdleConns = v
			}
		case "http-max-idle-conns-per-host":
			if v, ok := intFlagValue(f); ok {
				cfg.HTTPMaxIdleConnsPerHost = v
			}
		case "http-max-conns-per-host":
			if v, ok := intFlagValue(f); ok {
				cfg.HTTPMaxConnsPerHost = v
			}
		case "http-idle-conn-timeout":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.HTTPIdleConnTimeout = d
			}
		case "http-disable-keep-alives":
			cfg.HTTPDisableKeepAlives = f.Value.String() == "true"
		case "http-force-http2":
			cfg.HTTPForceHTTP2 = f.Value.String() == "true"
		case "sampler-enabled":
			cfg.SamplerEnabled = f.Value.String() == "true"
		case "sampler-wall-interval":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.SamplerWallInterval = d
			}
		case "sampler-heap-interval":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.SamplerHeapInterval = d
			}
		case "stats-addr":
			cfg.StatsAddr = f.Value.String()
		case "stats-tls-enabled":
			cfg.StatsTLSEnabled = f.Value.String() == "true"
		case "stats-tls-cert":
			cfg.StatsTLSCertFile = f.Value.String()
		case "stats-tls-key":
			cfg.StatsTLSKeyFile = f.Value.String()
		case "stats-auth-enabled":
			cfg.StatsAuthEnabled = f.Value.String() == "true"
		case "stats-auth-bearer-token":
			cfg.StatsBearerToken = f.Value.String()
		case "stats-auth-basic-username":
			cfg.StatsBasicUsername = f.Value.String()
		case "stats-auth-basic-password":
			cfg.StatsBasicPassword = f.Value.String()
		case "telemetry-endpoint":
			cfg.TelemetryEndpoint = f.Value.String()
		case "telemetry-protocol":
			cfg.TelemetryProtocol = f.Value.String()
		case "telemetry-insecure":
			cfg.TelemetryInsecure = f.Value.String() == "true"
		case "telemetry-push-interval":
			if d, err := time.ParseDuration(f.Value.String()); err == nil {
				cfg.TelemetryPushInterval = d
			}
		case "memory-limit-ratio":
			if v, ok := f.Value.(flag.Getter); ok {
				if r, ok := v.Get().(float64); ok {
					cfg.MemoryLimitRatio = r
				}
			}
		}
	})
}

func intFlagValue(f *flag.Flag) (int, bool) {
	if v, ok := f.Value.(flag.Getter); ok {
		if i, ok := v.Get().(int); ok {
			return i, true
		}
	}
	return 0, false
}

// ApplyEnvFallbacks fills identity and secret fields from the environment
// when nothing else set them.
func ApplyEnvFallbacks(cfg *Config) {
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv(EnvToken)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = os.Getenv(EnvEndpoint)
	}
	if (cfg.ServiceName == "" || cfg.ServiceName == "unknown-service") && os.Getenv(EnvServiceName) != "" {
		cfg.ServiceName = os.Getenv(EnvServiceName)
	}
}

// ParseAuthHeaders converts the comma-separated header flag value into a
// map.
func ParseAuthHeaders(s string) map[string]string {
	if s == "" {
		return nil
	}
	headers := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) == 2 && kv[0] != "" {
			headers[kv[0]] = kv[1]
		}
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}

// UploaderConfig assembles the uploader configuration from the flat
// Config.
func (c *Config) UploaderConfig() uploader.Config {
	return uploader.Config{
		Endpoint: c.Endpoint,
		Timeout:  c.UploadTimeout,
		Retry: uploader.RetryPolicy{
			MaxAttempts: c.RetryMaxAttempts,
			BaseDelay:   c.RetryBaseDelay,
			MaxDelay:    c.RetryMaxDelay,
			Multiplier:  c.RetryMultiplier,
		},
		TLS: tlspkg.ClientConfig{
			Enabled:            c.TLSEnabled,
			CertFile:           c.TLSCertFile,
			KeyFile:            c.TLSKeyFile,
			CAFile:             c.TLSCAFile,
			InsecureSkipVerify: c.TLSInsecureSkipVerify,
			ServerName:         c.TLSServerName,
		},
		Auth: auth.ClientConfig{
			BasicAuthUsername: c.AuthBasicUsername,
			BasicAuthPassword: c.AuthBasicPassword,
			Headers:           ParseAuthHeaders(c.AuthHeaders),
		},
		HTTPClient: uploader.HTTPClientConfig{
			MaxIdleConns:        c.HTTPMaxIdleConns,
			MaxIdleConnsPerHost: c.HTTPMaxIdleConnsPerHost,
			MaxConnsPerHost:     c.HTTPMaxConnsPerHost,
			IdleConnTimeout:     c.HTTPIdleConnTimeout,
			DisableKeepAlives:   c.HTTPDisableKeepAlives,
			ForceAttemptHTTP2:   c.HTTPForceHTTP2,
		},
	}
}

// CompressionConfig assembles the payload compression configuration.
func (c *Config) CompressionConfig() (compression.Config, error) {
	t, err := compression.ParseType(c.Compression)
	if err != nil {
		return compression.Config{}, err
	}
	return compression.Config{Type: t, Level: compression.Level(c.CompressionLevel)}, nil
}

// SamplerConfig assembles the runtime sampler configuration.
func (c *Config) SamplerConfig() sampler.Config {
	return sampler.Config{
		WallInterval: c.SamplerWallInterval,
		HeapInterval: c.SamplerHeapInterval,
	}
}

// TelemetryConfig assembles the OTLP self-telemetry configuration.
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Endpoint:        c.TelemetryEndpoint,
		Protocol:        c.TelemetryProtocol,
		Insecure:        c.TelemetryInsecure,
		Timeout:         c.TelemetryTimeout,
		PushInterval:    c.TelemetryPushInterval,
		Compression:     c.TelemetryCompression,
		Headers:         c.TelemetryHeaders,
		ShutdownTimeout: c.TelemetryShutdownTimeout,
	}
}
