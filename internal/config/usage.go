package config

import (
	"fmt"
	"os"
)

// PrintUsage prints the help message.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, `profile-bridge - continuous profiling export bridge

USAGE:
    profile-bridge [OPTIONS]

DESCRIPTION:
    Accumulates in-process profiling samples, serializes them to gzipped
    pprof and uploads them to a profiling backend on a fixed interval,
    with bounded retry and graceful shutdown flush.

OPTIONS:
    Configuration:
        -config <path>                   Path to YAML configuration file
                                         CLI flags override config file values

    Identity:
        -service-name <name>             Service name reported with every profile
                                         (env fallback: SERVICE_NAME)
        -environment <name>              Deployment environment label
        -host <name>                     Host label (default: os.Hostname)

    Export:
        -endpoint <url>                  Profile ingest endpoint URL
                                         (env fallback: PROFILING_ENDPOINT)
        -auth-token <token>              Bearer token for the ingest endpoint
                                         (env fallback: TOKEN)
        -export-interval <dur>           Interval between export cycles (default: 10s)
        -cycle-timeout <dur>             Per-cycle timeout (default: export interval)
        -flush-timeout <dur>             Max time for the final flush at shutdown (default: 5s)
        -upload-timeout <dur>            Per-attempt HTTP request timeout (default: 10s)
        -capacity <n>                    Max buffered samples per sample type (default: 8192)

    Retry:
        -retry-max-attempts <n>          Max upload attempts per profile (default: 4)
        -retry-base-delay <dur>          Initial backoff delay (default: 500ms)
        -retry-max-delay <dur>           Backoff delay cap (default: 10s)
        -retry-multiplier <f>            Backoff growth factor (default: 2.0)

    Compression:
        -compression <type>              Payload compression: none, gzip, zstd, snappy, lz4 (default: gzip)
        -compression-level <n>           Compression level (0 = algorithm default)

    Upload TLS:
        -tls-enabled                     Enable custom TLS config for the upload transport
        -tls-cert <path>                 Path to client certificate file (mTLS)
        -tls-key <path>                  Path to client private key file (mTLS)
        -tls-ca <path>                   Path to CA certificate for server verification
        -tls-skip-verify                 Skip TLS certificate verification (insecure)
        -tls-server-name <name>          Override server name for TLS verification

    Upload Authentication:
        -auth-basic-username <user>      Basic auth username for the ingest endpoint
        -auth-basic-password <pass>      Basic auth password for the ingest endpoint
        -auth-headers <kv>               Custom upload headers (key1=value1,key2=value2)

    Sampler:
        -sampler-enabled                 Enable the in-process runtime sampler (default: true)
        -sampler-wall-interval <dur>     Goroutine stack scan interval (default: 1s, negative disables)
        -sampler-heap-interval <dur>     Heap profile scan interval (default: 10s, negative disables)

    Ops Endpoint:
        -stats-addr <addr>               Ops HTTP endpoint address (default: ":9090")
        -stats-tls-enabled               Enable TLS on the ops endpoint
        -stats-tls-cert <path>           Path to ops endpoint TLS certificate file
        -stats-tls-key <path>            Path to ops endpoint TLS private key file
        -stats-auth-enabled              Require authentication on the ops endpoint
        -stats-auth-bearer-token <tok>   Bearer token for the ops endpoint
        -stats-auth-basic-username <u>   Basic auth username for the ops endpoint
        -stats-auth-basic-password <p>   Basic auth password for the ops endpoint

    Self-Telemetry:
        -telemetry-endpoint <addr>       OTLP endpoint for self-telemetry (empty = disabled)
        -telemetry-protocol <proto>      Self-telemetry protocol: grpc or http (default: grpc)
        -telemetry-insecure              Use insecure connection for self-telemetry (default: true)
        -telemetry-push-interval <dur>   Self-telemetry metric push interval (default: 30s)

    Memory:
        -memory-limit-ratio <ratio>      Ratio of container memory for GOMEMLIMIT (0.0-1.0) (default: 0.9)
                                         Auto-detects container limits via cgroups (Docker/K8s)

    General:
        -debug                           Enable debug logging
        -h, -help                        Show this help message
        -v, -version                     Show version

`)
}

// PrintVersion prints the version.
func PrintVersion() {
	fmt.Printf("profile-bridge version %s\n", version)
}
