// Package uploader ships profile payloads to the ingestion endpoint with
// bounded, classified retries.
package uploader

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"

	"github.com/joker-joker-yuan/profile-bridge/internal/auth"
	"github.com/joker-joker-yuan/profile-bridge/internal/logging"
	"github.com/joker-joker-yuan/profile-bridge/internal/payload"
	tlspkg "github.com/joker-joker-yuan/profile-bridge/internal/tls"
)

var (
	uploadAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_bridge_upload_attempts_total",
		Help: "Total upload network attempts by outcome",
	}, []string{"outcome"})

	uploadErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_bridge_upload_errors_total",
		Help: "Total upload errors by classified error type",
	}, []string{"error_type"})

	uploadBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "profile_bridge_upload_bytes_total",
		Help: "Total compressed profile bytes shipped to the ingest endpoint",
	})

	uploadLastSuccessTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "profile_bridge_upload_last_success_timestamp_seconds",
		Help: "Unix time of the last successful upload",
	})
)

func init() {
	prometheus.MustRegister(uploadAttemptsTotal)
	prometheus.MustRegister(uploadErrorsTotal)
	prometheus.MustRegister(uploadBytesTotal)
	prometheus.MustRegister(uploadLastSuccessTimestamp)
}

// defaultIngestPath is appended when the endpoint URL has no path.
const defaultIngestPath = "/ingest"

// maxResponseBody bounds how much of an error response is read for the
// error message.
const maxResponseBody = 4 << 10

// HTTPClientConfig holds HTTP client connection pool settings.
type HTTPClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
	ForceAttemptHTTP2   bool
}

// Config holds the uploader configuration. Read-only after construction.
type Config struct {
	// Endpoint is the ingest URL. A missing scheme defaults to http,
	// a missing path to /ingest.
	Endpoint string
	// Timeout is the per-attempt request timeout.
	Timeout time.Duration
	// Retry is the backoff policy for the attempt sequence.
	Retry RetryPolicy
	// TLS configures the client TLS when the endpoint is https.
	TLS tlspkg.ClientConfig
	// Auth adds static headers or basic auth to every request. The
	// payload's bearer token takes precedence for Authorization.
	Auth auth.ClientConfig
	// HTTPClient configures connection pooling.
	HTTPClient HTTPClientConfig
}

// Option is a functional option for Uploader.
type Option func(*Uploader)

// WithSleep overrides the inter-attempt sleep. For tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(u *Uploader) { u.sleep = sleep }
}

// Uploader performs profile uploads with a bounded retry loop. Safe for
// use from a single export cycle at a time.
type Uploader struct {
	client   *http.Client
	endpoint string
	policy   RetryPolicy
	sleep    func(context.Context, time.Duration) error

	lastSuccessUnix atomic.Int64
}

// New creates an Uploader for the configured ingest endpoint.
func New(cfg Config) (*Uploader, error) {
	endpoint, err := normalizeEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     cfg.HTTPClient.ForceAttemptHTTP2,
		MaxIdleConns:          cfg.HTTPClient.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.HTTPClient.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.HTTPClient.MaxConnsPerHost,
		IdleConnTimeout:       cfg.HTTPClient.IdleConnTimeout,
		DisableKeepAlives:     cfg.HTTPClient.DisableKeepAlives,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if transport.MaxIdleConns == 0 {
		transport.MaxIdleConns = 16
	}
	if transport.MaxIdleConnsPerHost == 0 {
		transport.MaxIdleConnsPerHost = 4
	}
	if transport.IdleConnTimeout == 0 {
		transport.IdleConnTimeout = 90 * time.Second
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := tlspkg.NewClientTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
	} else {
		transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if cfg.HTTPClient.ForceAttemptHTTP2 {
		if h2, err := http2.ConfigureTransports(transport); err == nil && h2 != nil {
			h2.ReadIdleTimeout = 30 * time.Second
		}
	}

	var roundTripper http.RoundTripper = transport
	if cfg.Auth.BasicAuthUsername != "" || len(cfg.Auth.Headers) > 0 {
		roundTripper = auth.HTTPTransport(cfg.Auth, roundTripper)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Uploader{
		client: &http.Client{
			Transport: roundTripper,
			Timeout:   timeout,
		},
		endpoint: endpoint,
		policy:   cfg.Retry.withDefaults(),
		sleep:    sleepContext,
	}, nil
}

// NewWithOptions creates an Uploader and applies test options.
func NewWithOptions(cfg Config, opts ...Option) (*Uploader, error) {
	u, err := New(cfg)
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// LastSuccess returns the time of the last successful upload, or the zero
// time if none succeeded yet.
func (u *Uploader) LastSuccess() time.Time {
	unix := u.lastSuccessUnix.Load()
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// Close releases idle connections.
func (u *Uploader) Close() error {
	u.client.CloseIdleConnections()
	return nil
}

// Upload ships one payload, retrying retryable failures up to the policy's
// attempt bound with exponential backoff. A fatal classification stops the
// sequence immediately. The returned error is always a *UploadError; nil
// means the payload was accepted.
func (u *Uploader) Upload(ctx context.Context, p *payload.UploadPayload) error {
	state := newRetryState(u.policy)

	for {
		state.Attempt++
		started := time.Now()
		statusCode, message, err := u.uploadOnce(ctx, p)
		elapsed := time.Since(started)

		if err == nil && statusCode >= 200 && statusCode < 300 {
			uploadAttemptsTotal.WithLabelValues("success").Inc()
			uploadBytesTotal.Add(float64(len(p.Body)))
			u.lastSuccessUnix.Store(time.Now().Unix())
			uploadLastSuccessTimestamp.Set(float64(time.Now().Unix()))
			logging.Debug("profile upload completed", logging.F(
				"attempt", state.Attempt,
				"status", statusCode,
				"bytes", len(p.Body),
				"duration", elapsed.String(),
			))
			return nil
		}

		var errType ErrorType
		if err != nil {
			errType = classifyError(err)
		} else {
			errType = classifyStatusCode(statusCode)
			if message == "" {
				message = statusHint(statusCode)
			}
		}
		uploadAttemptsTotal.WithLabelValues("failure").Inc()
		uploadErrorsTotal.WithLabelValues(string(errType)).Inc()

		retry := state.next(u.policy, errType)
		logging.Warn("profile upload attempt failed", logging.F(
			"attempt", state.Attempt,
			"max_attempts", state.MaxAttempts,
			"error_type", string(errType),
			"status", statusCode,
			"retrying", retry,
			"duration", elapsed.String(),
		))
		if !retry {
			return &UploadError{
				Err:        err,
				Type:       errType,
				StatusCode: statusCode,
				Message:    message,
				Attempts:   state.Attempt,
			}
		}

		delay := u.policy.jittered(state.NextDelay)
		logging.Debug("backing off before retry", logging.F(
			"attempt", state.Attempt,
			"delay", delay.String(),
		))
		if sleepErr := u.sleep(ctx, delay); sleepErr != nil {
			// Shutdown or cycle timeout during backoff; report the last
			// observed failure, not the cancellation.
			return &UploadError{
				Err:        sleepErr,
				Type:       errType,
				StatusCode: statusCode,
				Message:    message,
				Attempts:   state.Attempt,
			}
		}
	}
}

// uploadOnce performs exactly one network transfer.
func (u *Uploader) uploadOnce(ctx context.Context, p *payload.UploadPayload) (int, string, error) {
	body, contentType, err := multipartBody(p)
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.requestURL(p), bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", contentType)
	if p.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.AuthToken)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain to allow connection reuse.
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, "", nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, string(bytes.TrimSpace(msg)), nil
}

// requestURL assembles the ingest URL with the payload's identity and
// window time range. Timestamps are nanoseconds.
func (u *Uploader) requestURL(p *payload.UploadPayload) string {
	params := url.Values{}
	params.Set("name", ingestName(p))
	params.Set("spyName", p.SpyName)
	params.Set("from", strconv.FormatInt(p.StartNanos, 10))
	params.Set("until", strconv.FormatInt(p.EndNanos, 10))
	params.Set("format", p.Format)
	return u.endpoint + "?" + params.Encode()
}

// ingestName folds the payload labels into the application name using
// pyroscope tag syntax, name{key=value,...}. The service name is the base
// name, not a tag. Keys are sorted so the name is stable across uploads.
func ingestName(p *payload.UploadPayload) string {
	keys := make([]string, 0, len(p.Labels))
	for k := range p.Labels {
		if k == "service_name" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return p.Name
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(p.Name)
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(p.Labels[k])
	}
	sb.WriteByte('}')
	return sb.String()
}

// multipartBody builds the multipart/form-data request body carrying the
// compressed profile and its sample type configuration.
func multipartBody(p *payload.UploadPayload) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := writeFilePart(mw, "profile", p.Body, p.ContentEncoding); err != nil {
		return nil, "", err
	}
	if len(p.SampleTypeConfig) > 0 {
		if err := writeFilePart(mw, "sample_type_config", p.SampleTypeConfig, ""); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// writeFilePart writes one form-data part with filename equal to the field
// name, matching what the ingest parser expects.
func writeFilePart(mw *multipart.Writer, name string, data []byte, encoding string) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, name, name))
	header.Set("Content-Type", "application/octet-stream")
	if encoding != "" {
		header.Set("Content-Encoding", encoding)
	}
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(data)
	return err
}

// normalizeEndpoint fills in a default scheme and ingest path.
func normalizeEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("uploader: endpoint is required")
	}
	if !hasScheme(endpoint) {
		endpoint = "http://" + endpoint
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("uploader: invalid endpoint %q: %w", endpoint, err)
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = defaultIngestPath
	}
	return parsed.String(), nil
}

func hasScheme(s string) bool {
	return len(s) >= 7 && (s[:7] == "http://" || (len(s) >= 8 && s[:8] == "https://"))
}

// sleepContext sleeps for d or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
