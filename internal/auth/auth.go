// Package auth provides HTTP authentication for the ops server and the
// upload client.
package auth

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// ServerConfig holds authentication configuration for the ops endpoint.
type ServerConfig struct {
	// Enabled enables authentication for the server.
	Enabled bool
	// BearerToken is the expected bearer token for authentication.
	BearerToken string
	// BasicAuthUsername is the username for basic authentication.
	BasicAuthUsername string
	// BasicAuthPassword is the password for basic authentication.
	BasicAuthPassword string
}

// ClientConfig holds authentication configuration for outbound requests.
type ClientConfig struct {
	// BasicAuthUsername is the username for basic authentication.
	BasicAuthUsername string
	// BasicAuthPassword is the password for basic authentication.
	BasicAuthPassword string
	// Headers is a map of custom headers to send with requests.
	Headers map[string]string
}

// HTTPMiddleware returns an HTTP middleware for authentication.
func HTTPMiddleware(cfg ServerConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		if cfg.BearerToken != "" {
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}
			if token != cfg.BearerToken {
				http.Error(w, "invalid bearer token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if cfg.BasicAuthUsername != "" && cfg.BasicAuthPassword != "" {
			expected := "Basic " + basicAuthEncoded(cfg.BasicAuthUsername, cfg.BasicAuthPassword)
			if authHeader != expected {
				http.Error(w, "invalid basic auth credentials", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HTTPTransport returns an http.RoundTripper that adds authentication headers.
func HTTPTransport(cfg ClientConfig, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &authTransport{
		base: base,
		cfg:  cfg,
	}
}

type authTransport struct {
	base http.RoundTripper
	cfg  ClientConfig
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original
	reqClone := req.Clone(req.Context())

	// The payload's bearer token owns the Authorization header.
	if t.cfg.BasicAuthUsername != "" && t.cfg.BasicAuthPassword != "" &&
		reqClone.Header.Get("Authorization") == "" {
		reqClone.SetBasicAuth(t.cfg.BasicAuthUsername, t.cfg.BasicAuthPassword)
	}

	for k, v := range t.cfg.Headers {
		if reqClone.Header.Get(k) != "" {
			continue
		}
		reqClone.Header.Set(k, v)
	}

	return t.base.RoundTrip(reqClone)
}

// basicAuthEncoded returns the base64 encoded basic auth string.
func basicAuthEncoded(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}
