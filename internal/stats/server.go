package stats

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joker-joker-yuan/profile-bridge/internal/auth"
	"github.com/joker-joker-yuan/profile-bridge/internal/health"
	"github.com/joker-joker-yuan/profile-bridge/internal/logging"
	tlspkg "github.com/joker-joker-yuan/profile-bridge/internal/tls"
)

// ServerConfig holds the ops HTTP endpoint configuration.
type ServerConfig struct {
	Addr string
	TLS  tlspkg.ServerConfig
	Auth auth.ServerConfig
}

// Server is the ops HTTP endpoint: Prometheus metrics, runtime metrics
// and the health probes.
type Server struct {
	cfg     ServerConfig
	httpSrv *http.Server
}

// NewServer builds the ops endpoint around the given health checker.
func NewServer(cfg ServerConfig, checker *health.Checker) (*Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/runtime", NewRuntimeStats())
	mux.HandleFunc("/live", checker.LiveHandler())
	mux.HandleFunc("/ready", checker.ReadyHandler())

	handler := auth.HTTPMiddleware(cfg.Auth, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute,
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := tlspkg.NewServerTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("ops endpoint TLS: %w", err)
		}
		srv.TLSConfig = tlsConfig
	}

	return &Server{cfg: cfg, httpSrv: srv}, nil
}

// Start serves until Shutdown. It blocks, so run it in a goroutine.
func (s *Server) Start() error {
	logging.Info("ops endpoint started", logging.F(
		"addr", s.cfg.Addr,
		"tls", s.cfg.TLS.Enabled,
		"auth", s.cfg.Auth.Enabled,
	))
	var err error
	if s.cfg.TLS.Enabled {
		err = s.httpSrv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	} else {
		err = s.httpSrv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
