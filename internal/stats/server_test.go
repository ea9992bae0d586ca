package stats

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/joker-joker-yuan/profile-bridge/internal/auth"
	"github.com/joker-joker-yuan/profile-bridge/internal/health"
)

func TestServerRoutes(t *testing.T) {
	checker := health.New()
	srv, err := NewServer(ServerConfig{Addr: ":0"}, checker)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/metrics", http.StatusOK},
		{"/runtime", http.StatusOK},
		{"/live", http.StatusOK},
		{"/ready", http.StatusOK},
		{"/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestServerAuth(t *testing.T) {
	checker := health.New()
	srv, err := NewServer(ServerConfig{
		Addr: ":0",
		Auth: auth.ServerConfig{Enabled: true, BearerToken: "ops-token"},
	}, checker)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated /metrics = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	req.Header.Set("Authorization", "Bearer ops-token")
	srv.httpSrv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated /metrics = %d, want 200", rec.Code)
	}
}

func TestServerShutdownReadiness(t *testing.T) {
	checker := health.New()
	srv, err := NewServer(ServerConfig{Addr: ":0"}, checker)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	checker.SetShuttingDown()
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/ready during shutdown = %d, want 503", rec.Code)
	}
}
