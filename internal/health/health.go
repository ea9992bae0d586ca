// Package health provides liveness and readiness probes for the ops
// endpoint.
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the JSON body returned by health endpoints.
type Response struct {
	Status     Status                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
	Uptime     string                    `json:"uptime"`
	Timestamp  string                    `json:"timestamp"`
}

// CheckFunc returns nil if the component is healthy, or an error
// describing the issue.
type CheckFunc func() error

// Checker provides liveness and readiness probes. Components register
// named readiness checks; liveness only reflects the shutdown state.
type Checker struct {
	mu           sync.RWMutex
	checks       map[string]CheckFunc
	startTime    time.Time
	shuttingDown atomic.Bool
}

// New creates a health Checker.
func New() *Checker {
	return &Checker{
		checks:    make(map[string]CheckFunc),
		startTime: time.Now(),
	}
}

// RegisterReadiness registers a named readiness check, called on each
// /ready request.
func (c *Checker) RegisterReadiness(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// SetShuttingDown marks the instance as shutting down. After this, both
// /live and /ready return 503 so load balancers drain the instance.
func (c *Checker) SetShuttingDown() {
	c.shuttingDown.Store(true)
}

// ExportRecency returns a readiness check that fails when no upload has
// succeeded within maxAge. A zero last-success time (nothing uploaded
// yet) passes, so a fresh instance is ready before its first cycle.
func ExportRecency(lastSuccess func() time.Time, maxAge time.Duration) CheckFunc {
	return func() error {
		last := lastSuccess()
		if last.IsZero() {
			return nil
		}
		if age := time.Since(last); age > maxAge {
			return fmt.Errorf("last successful export %s ago (threshold %s)", age.Round(time.Second), maxAge)
		}
		return nil
	}
}

// LiveHandler serves the /live endpoint.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			c.writeJSON(w, http.StatusServiceUnavailable, Status("down"), map[string]ComponentCheck{
				"process": {Status: StatusDown, Message: "shutting down"},
			})
			return
		}
		c.writeJSON(w, http.StatusOK, StatusUp, nil)
	}
}

// ReadyHandler serves the /ready endpoint, running all registered
// checks.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			c.writeJSON(w, http.StatusServiceUnavailable, StatusDown, map[string]ComponentCheck{
				"process": {Status: StatusDown, Message: "shutting down"},
			})
			return
		}

		c.mu.RLock()
		checks := make(map[string]CheckFunc, len(c.checks))
		for k, v := range c.checks {
			checks[k] = v
		}
		c.mu.RUnlock()

		overall := StatusUp
		components := make(map[string]ComponentCheck, len(checks))
		for name, check := range checks {
			if err := check(); err != nil {
				overall = StatusDown
				components[name] = ComponentCheck{Status: StatusDown, Message: err.Error()}
			} else {
				components[name] = ComponentCheck{Status: StatusUp}
			}
		}

		code := http.StatusOK
		if overall == StatusDown {
			code = http.StatusServiceUnavailable
		}
		c.writeJSON(w, code, overall, components)
	}
}

func (c *Checker) writeJSON(w http.ResponseWriter, code int, status Status, components map[string]ComponentCheck) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{
		Status:     status,
		Components: components,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}
