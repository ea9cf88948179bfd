package handler

import (
	"context"
	"net/http"
	"time"

	"listing-snapshot-api/pkg/response"
)

// checkTimeout bounds each dependency check.
const checkTimeout = 3 * time.Second

// Pinger is a dependency that can be pinged.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependency is a named check for the health endpoints.
type Dependency struct {
	Name   string
	Pinger Pinger
}

// Handler contains the health endpoints and their dependencies.
type Handler struct {
	version string
	queue   Pinger
	deps    []Dependency
}

// New creates a new handler. Health checks queue only, Ready checks
// queue and every dependency.
func New(version string, queue Pinger, deps ...Dependency) *Handler {
	return &Handler{version: version, queue: queue, deps: deps}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Checks    []Check   `json:"checks,omitempty"`
}

// Check represents an individual dependency check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	var deps []Dependency
	if h.queue != nil {
		deps = append(deps, Dependency{Name: "queue", Pinger: h.queue})
	}
	checks, ok := runChecks(r.Context(), deps)

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Checks:    checks,
	}
	status := http.StatusOK
	if !ok {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, resp)
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Ready handles GET /api/v1/ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	deps := []Dependency{}
	if h.queue != nil {
		deps = append(deps, Dependency{Name: "queue", Pinger: h.queue})
	}
	deps = append(deps, h.deps...)
	checks, allReady := runChecks(r.Context(), deps)

	resp := ReadyResponse{
		Ready:     allReady,
		Timestamp: time.Now().UTC(),
		Checks:    append([]Check{{Name: "api", Status: "ok"}}, checks...),
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, resp)
}

func runChecks(ctx context.Context, deps []Dependency) ([]Check, bool) {
	checks := make([]Check, 0, len(deps))
	ok := true
	for _, d := range deps {
		c := Check{Name: d.Name, Status: "ok"}
		pingCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		if err := d.Pinger.Ping(pingCtx); err != nil {
			c.Status = "error"
			c.Error = err.Error()
			ok = false
		}
		cancel()
		checks = append(checks, c)
	}
	return checks, ok
}
