package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode      string
	checks    map[string]Check
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks maps a component name
// (postgres, redis, s3, rpc) to its probe; it may be empty.
func NewHealthHandler(mode string, checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		checks:    checks,
		startedAt: time.Now().UTC(),
		logger:    logHandler(logger, "health"),
	}
}

type healthResponse struct {
	Status     string            `json:"status"`
	Mode       string            `json:"mode"`
	Timestamp  string            `json:"timestamp"`
	Uptime     int64             `json:"uptime_seconds"`
	Components map[string]string `json:"components,omitempty"`
}

// HealthCheck reports ok when every component answers, degraded with 503
// otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "ok",
		Mode:      h.mode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    int64(time.Since(h.startedAt).Seconds()),
	}
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		resp.Components = make(map[string]string, len(names))
	}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = err.Error()
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("component", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		resp.Components[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
