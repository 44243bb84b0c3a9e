package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbengine/internal/monitor"
	"github.com/alanyoungcy/arbengine/internal/venue/httpvenue"
)

// HealthSource reports transaction monitor health.
type HealthSource interface {
	Health() monitor.Health
	Counts() monitor.Counts
}

// Pinger is a dependency whose reachability is part of health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerReporter exposes a venue circuit breaker.
type BreakerReporter interface {
	Name() string
	BreakerState() httpvenue.BreakerState
}

// HealthHandler serves the health endpoint.
type HealthHandler struct {
	monitor  HealthSource
	deps     map[string]Pinger
	breakers []BreakerReporter
	mode     string
	started  time.Time
	logger   *slog.Logger
}

// NewHealthHandler creates a HealthHandler. deps and breakers may be empty.
func NewHealthHandler(mode string, mon HealthSource, deps map[string]Pinger, breakers []BreakerReporter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		monitor:  mon,
		deps:     deps,
		breakers: breakers,
		mode:     mode,
		started:  time.Now(),
		logger:   logger,
	}
}

// HealthCheck reports "ok", or "degraded" with HTTP 503 when the monitor has
// seen a failure burst, a dependency is unreachable or a breaker is open.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health := h.monitor.Health()
	degraded := health.Degraded

	deps := make(map[string]string, len(h.deps))
	for name, p := range h.deps {
		if err := p.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "health: dependency unreachable",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = "down"
			degraded = true
			continue
		}
		deps[name] = "up"
	}

	breakers := make(map[string]string, len(h.breakers))
	for _, b := range h.breakers {
		state := b.BreakerState()
		breakers[b.Name()] = state.String()
		if state == httpvenue.BreakerOpen {
			degraded = true
		}
	}

	status, code := "ok", http.StatusOK
	if degraded {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"monitor":        health,
		"transactions":   h.monitor.Counts(),
		"dependencies":   deps,
		"breakers":       breakers,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
