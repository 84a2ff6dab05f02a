package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is the connectivity probe a backing store exposes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint. Backing stores register a
// named Pinger; their state is reported per component without failing the
// overall check, since the exchange itself runs in memory.
type HealthHandler struct {
	probes    map[string]Pinger
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. probes may be nil or empty.
func NewHealthHandler(probes map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		probes:    probes,
		startedAt: time.Now().UTC(),
		logger:    logHandler(logger, "health"),
	}
}

// HealthCheck responds with the server status and per-component probe
// results.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(h.probes))
	for name, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := p.Ping(ctx); err != nil {
			components[name] = "down"
			h.logger.WarnContext(r.Context(), "component probe failed",
				slog.String("component", name),
				slog.String("error", err.Error()),
			)
		} else {
			components[name] = "up"
		}
		cancel()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"components":     components,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
