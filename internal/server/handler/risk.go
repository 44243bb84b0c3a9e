package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbengine/internal/risk"
)

// RiskConfigStore holds the live gate thresholds.
type RiskConfigStore interface {
	Current() risk.Config
	Store(cfg risk.Config) error
}

// Auditor records operator actions.
type Auditor interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// RiskHandler reads and replaces the gate configuration at runtime.
type RiskHandler struct {
	cfg    RiskConfigStore
	audit  Auditor
	logger *slog.Logger
}

// NewRiskHandler creates a RiskHandler. audit may be nil.
func NewRiskHandler(cfg RiskConfigStore, audit Auditor, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{cfg: cfg, audit: audit, logger: logger}
}

// GetConfig returns the thresholds in force.
// GET /api/risk/config
func (h *RiskHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Current())
}

// UpdateConfig replaces the thresholds. Fields omitted from the body keep
// their current values; an invalid result is rejected with 400 and the old
// configuration stays in force.
// PUT /api/risk/config
func (h *RiskHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	prev := h.cfg.Current()
	next := prev
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.cfg.Store(next); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.InfoContext(r.Context(), "risk config updated via api",
		slog.Float64("confidence_floor", next.ConfidenceFloor),
		slog.Float64("max_exposure", next.MaxExposure),
		slog.Float64("fee_buffer", next.FeeBuffer),
		slog.Float64("max_position", next.MaxPosition),
		slog.Float64("max_daily_loss", next.MaxDailyLoss),
	)
	if h.audit != nil {
		if err := h.audit.Log(r.Context(), "risk_config_updated", map[string]any{
			"previous": prev,
			"current":  next,
		}); err != nil {
			h.logger.WarnContext(r.Context(), "audit log failed", slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusOK, next)
}
