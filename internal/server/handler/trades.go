package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// PerformanceSource supplies the live performance snapshot.
type PerformanceSource interface {
	Snapshot() domain.PerformanceSnapshot
}

// TradeHistory reads persisted trades.
type TradeHistory interface {
	GetByID(ctx context.Context, id string) (domain.TradeExecution, error)
	ListRecent(ctx context.Context, limit int) ([]domain.TradeExecution, error)
}

// TradeHandler serves performance and trade history. history is nil when
// Postgres is disabled, in which case the history routes return 503.
type TradeHandler struct {
	perf    PerformanceSource
	history TradeHistory
	logger  *slog.Logger
}

// NewTradeHandler creates a TradeHandler. history may be nil.
func NewTradeHandler(perf PerformanceSource, history TradeHistory, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{perf: perf, history: history, logger: logger}
}

// Performance returns the ledger snapshot.
// GET /api/performance
func (h *TradeHandler) Performance(w http.ResponseWriter, r *http.Request) {
	snap := h.perf.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot": snap,
		"total":    snap.Total(),
	})
}

// ListRecent returns the newest persisted trades.
// GET /api/trades?limit=
func (h *TradeHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "trade history requires postgres")
		return
	}
	trades, err := h.history.ListRecent(r.Context(), parseLimit(r, 50))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.TradeExecution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// GetTrade returns one persisted trade.
// GET /api/trades/{id}
func (h *TradeHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "trade history requires postgres")
		return
	}
	id := r.PathValue("id")
	trade, err := h.history.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get trade failed",
			slog.String("trade_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get trade")
		return
	}
	writeJSON(w, http.StatusOK, trade)
}
