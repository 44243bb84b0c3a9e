package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// TxLookup is the live transaction monitor.
type TxLookup interface {
	Get(id string) (domain.TransactionRecord, error)
	ListByTrade(tradeID string) []domain.TransactionRecord
}

// TxArchiveLookup reads records the monitor has already evicted.
type TxArchiveLookup interface {
	Get(ctx context.Context, id string) (domain.TransactionRecord, error)
	ListByTrade(ctx context.Context, tradeID string) ([]domain.TransactionRecord, error)
}

// TransactionHandler serves per-leg transaction records, falling back to the
// archive for records no longer held in memory.
type TransactionHandler struct {
	live    TxLookup
	archive TxArchiveLookup
	logger  *slog.Logger
}

// NewTransactionHandler creates a TransactionHandler. archive may be nil.
func NewTransactionHandler(live TxLookup, archive TxArchiveLookup, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{live: live, archive: archive, logger: logger}
}

// GetTransaction returns one record.
// GET /api/transactions/{id}
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.live.Get(id)
	if err == nil {
		writeJSON(w, http.StatusOK, rec)
		return
	}
	if !errors.Is(err, domain.ErrUnknownTx) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}

	rec, err = h.archive.Get(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "transaction not found")
	case err != nil:
		h.logger.ErrorContext(r.Context(), "archive lookup failed",
			slog.String("tx_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get transaction")
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

// ListByTrade returns every leg record of a trade.
// GET /api/trades/{id}/transactions
func (h *TransactionHandler) ListByTrade(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	recs := h.live.ListByTrade(id)
	if len(recs) == 0 && h.archive != nil {
		var err error
		recs, err = h.archive.ListByTrade(r.Context(), id)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "archive list failed",
				slog.String("trade_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to list transactions")
			return
		}
	}
	if recs == nil {
		recs = []domain.TransactionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": recs})
}
