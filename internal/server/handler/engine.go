package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/engine"
)

// EngineController is the running engine as seen by the API.
type EngineController interface {
	InFlight() []engine.TradeStatus
	Abort(tradeID string) error
	RecentCandidates(limit int) []domain.CandidatePath
	ScorerName() string
	Scorers() []string
	SetScorer(name string) error
}

// EngineHandler serves in-flight trades, aborts, candidates and scorer
// selection. When ctrl is nil (monitor mode) every route returns 501.
type EngineHandler struct {
	ctrl   EngineController
	logger *slog.Logger
}

// NewEngineHandler creates an EngineHandler. ctrl may be nil.
func NewEngineHandler(ctrl EngineController, logger *slog.Logger) *EngineHandler {
	return &EngineHandler{ctrl: ctrl, logger: logger}
}

func (h *EngineHandler) available(w http.ResponseWriter) bool {
	if h.ctrl == nil {
		writeError(w, http.StatusNotImplemented, "engine not running in this mode")
		return false
	}
	return true
}

// ListInFlight returns trades currently executing.
// GET /api/trades/in-flight
func (h *EngineHandler) ListInFlight(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": h.ctrl.InFlight()})
}

// Abort requests cancellation of an in-flight trade. The trade finishes
// asynchronously, so the response is 202.
// POST /api/trades/{id}/abort
func (h *EngineHandler) Abort(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	id := r.PathValue("id")
	if err := h.ctrl.Abort(id); err != nil {
		if errors.Is(err, domain.ErrTradeNotFound) {
			writeError(w, http.StatusNotFound, "trade not in flight")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.InfoContext(r.Context(), "trade abort requested via api", slog.String("trade_id", id))
	writeJSON(w, http.StatusAccepted, map[string]string{"trade_id": id, "status": "abort_requested"})
}

// ListCandidates returns the most recently ranked candidates.
// GET /api/candidates?limit=
func (h *EngineHandler) ListCandidates(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	cands := h.ctrl.RecentCandidates(parseLimit(r, 20))
	out := make([]candidateView, 0, len(cands))
	for _, c := range cands {
		out = append(out, viewCandidate(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": out})
}

// GetScorer returns the active scorer and the registered alternatives.
// GET /api/scorer
func (h *EngineHandler) GetScorer(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":    h.ctrl.ScorerName(),
		"available": h.ctrl.Scorers(),
	})
}

// SetScorerRequest is the JSON body for PUT /api/scorer.
type SetScorerRequest struct {
	Name string `json:"name"`
}

// SetScorer switches the active scorer.
// PUT /api/scorer
func (h *EngineHandler) SetScorer(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req SetScorerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := h.ctrl.SetScorer(name); err != nil {
		h.logger.WarnContext(r.Context(), "set scorer failed",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active": name})
}

type legView struct {
	Venue     string  `json:"venue"`
	Ref       string  `json:"ref"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Direction string  `json:"direction"`
	Rate      float64 `json:"rate"`
	FeeRate   float64 `json:"fee_rate"`
}

type candidateView struct {
	ID             string    `json:"id"`
	Shape          string    `json:"shape"`
	ExpectedProfit float64   `json:"expected_profit"`
	Confidence     float64   `json:"confidence"`
	Score          float64   `json:"score"`
	Scorer         string    `json:"scorer"`
	Legs           []legView `json:"legs"`
}

func viewCandidate(c domain.CandidatePath) candidateView {
	v := candidateView{
		ID:             c.ID,
		Shape:          string(c.Shape),
		ExpectedProfit: c.ExpectedProfit,
		Confidence:     c.Confidence,
		Score:          c.Score(),
		Scorer:         c.Scorer,
		Legs:           make([]legView, 0, len(c.Legs)),
	}
	for _, l := range c.Legs {
		v.Legs = append(v.Legs, legView{
			Venue: l.Venue, Ref: l.Ref, From: l.From, To: l.To,
			Direction: string(l.Direction), Rate: l.Rate, FeeRate: l.FeeRate,
		})
	}
	return v
}
