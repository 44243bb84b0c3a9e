package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/engine"
	"github.com/alanyoungcy/arbengine/internal/ledger"
	"github.com/alanyoungcy/arbengine/internal/monitor"
	"github.com/alanyoungcy/arbengine/internal/risk"
	"github.com/alanyoungcy/arbengine/internal/server/handler"
	"github.com/alanyoungcy/arbengine/internal/server/ws"
	"github.com/alanyoungcy/arbengine/internal/venue/httpvenue"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeEngine struct {
	mu      sync.Mutex
	aborted []string
	scorer  string
}

func (f *fakeEngine) InFlight() []engine.TradeStatus {
	return []engine.TradeStatus{{ID: "t1", Account: "a", State: domain.TxSubmitted}}
}

func (f *fakeEngine) Abort(id string) error {
	if id != "t1" {
		return domain.ErrTradeNotFound
	}
	f.mu.Lock()
	f.aborted = append(f.aborted, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) RecentCandidates(int) []domain.CandidatePath {
	return []domain.CandidatePath{{
		ID: "p1", Shape: domain.ShapeDirect, ExpectedProfit: 0.004, Confidence: 0.5,
		Legs: []domain.Leg{{Venue: "x", Ref: "x:XRP/USD", From: "USD", To: "XRP", Direction: domain.DirectionBuy}},
	}}
}

func (f *fakeEngine) ScorerName() string { return f.scorer }
func (f *fakeEngine) Scorers() []string  { return []string{"heuristic"} }

func (f *fakeEngine) SetScorer(name string) error {
	if name != "heuristic" {
		return errors.New("unknown scorer")
	}
	f.scorer = name
	return nil
}

type fakeHistory struct{}

func (fakeHistory) GetByID(_ context.Context, id string) (domain.TradeExecution, error) {
	if id == "t9" {
		return domain.TradeExecution{ID: "t9", State: domain.TxSucceeded}, nil
	}
	return domain.TradeExecution{}, domain.ErrNotFound
}

func (fakeHistory) ListRecent(context.Context, int) ([]domain.TradeExecution, error) {
	return nil, nil
}

type fakeArchive struct{}

func (fakeArchive) Get(_ context.Context, id string) (domain.TransactionRecord, error) {
	if id == "old" {
		return domain.TransactionRecord{ID: "old", State: domain.TxSucceeded}, nil
	}
	return domain.TransactionRecord{}, domain.ErrNotFound
}

func (fakeArchive) ListByTrade(context.Context, string) ([]domain.TransactionRecord, error) {
	return nil, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeBreaker struct{ state httpvenue.BreakerState }

func (fakeBreaker) Name() string                           { return "venue" }
func (b fakeBreaker) BreakerState() httpvenue.BreakerState { return b.state }

type fixture struct {
	srv     *httptest.Server
	mon     *monitor.Monitor
	eng     *fakeEngine
	riskCfg *risk.Reloadable
}

func newFixture(t *testing.T, apiKey string, deps map[string]handler.Pinger, breaker httpvenue.BreakerState) *fixture {
	t.Helper()
	log := discard()
	mon := monitor.New(monitor.Config{FailureBurst: 2}, nil, log)
	led := ledger.New()
	led.RecordOutcome(domain.TradeRequest{}, 4, true)
	rc, err := risk.NewReloadable(risk.DefaultConfig())
	require.NoError(t, err)
	eng := &fakeEngine{scorer: "heuristic"}

	h := Handlers{
		Health:       handler.NewHealthHandler("paper", mon, deps, []handler.BreakerReporter{fakeBreaker{breaker}}, log),
		Trades:       handler.NewTradeHandler(led, fakeHistory{}, log),
		Transactions: handler.NewTransactionHandler(mon, fakeArchive{}, log),
		Engine:       handler.NewEngineHandler(eng, log),
		Risk:         handler.NewRiskHandler(rc, nil, log),
	}
	srv := httptest.NewServer(Routes(Config{APIKey: apiKey}, h, nil, log))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, mon: mon, eng: eng, riskCfg: rc}
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "", map[string]handler.Pinger{"postgres": fakePinger{}}, httpvenue.BreakerClosed)

	resp, body := f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	for i, id := range []string{"a", "b"} {
		require.NoError(t, f.mon.Register(id, monitor.Meta{TradeID: "t", LegIndex: i}))
		require.NoError(t, f.mon.Update(id, domain.TxFailed, errors.New("boom")))
	}
	resp, body = f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
}

func TestHealthDegradedByDependencyAndBreaker(t *testing.T) {
	f := newFixture(t, "", map[string]handler.Pinger{"redis": fakePinger{err: errors.New("down")}}, httpvenue.BreakerClosed)
	resp, body := f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, map[string]any{"redis": "down"}, body["dependencies"])

	f = newFixture(t, "", nil, httpvenue.BreakerOpen)
	resp, body = f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, map[string]any{"venue": "open"}, body["breakers"])
}

func TestAuth(t *testing.T) {
	f := newFixture(t, "secret", nil, httpvenue.BreakerClosed)

	resp, _ := f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is public")

	resp, _ = f.do(t, http.MethodGet, "/api/performance", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/performance", "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/performance", "", "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPerformanceAndTrades(t *testing.T) {
	f := newFixture(t, "", nil, httpvenue.BreakerClosed)

	resp, body := f.do(t, http.MethodGet, "/api/performance", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := body["snapshot"].(map[string]any)
	assert.Equal(t, "4", snap["cumulative_profit"])
	assert.EqualValues(t, 1, body["total"])

	resp, body = f.do(t, http.MethodGet, "/api/trades", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, body["trades"])

	resp, _ = f.do(t, http.MethodGet, "/api/trades/t9", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/trades/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEngineRoutes(t *testing.T) {
	f := newFixture(t, "", nil, httpvenue.BreakerClosed)

	resp, body := f.do(t, http.MethodGet, "/api/trades/in-flight", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["trades"], 1)

	resp, _ = f.do(t, http.MethodPost, "/api/trades/t1/abort", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, "/api/trades/zzz/abort", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, []string{"t1"}, f.eng.aborted)

	resp, body = f.do(t, http.MethodGet, "/api/candidates", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cands := body["candidates"].([]any)
	require.Len(t, cands, 1)
	assert.InDelta(t, 0.002, cands[0].(map[string]any)["score"], 1e-12)

	resp, _ = f.do(t, http.MethodPut, "/api/scorer", `{"name":"ml"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, body = f.do(t, http.MethodPut, "/api/scorer", `{"name":"heuristic"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "heuristic", body["active"])
}

func TestEngineRoutesUnavailableInMonitorMode(t *testing.T) {
	rec := httptest.NewRecorder()
	handler.NewEngineHandler(nil, discard()).ListInFlight(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestTransactionsFallBackToArchive(t *testing.T) {
	f := newFixture(t, "", nil, httpvenue.BreakerClosed)
	require.NoError(t, f.mon.Register("live", monitor.Meta{TradeID: "t1"}))

	resp, body := f.do(t, http.MethodGet, "/api/transactions/live", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "submitted", body["state"])

	resp, body = f.do(t, http.MethodGet, "/api/transactions/old", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "succeeded", body["state"])

	resp, _ = f.do(t, http.MethodGet, "/api/transactions/none", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/api/trades/t1/transactions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["transactions"], 1)
}

func TestRiskConfig(t *testing.T) {
	f := newFixture(t, "", nil, httpvenue.BreakerClosed)

	resp, body := f.do(t, http.MethodPut, "/api/risk/config", `{"confidence_floor":0.85}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 0.85, body["confidence_floor"], 1e-12)
	assert.InDelta(t, risk.DefaultConfig().MaxExposure, body["max_exposure"], 1e-9, "omitted fields are kept")
	assert.InDelta(t, 0.85, f.riskCfg.Current().ConfidenceFloor, 1e-12)

	resp, _ = f.do(t, http.MethodPut, "/api/risk/config", `{"max_exposure":-5}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.InDelta(t, risk.DefaultConfig().MaxExposure, f.riskCfg.Current().MaxExposure, 1e-9)

	resp, _ = f.do(t, http.MethodPut, "/api/risk/config", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHubBroadcast(t *testing.T) {
	log := discard()
	hub := ws.NewHub(nil, []string{"engine.events"}, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(ctx, "other", []byte(`{"skip":true}`))
	hub.Broadcast(ctx, "engine.events", []byte(`{"type":"trade_failed"}`))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"channel":"engine.events","data":{"type":"trade_failed"}}`, string(msg))
}
