// Package engine runs the scan loop: market snapshot, scorer, risk gate and
// orchestrated execution of accepted candidates.
package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/executor"
	"github.com/alanyoungcy/arbengine/internal/market"
	"github.com/alanyoungcy/arbengine/internal/metrics"
	"github.com/alanyoungcy/arbengine/internal/risk"
	"github.com/alanyoungcy/arbengine/internal/scoring"
)

// Config tunes the scan loop. Notional is denominated in NotionalAsset;
// every trade is funded in that asset, so exposure and realized profit
// share one unit.
type Config struct {
	Interval      time.Duration
	MaxLegs       int
	MinProfit     float64
	TopN          int
	MaxInFlight   int64
	Notional      float64
	NotionalAsset string
	Accounts      []string
	Scorer        string
	RecentLimit   int
}

// DefaultConfig returns the production defaults. Accounts has no default.
func DefaultConfig() Config {
	return Config{
		Interval:      time.Second,
		MaxLegs:       3,
		MinProfit:     0.001,
		TopN:          3,
		MaxInFlight:   4,
		Notional:      1000,
		NotionalAsset: "USD",
		Scorer:        scoring.HeuristicName,
		RecentLimit:   100,
	}
}

// PnLSource reports the profit realized since the start of the day.
type PnLSource interface {
	DailyProfit() float64
}

// Deps are the engine's collaborators; all are required except Sink and PnL.
type Deps struct {
	Store        *market.Store
	Scorers      *scoring.Registry
	Gate         *risk.Gate
	Exposure     *risk.ExposureBook
	PnL          PnLSource
	Orchestrator *executor.Orchestrator
	Sink         metrics.Sink
	Logger       *slog.Logger
}

// TradeStatus describes an in-flight trade.
type TradeStatus struct {
	ID        string         `json:"id"`
	Account   string         `json:"account"`
	Nonce     uint64         `json:"nonce"`
	PathID    string         `json:"path_id"`
	Shape     string         `json:"shape"`
	Notional  float64        `json:"notional"`
	State     domain.TxState `json:"state"`
	Aborted   bool           `json:"aborted"`
	CreatedAt time.Time      `json:"created_at"`
}

// ScanResult summarizes one scan pass.
type ScanResult struct {
	Generation uint64
	Candidates int
	Started    []string
	Rejected   map[risk.Reason]int
	Skipped    int
	Unfunded   int // cycles that never touch the notional asset
}

type inflight struct {
	trade  *executor.Trade
	pathID string
}

// Engine owns the scan loop and the set of in-flight trades.
type Engine struct {
	cfg      Config
	store    *market.Store
	scorers  *scoring.Registry
	gate     *risk.Gate
	exposure *risk.ExposureBook
	pnl      PnLSource
	orch     *executor.Orchestrator
	sink     metrics.Sink
	sem      *semaphore.Weighted
	logger   *slog.Logger

	scanMu sync.Mutex
	next   int // round-robin account cursor

	mu     sync.Mutex
	scorer scoring.Scorer
	trades map[string]*inflight
	paths  map[string]string // path id -> trade id
	recent []domain.CandidatePath

	wg sync.WaitGroup
}

// New creates an engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil || deps.Scorers == nil || deps.Gate == nil || deps.Exposure == nil || deps.Orchestrator == nil {
		return nil, errors.New("engine: store, scorers, gate, exposure and orchestrator are required")
	}
	if len(cfg.Accounts) == 0 {
		return nil, errors.New("engine: at least one account is required")
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxLegs < 2 {
		cfg.MaxLegs = def.MaxLegs
	}
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.Notional <= 0 {
		return nil, fmt.Errorf("engine: notional must be positive, got %g", cfg.Notional)
	}
	if cfg.NotionalAsset == "" {
		cfg.NotionalAsset = def.NotionalAsset
	}
	if cfg.Scorer == "" {
		cfg.Scorer = def.Scorer
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = def.RecentLimit
	}
	scorer, err := deps.Scorers.Get(cfg.Scorer)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	sink := deps.Sink
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &Engine{
		cfg:      cfg,
		store:    deps.Store,
		scorers:  deps.Scorers,
		gate:     deps.Gate,
		exposure: deps.Exposure,
		pnl:      deps.PnL,
		orch:     deps.Orchestrator,
		sink:     sink,
		sem:      semaphore.NewWeighted(cfg.MaxInFlight),
		logger:   deps.Logger.With(slog.String("component", "engine")),
		scorer:   scorer,
		trades:   make(map[string]*inflight),
		paths:    make(map[string]string),
	}, nil
}

// ScorerName returns the active scorer's name.
func (e *Engine) ScorerName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scorer.Name()
}

// Scorers lists the registered scorer names.
func (e *Engine) Scorers() []string {
	return e.scorers.List()
}

// SetScorer switches the active scorer to the one registered under name.
func (e *Engine) SetScorer(name string) error {
	s, err := e.scorers.Get(name)
	if err != nil {
		return fmt.Errorf("engine: set scorer: %w", err)
	}
	e.mu.Lock()
	e.scorer = s
	e.mu.Unlock()
	e.logger.Info("engine: scorer changed", slog.String("scorer", name))
	return nil
}

// Run scans on every tick until ctx is cancelled, then aborts in-flight
// trades and waits for them to reach a terminal state.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started",
		slog.String("scorer", e.ScorerName()),
		slog.Duration("interval", e.cfg.Interval),
		slog.Int64("max_in_flight", e.cfg.MaxInFlight),
		slog.Float64("notional", e.cfg.Notional),
		slog.String("notional_asset", e.cfg.NotionalAsset),
	)
	defer e.logger.Info("engine stopped")

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.AbortAll()
			e.Wait()
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Scan(ctx); err != nil && ctx.Err() == nil {
				e.logger.Warn("engine: scan failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Scan runs one pass over the current snapshot and starts a trade for each
// accepted candidate, up to the in-flight limit. Started trades run in the
// background; Wait blocks until they finish.
func (e *Engine) Scan(ctx context.Context) (ScanResult, error) {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	snap := e.store.Snapshot()
	res := ScanResult{Generation: snap.Generation, Rejected: map[risk.Reason]int{}}
	if snap.Generation == 0 {
		return res, nil
	}

	e.mu.Lock()
	scorer := e.scorer
	e.mu.Unlock()

	paths, err := scorer.ScorePaths(snap, e.cfg.MaxLegs, e.cfg.MinProfit)
	if err != nil {
		return res, fmt.Errorf("engine: score %s: %w", scorer.Name(), err)
	}
	funded := make([]domain.CandidatePath, 0, len(paths))
	for _, p := range paths {
		rotated, ok := p.StartingAt(e.cfg.NotionalAsset)
		if !ok {
			res.Unfunded++
			continue
		}
		funded = append(funded, rotated)
	}
	ranked := scoring.Rank(funded, e.cfg.TopN)
	res.Candidates = len(ranked)
	e.remember(ranked)

	for _, c := range ranked {
		if e.pathInFlight(c.ID) {
			res.Skipped++
			continue
		}

		// Exposure only shrinks between this check and Reserve, since Scan
		// is the only reserver.
		d := e.gate.Evaluate(c, e.cfg.Notional, e.currentExposure())
		if !d.Accepted {
			res.Rejected[d.Reason]++
			e.sink.GateRejected(string(d.Reason))
			e.logger.Debug("engine: candidate rejected",
				slog.String("path_id", c.ID),
				slog.String("reason", string(d.Reason)),
				slog.String("detail", d.Detail),
			)
			continue
		}

		if !e.sem.TryAcquire(1) {
			res.Skipped++
			continue
		}
		req, err := e.prepare(ctx, c)
		if err != nil {
			e.sem.Release(1)
			res.Skipped++
			if !errors.Is(err, domain.ErrAccountBusy) {
				e.logger.Warn("engine: prepare failed", slog.String("path_id", c.ID), slog.String("error", err.Error()))
			}
			continue
		}
		if err := e.exposure.Reserve(req.ID, req.Notional); err != nil {
			e.orch.Release(ctx, req)
			e.sem.Release(1)
			res.Skipped++
			continue
		}
		e.start(ctx, req)
		res.Started = append(res.Started, req.ID)
	}
	return res, nil
}

func (e *Engine) currentExposure() risk.Exposure {
	exp := e.exposure.Exposure()
	if e.pnl != nil {
		exp.DailyPnL = e.pnl.DailyProfit()
	}
	return exp
}

// prepare reserves a nonce on the next account that is free.
func (e *Engine) prepare(ctx context.Context, c domain.CandidatePath) (domain.TradeRequest, error) {
	var lastErr error
	for range e.cfg.Accounts {
		account := e.cfg.Accounts[e.next%len(e.cfg.Accounts)]
		e.next++
		req, err := e.orch.Prepare(ctx, account, c, e.cfg.Notional)
		if err == nil {
			return req, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrAccountBusy) {
			return domain.TradeRequest{}, err
		}
	}
	return domain.TradeRequest{}, lastErr
}

func (e *Engine) start(ctx context.Context, req domain.TradeRequest) {
	t := executor.NewTrade(req)
	e.mu.Lock()
	e.trades[req.ID] = &inflight{trade: t, pathID: req.Path.ID}
	e.paths[req.Path.ID] = req.ID
	e.mu.Unlock()

	e.logger.Info("engine: trade started",
		slog.String("trade_id", req.ID),
		slog.String("path_id", req.Path.ID),
		slog.String("account", req.Account),
		slog.Float64("expected_profit", req.Path.ExpectedProfit),
		slog.Float64("confidence", req.Path.Confidence),
	)

	// Trades outlive the scan that started them; shutdown goes through Abort.
	tctx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.sem.Release(1)
		defer e.finish(req)
		if _, err := e.orch.Execute(tctx, t); err != nil {
			e.orch.Release(tctx, req)
			e.logger.Error("engine: trade refused", slog.String("trade_id", req.ID), slog.String("error", err.Error()))
		}
	}()
}

func (e *Engine) finish(req domain.TradeRequest) {
	e.exposure.Release(req.ID)
	e.mu.Lock()
	delete(e.trades, req.ID)
	if e.paths[req.Path.ID] == req.ID {
		delete(e.paths, req.Path.ID)
	}
	e.mu.Unlock()
}

func (e *Engine) pathInFlight(pathID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.paths[pathID]
	return ok
}

func (e *Engine) remember(paths []domain.CandidatePath) {
	if len(paths) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recent = append(e.recent, paths...)
	if over := len(e.recent) - e.cfg.RecentLimit; over > 0 {
		e.recent = append([]domain.CandidatePath(nil), e.recent[over:]...)
	}
}

// RecentCandidates returns up to limit of the most recently ranked
// candidates, newest first.
func (e *Engine) RecentCandidates(limit int) []domain.CandidatePath {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > len(e.recent) {
		limit = len(e.recent)
	}
	out := make([]domain.CandidatePath, 0, limit)
	for i := len(e.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recent[i])
	}
	return out
}

// Abort requests cooperative cancellation of an in-flight trade.
func (e *Engine) Abort(tradeID string) error {
	e.mu.Lock()
	f, ok := e.trades[tradeID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine: abort %s: %w", tradeID, domain.ErrTradeNotFound)
	}
	f.trade.Abort()
	e.logger.Info("engine: trade abort requested", slog.String("trade_id", tradeID))
	return nil
}

// AbortAll aborts every in-flight trade.
func (e *Engine) AbortAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range e.trades {
		f.trade.Abort()
	}
}

// InFlight lists in-flight trades ordered by creation time.
func (e *Engine) InFlight() []TradeStatus {
	e.mu.Lock()
	out := make([]TradeStatus, 0, len(e.trades))
	for _, f := range e.trades {
		req := f.trade.Request()
		out = append(out, TradeStatus{
			ID:        req.ID,
			Account:   req.Account,
			Nonce:     req.Nonce,
			PathID:    f.pathID,
			Shape:     string(req.Path.Shape),
			Notional:  req.Notional,
			State:     f.trade.State(),
			Aborted:   f.trade.Aborted(),
			CreatedAt: req.CreatedAt,
		})
	}
	e.mu.Unlock()
	slices.SortFunc(out, func(a, b TradeStatus) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Wait blocks until every started trade has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}
