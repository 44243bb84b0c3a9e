// Package executor drives accepted trades through the leg state machine:
// submission, confirmation, retries with backoff, compensation and the
// final profit check.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
	"github.com/alanyoungcy/arbengine/internal/monitor"
)

// ErrRetryBudgetExhausted is returned when a leg fails recoverably more times
// than the backoff policy allows.
var ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

// errConfirmTimeout is the recoverable error for a leg stuck in confirmation.
var errConfirmTimeout = errors.New("confirmation timed out")

// errAborted stops a leg between retry attempts.
var errAborted = errors.New("aborted during retry backoff")

// TxTracker records per-leg transaction state.
type TxTracker interface {
	Register(id string, meta monitor.Meta) error
	Update(id string, state domain.TxState, cause error) error
}

// OutcomeRecorder receives exactly one outcome per terminal trade.
type OutcomeRecorder interface {
	RecordOutcome(req domain.TradeRequest, realizedProfit float64, succeeded bool)
}

// FinishHook runs after a trade reaches its terminal state.
type FinishHook func(ctx context.Context, exec domain.TradeExecution)

// Config tunes the orchestrator.
type Config struct {
	Backoff BackoffPolicy
	// CallTimeout bounds each Submit and PollFinality call. A timeout is a
	// recoverable failure.
	CallTimeout    time.Duration
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
	// ProfitTolerance is the realized loss fraction still counted as
	// success, e.g. 0.002.
	ProfitTolerance float64
	DedupTTL        time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Backoff:         DefaultBackoff(),
		CallTimeout:     10 * time.Second,
		PollInterval:    500 * time.Millisecond,
		ConfirmTimeout:  30 * time.Second,
		ProfitTolerance: 0.002,
		DedupTTL:        10 * time.Minute,
	}
}

// Deps are the orchestrator's collaborators. Venue, Tracker and Nonces are
// required.
type Deps struct {
	Venue   Submitter
	Tracker TxTracker
	Nonces  *NonceManager
	Ledger  OutcomeRecorder
	Sink    metrics.Sink
	Hooks   []FinishHook
	Logger  *slog.Logger
}

// Orchestrator executes trades. One orchestrator serves many concurrent
// trades; per-trade state lives in Trade.
type Orchestrator struct {
	cfg     Config
	venue   Submitter
	tracker TxTracker
	nonces  *NonceManager
	ledger  OutcomeRecorder
	sink    metrics.Sink
	hooks   []FinishHook
	dedup   *Dedup
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	logger  *slog.Logger
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Venue == nil || deps.Tracker == nil || deps.Nonces == nil {
		return nil, errors.New("executor: venue, tracker and nonce manager are required")
	}
	if err := cfg.Backoff.Validate(); err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}
	def := DefaultConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = def.ConfirmTimeout
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = def.DedupTTL
	}
	sink := deps.Sink
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &Orchestrator{
		cfg:     cfg,
		venue:   deps.Venue,
		tracker: deps.Tracker,
		nonces:  deps.Nonces,
		ledger:  deps.Ledger,
		sink:    sink,
		hooks:   deps.Hooks,
		dedup:   NewDedup(cfg.DedupTTL),
		sleep:   sleepCtx,
		now:     time.Now,
		logger:  deps.Logger.With(slog.String("component", "orchestrator")),
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Trade is the handle for one in-flight TradeRequest.
type Trade struct {
	req     domain.TradeRequest
	aborted atomic.Bool

	mu    sync.Mutex
	state domain.TxState

	done   chan struct{}
	once   sync.Once
	result domain.TradeExecution
}

// NewTrade wraps req in a handle in the Pending state.
func NewTrade(req domain.TradeRequest) *Trade {
	return &Trade{req: req, state: domain.TxPending, done: make(chan struct{})}
}

// Request returns the trade request.
func (t *Trade) Request() domain.TradeRequest { return t.req }

// Abort stops further leg submissions. Legs already submitted run to a
// terminal state.
func (t *Trade) Abort() { t.aborted.Store(true) }

// Aborted reports whether Abort was called.
func (t *Trade) Aborted() bool { return t.aborted.Load() }

// State returns the trade-level state.
func (t *Trade) State() domain.TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed once the trade is terminal.
func (t *Trade) Done() <-chan struct{} { return t.done }

// Result is valid after Done is closed.
func (t *Trade) Result() domain.TradeExecution {
	<-t.done
	return t.result
}

// finish publishes the result and closes Done. Only the first call counts.
func (t *Trade) finish(exec domain.TradeExecution) {
	t.once.Do(func() {
		t.setState(exec.State)
		t.result = exec
		close(t.done)
	})
}

func (t *Trade) setState(to domain.TxState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == to || !domain.CanTransition(t.state, to) {
		return
	}
	t.state = to
}

// Prepare reserves a nonce on account and builds the TradeRequest. It fails
// with domain.ErrAccountBusy if the account already has a trade in flight.
func (o *Orchestrator) Prepare(ctx context.Context, account string, path domain.CandidatePath, notional float64) (domain.TradeRequest, error) {
	if err := path.Validate(); err != nil {
		return domain.TradeRequest{}, fmt.Errorf("executor: prepare: %w", err)
	}
	nonce, err := o.nonces.Acquire(ctx, account)
	if err != nil {
		return domain.TradeRequest{}, err
	}
	return domain.TradeRequest{
		ID:        uuid.NewString(),
		Account:   account,
		Nonce:     nonce,
		Path:      path,
		Notional:  notional,
		CreatedAt: o.now(),
	}, nil
}

// Release gives back the nonce of a prepared request that will not be
// executed.
func (o *Orchestrator) Release(ctx context.Context, req domain.TradeRequest) {
	o.nonces.Finish(ctx, req.Account, req.Nonce, false)
}

// Execute runs t to a terminal state and reports the outcome. It returns an
// error only when the trade is refused before anything is dispatched
// (duplicate id); every other failure is described by the returned
// execution. A refused handle is still completed, so Result does not block.
func (o *Orchestrator) Execute(ctx context.Context, t *Trade) (domain.TradeExecution, error) {
	req := t.req
	if o.dedup.IsDuplicate(req.ID) {
		err := fmt.Errorf("executor: trade %s: %w", req.ID, domain.ErrAlreadyExists)
		refused := domain.TradeExecution{
			ID:       req.ID,
			Account:  req.Account,
			Nonce:    req.Nonce,
			Shape:    req.Path.Shape,
			Notional: req.Notional,
			State:    domain.TxFailed,
			Error:    err.Error(),
		}
		t.finish(refused)
		return refused, err
	}

	log := o.logger.With(
		slog.String("trade_id", req.ID),
		slog.String("account", req.Account),
		slog.Uint64("nonce", req.Nonce),
		slog.String("shape", string(req.Path.Shape)),
	)
	exec := domain.TradeExecution{
		ID:             req.ID,
		Account:        req.Account,
		Nonce:          req.Nonce,
		Shape:          req.Path.Shape,
		Scorer:         req.Path.Scorer,
		Notional:       req.Notional,
		ExpectedProfit: req.Path.ExpectedProfit,
		State:          domain.TxPending,
		StartedAt:      o.now(),
	}

	submitted := o.run(ctx, t, &exec, log)

	completed := o.now()
	exec.CompletedAt = &completed
	o.nonces.Finish(context.WithoutCancel(ctx), req.Account, req.Nonce, submitted)
	o.report(ctx, req, exec, log)

	t.finish(exec)
	return exec, nil
}

// run executes the legs in order and sets exec's terminal state. It reports
// whether any leg reached the venue.
func (o *Orchestrator) run(ctx context.Context, t *Trade, exec *domain.TradeExecution, log *slog.Logger) bool {
	req := t.req
	amount := req.Notional
	legs := req.Path.Legs

	for i, leg := range legs {
		if t.Aborted() {
			if len(exec.Legs) == 0 {
				o.fail(exec, domain.ReasonUserCancelled, errors.New("aborted before submission"))
				log.Info("orchestrator: trade cancelled before submission")
				return false
			}
			o.fail(exec, domain.ReasonAbortedMidPath, fmt.Errorf("aborted before leg %d", i))
			o.compensate(ctx, req, exec, log)
			return true
		}
		if err := o.nonces.Check(req.Account, req.Nonce); err != nil {
			o.fail(exec, domain.ReasonNonceRejected, err)
			if len(exec.Legs) > 0 {
				o.compensate(ctx, req, exec, log)
			}
			return len(exec.Legs) > 0
		}

		le, err := o.runLeg(ctx, t, i, leg, amount, log)
		exec.Legs = append(exec.Legs, le)
		if errors.Is(err, errAborted) {
			if i == 0 && le.ReceiptID == "" {
				o.fail(exec, domain.ReasonUserCancelled, err)
				log.Info("orchestrator: trade cancelled before reaching the venue")
				return false
			}
			o.fail(exec, domain.ReasonAbortedMidPath, err)
			o.compensate(ctx, req, exec, log)
			return true
		}
		if err != nil {
			o.fail(exec, failureReason(err), err)
			log.Warn("orchestrator: leg failed",
				slog.Int("leg", i),
				slog.String("reason", string(exec.FailureReason)),
				slog.String("error", err.Error()),
			)
			o.compensate(ctx, req, exec, log)
			return true
		}
		amount = le.AmountOut
	}

	t.setState(domain.TxConfirming)
	exec.RealizedProfit = amount - req.Notional
	if exec.RealizedFraction() < -o.cfg.ProfitTolerance {
		o.fail(exec, domain.ReasonEconomicLoss, fmt.Errorf(
			"realized %.6f below tolerance -%.6f", exec.RealizedFraction(), o.cfg.ProfitTolerance))
		return true
	}
	exec.State = domain.TxSucceeded
	return true
}

func (o *Orchestrator) fail(exec *domain.TradeExecution, reason domain.FailureReason, err error) {
	exec.State = domain.TxFailed
	exec.FailureReason = reason
	if err != nil {
		exec.Error = err.Error()
	}
}

func failureReason(err error) domain.FailureReason {
	switch {
	case errors.Is(err, ErrRetryBudgetExhausted):
		return domain.ReasonRetryBudgetExhausted
	case errors.Is(err, domain.ErrRejected):
		return domain.ReasonFinalityRejected
	case errors.Is(err, domain.ErrNonceConflict):
		return domain.ReasonNonceRejected
	default:
		return domain.ReasonNonRecoverable
	}
}

// runLeg drives one leg from Submitted to a terminal state. The same nonce
// and idempotency key are used for every attempt.
func (o *Orchestrator) runLeg(ctx context.Context, t *Trade, idx int, leg domain.Leg, amountIn float64, log *slog.Logger) (domain.LegExecution, error) {
	req := t.req
	le := domain.LegExecution{
		Index:        idx,
		TxID:         uuid.NewString(),
		Venue:        leg.Venue,
		Ref:          leg.Ref,
		From:         leg.From,
		To:           leg.To,
		Direction:    leg.Direction,
		ExpectedRate: leg.Rate,
		AmountIn:     amountIn,
		State:        domain.TxSubmitted,
	}
	if err := o.tracker.Register(le.TxID, monitor.Meta{TradeID: req.ID, LegIndex: idx, Venue: leg.Venue}); err != nil {
		le.State = domain.TxFailed
		le.Error = err.Error()
		return le, domain.NonRecoverable("register", err)
	}
	t.setState(domain.TxSubmitted)

	sreq := SubmitRequest{
		TradeID:        req.ID,
		Account:        req.Account,
		Nonce:          req.Nonce,
		LegIndex:       idx,
		Leg:            leg,
		Amount:         amountIn,
		IdempotencyKey: fmt.Sprintf("%s:%d:%d", req.Account, req.Nonce, idx),
	}

	failures := 0
	for {
		sreq.Attempt = failures
		fin, rcpt, err := o.attempt(ctx, sreq, &le)
		if rcpt.ID != "" {
			le.ReceiptID = rcpt.ID
		}
		if err == nil {
			if !fin.Accepted {
				err = domain.NonRecoverable("finality", fmt.Errorf("%w: %s", domain.ErrRejected, fin.Reason))
				o.track(le.TxID, domain.TxFailed, err)
				le.State = domain.TxFailed
				le.Error = err.Error()
				return le, err
			}
			le.FilledRate = fin.FilledRate
			le.Fee = fin.Fee
			le.AmountOut = fin.AmountOut
			if le.AmountOut == 0 {
				rate := fin.FilledRate
				if rate == 0 {
					rate = leg.Rate
				}
				le.AmountOut = amountIn*rate - fin.Fee
			}
			o.track(le.TxID, domain.TxSucceeded, nil)
			le.State = domain.TxSucceeded
			log.Debug("orchestrator: leg confirmed",
				slog.Int("leg", idx),
				slog.Float64("amount_in", amountIn),
				slog.Float64("amount_out", le.AmountOut),
			)
			return le, nil
		}

		le.Error = err.Error()
		if ctx.Err() != nil || domain.IsNonRecoverable(err) {
			if ctx.Err() != nil && !domain.IsNonRecoverable(err) {
				err = domain.NonRecoverable("leg", ctx.Err())
			}
			o.track(le.TxID, domain.TxFailed, err)
			le.State = domain.TxFailed
			return le, err
		}

		failures++
		le.Retries = failures
		if o.cfg.Backoff.Exhausted(failures) {
			err = fmt.Errorf("leg %d after %d attempts: %w: %v", idx, failures, ErrRetryBudgetExhausted, err)
			o.track(le.TxID, domain.TxFailed, err)
			le.State = domain.TxFailed
			le.Error = err.Error()
			return le, err
		}

		o.track(le.TxID, domain.TxRetrying, err)
		le.State = domain.TxRetrying
		t.setState(domain.TxRetrying)
		o.sink.Retry(leg.Venue, idx)
		delay := o.cfg.Backoff.Delay(failures - 1)
		log.Info("orchestrator: leg retrying",
			slog.Int("leg", idx),
			slog.Int("attempt", failures),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if serr := o.sleep(ctx, delay); serr != nil {
			err = domain.NonRecoverable("backoff", serr)
			o.track(le.TxID, domain.TxFailed, err)
			le.State = domain.TxFailed
			le.Error = err.Error()
			return le, err
		}
		if t.Aborted() {
			err = fmt.Errorf("leg %d after %d attempts: %w", idx, failures, errAborted)
			o.track(le.TxID, domain.TxFailed, err)
			le.State = domain.TxFailed
			le.Error = err.Error()
			return le, err
		}
		o.track(le.TxID, domain.TxSubmitted, nil)
		le.State = domain.TxSubmitted
		t.setState(domain.TxSubmitted)
	}
}

// attempt makes one submission and waits for finality.
func (o *Orchestrator) attempt(ctx context.Context, sreq SubmitRequest, le *domain.LegExecution) (Finality, Receipt, error) {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	rcpt, err := o.venue.Submit(cctx, sreq)
	cancel()
	if err != nil {
		return Finality{}, Receipt{}, err
	}
	o.track(le.TxID, domain.TxConfirming, nil)
	le.State = domain.TxConfirming

	deadline := o.now().Add(o.cfg.ConfirmTimeout)
	for {
		pctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		fin, err := o.venue.PollFinality(pctx, rcpt)
		cancel()
		if err != nil {
			return Finality{}, rcpt, err
		}
		if fin.Done {
			return fin, rcpt, nil
		}
		if !o.now().Before(deadline) {
			return Finality{}, rcpt, domain.Recoverable("confirm", errConfirmTimeout)
		}
		if err := o.sleep(ctx, o.cfg.PollInterval); err != nil {
			return Finality{}, rcpt, err
		}
	}
}

func (o *Orchestrator) track(id string, state domain.TxState, cause error) {
	if err := o.tracker.Update(id, state, cause); err != nil {
		o.logger.Error("orchestrator: monitor update rejected",
			slog.String("tx_id", id),
			slog.String("state", string(state)),
			slog.String("error", err.Error()),
		)
	}
}

// compensate reverses completed legs, newest first. Each reversal turns
// the holdings of one leg's output asset back into its input asset, so the
// chain stops at the first reversal that fails. The trade stays Failed.
func (o *Orchestrator) compensate(ctx context.Context, req domain.TradeRequest, exec *domain.TradeExecution, log *slog.Logger) {
	var done []int
	for i := range exec.Legs {
		if exec.Legs[i].State == domain.TxSucceeded {
			done = append(done, i)
		}
	}
	if len(done) == 0 {
		return
	}
	holding := exec.Legs[done[len(done)-1]].AmountOut
	rev, ok := o.venue.(Reverser)
	if !ok {
		for _, i := range done {
			exec.Legs[i].Compensation = domain.CompensationSkipped
		}
		markOpen(req, exec, done, len(done)-1, holding)
		log.Warn("orchestrator: venue cannot reverse legs, position left open",
			slog.Int("legs", len(done)),
			slog.String("asset", exec.OpenAsset),
			slog.Float64("amount", exec.OpenAmount),
		)
		return
	}

	cctx := context.WithoutCancel(ctx)
	for k := len(done) - 1; k >= 0; k-- {
		le := &exec.Legs[done[k]]
		leg := req.Path.Legs[le.Index]
		rreq := ReverseRequest{
			TradeID:   req.ID,
			Account:   req.Account,
			Nonce:     req.Nonce,
			LegIndex:  le.Index,
			ReceiptID: le.ReceiptID,
			Leg:       leg,
			Amount:    holding,
		}
		out, err := o.reverseWithRetry(cctx, rev, rreq)
		if err != nil {
			le.Compensation = domain.CompensationFailed
			markOpen(req, exec, done, k, holding)
			log.Error("orchestrator: compensation failed, position left open",
				slog.Int("leg", le.Index),
				slog.String("asset", exec.OpenAsset),
				slog.Float64("amount", exec.OpenAmount),
				slog.String("error", err.Error()),
			)
			return
		}
		le.Compensation = domain.CompensationSucceeded
		holding = out
		log.Info("orchestrator: leg reversed", slog.Int("leg", le.Index), slog.Float64("amount_out", out))
	}
	// Every completed leg was undone, so holdings are back in the start asset.
	exec.RealizedProfit = holding - req.Notional
}

// markOpen records holding, the output of completed leg done[k], as an open
// position and values it in the start asset by walking it back through the
// quoted rates of legs done[k]..done[0].
func markOpen(req domain.TradeRequest, exec *domain.TradeExecution, done []int, k int, holding float64) {
	exec.OpenAsset = exec.Legs[done[k]].To
	exec.OpenAmount = holding
	value := holding
	for j := k; j >= 0; j-- {
		if r := req.Path.Legs[exec.Legs[done[j]].Index].Rate; r > 0 {
			value /= r
		}
	}
	exec.RealizedProfit = value - req.Notional
}

func (o *Orchestrator) reverseWithRetry(ctx context.Context, rev Reverser, rreq ReverseRequest) (float64, error) {
	var err error
	for failures := 0; ; failures++ {
		cctx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		var out float64
		out, err = rev.Reverse(cctx, rreq)
		cancel()
		if err == nil {
			return out, nil
		}
		if domain.IsNonRecoverable(err) || o.cfg.Backoff.Exhausted(failures+1) {
			return 0, err
		}
		if serr := o.sleep(ctx, o.cfg.Backoff.Delay(failures)); serr != nil {
			return 0, serr
		}
	}
}

func (o *Orchestrator) report(ctx context.Context, req domain.TradeRequest, exec domain.TradeExecution, log *slog.Logger) {
	if o.ledger != nil {
		o.ledger.RecordOutcome(req, exec.RealizedProfit, exec.Succeeded())
	}
	o.sink.TradeFinished(exec)

	attrs := []any{
		slog.String("state", string(exec.State)),
		slog.Float64("expected_profit", exec.ExpectedProfit),
		slog.Float64("realized_profit", exec.RealizedProfit),
		slog.Int("legs", len(exec.Legs)),
	}
	if exec.Succeeded() {
		log.Info("orchestrator: trade succeeded", attrs...)
	} else {
		attrs = append(attrs, slog.String("reason", string(exec.FailureReason)), slog.String("error", exec.Error))
		log.Warn("orchestrator: trade failed", attrs...)
	}

	hctx := context.WithoutCancel(ctx)
	for _, h := range o.hooks {
		h(hctx, exec)
	}
}
