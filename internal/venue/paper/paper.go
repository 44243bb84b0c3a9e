// Package paper simulates a venue by filling legs against the live market
// snapshot. It backs the paper run mode and end-to-end tests.
package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/executor"
	"github.com/alanyoungcy/arbengine/internal/market"
)

var (
	_ executor.Submitter = (*Venue)(nil)
	_ executor.Reverser  = (*Venue)(nil)
)

var errSimulated = errors.New("paper: simulated venue failure")

// Config tunes the simulation.
type Config struct {
	// PendingPolls is how many PollFinality calls report a leg as pending
	// before it fills.
	PendingPolls int
	// FailureRate is the probability that a Submit fails recoverably.
	FailureRate float64
	// Slippage shaves this fraction off every fill.
	Slippage float64
	Seed     uint64
}

type fill struct {
	pollsLeft int
	fin       executor.Finality
	account   string
}

// Venue is a simulated execution venue. When any balance has been funded
// the venue enforces balances per account and asset; otherwise funds are
// unlimited.
type Venue struct {
	store *market.Store
	cfg   Config

	mu       sync.Mutex
	rnd      *rand.Rand
	fills    map[string]*fill
	seen     map[string]string // idempotency key -> receipt id
	balances map[string]map[string]decimal.Decimal
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a paper venue over store.
func New(store *market.Store, cfg Config, logger *slog.Logger) *Venue {
	return &Venue{
		store:  store,
		cfg:    cfg,
		rnd:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		fills:  make(map[string]*fill),
		seen:   make(map[string]string),
		now:    time.Now,
		logger: logger.With(slog.String("component", "paper_venue")),
	}
}

// Fund credits amount of asset to account and turns on balance checks.
func (v *Venue) Fund(account, asset string, amount float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.balances == nil {
		v.balances = make(map[string]map[string]decimal.Decimal)
	}
	if v.balances[account] == nil {
		v.balances[account] = make(map[string]decimal.Decimal)
	}
	v.balances[account][asset] = v.balances[account][asset].Add(decimal.NewFromFloat(amount))
}

// Balance returns account's holding of asset.
func (v *Venue) Balance(account, asset string) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[account][asset].InexactFloat64()
}

// Submit prices the leg against the current snapshot and settles balances
// immediately; finality is reported after PendingPolls polls.
func (v *Venue) Submit(ctx context.Context, req executor.SubmitRequest) (executor.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return executor.Receipt{}, domain.Recoverable("submit", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if id, ok := v.seen[req.IdempotencyKey]; ok {
		return executor.Receipt{ID: id, Venue: req.Leg.Venue, SubmittedAt: v.now()}, nil
	}
	if v.cfg.FailureRate > 0 && v.rnd.Float64() < v.cfg.FailureRate {
		return executor.Receipt{}, domain.Recoverable("submit", errSimulated)
	}

	out, fee, err := v.price(req.Leg, req.Amount)
	if err != nil {
		return executor.Receipt{}, err
	}
	out *= 1 - v.cfg.Slippage

	if err := v.settle(req.Account, req.Leg.From, req.Amount, req.Leg.To, out); err != nil {
		return executor.Receipt{}, err
	}

	id := uuid.NewString()
	rate := 0.0
	if req.Amount > 0 {
		rate = (out + fee) / req.Amount
	}
	v.fills[id] = &fill{
		pollsLeft: v.cfg.PendingPolls,
		account:   req.Account,
		fin: executor.Finality{
			Done:       true,
			Accepted:   true,
			FilledRate: rate,
			AmountOut:  out,
			Fee:        fee,
		},
	}
	v.seen[req.IdempotencyKey] = id
	v.logger.Debug("paper: leg filled",
		slog.String("trade_id", req.TradeID),
		slog.Int("leg", req.LegIndex),
		slog.String("ref", req.Leg.Ref),
		slog.Float64("amount_in", req.Amount),
		slog.Float64("amount_out", out),
	)
	return executor.Receipt{ID: id, Venue: req.Leg.Venue, SubmittedAt: v.now()}, nil
}

// PollFinality implements executor.Submitter.
func (v *Venue) PollFinality(_ context.Context, r executor.Receipt) (executor.Finality, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.fills[r.ID]
	if !ok {
		return executor.Finality{}, domain.NonRecoverable("poll", fmt.Errorf("paper: receipt %s: %w", r.ID, domain.ErrNotFound))
	}
	if f.pollsLeft > 0 {
		f.pollsLeft--
		return executor.Finality{}, nil
	}
	return f.fin, nil
}

// Reverse trades req.Amount of the leg's output back into its input at
// current prices.
func (v *Venue) Reverse(ctx context.Context, req executor.ReverseRequest) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.Recoverable("reverse", err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.fills[req.ReceiptID]; !ok {
		return 0, domain.NonRecoverable("reverse", fmt.Errorf("paper: receipt %s: %w", req.ReceiptID, domain.ErrNotFound))
	}

	back := reversed(req.Leg)
	out, _, err := v.price(back, req.Amount)
	if err != nil {
		return 0, err
	}
	out *= 1 - v.cfg.Slippage
	if err := v.settle(req.Account, back.From, req.Amount, back.To, out); err != nil {
		return 0, err
	}
	return out, nil
}

// price returns the net output and fee (in units of leg.To) for amount.
func (v *Venue) price(leg domain.Leg, amount float64) (out, fee float64, err error) {
	snap := v.store.Snapshot()
	switch leg.Kind {
	case domain.LegKindPair:
		q, ok := snap.Pair(leg.Ref)
		if !ok {
			return 0, 0, domain.NonRecoverable("price", fmt.Errorf("paper: pair %s: %w", leg.Ref, domain.ErrNotFound))
		}
		var gross float64
		switch leg.Direction {
		case domain.DirectionBuy:
			gross = amount / q.Ask
		case domain.DirectionSell:
			gross = amount * q.Bid
		default:
			return 0, 0, domain.NonRecoverable("price", fmt.Errorf("paper: direction %q on pair: %w", leg.Direction, domain.ErrRejected))
		}
		fee = gross * q.FeeRate
		return gross - fee, fee, nil
	case domain.LegKindPool:
		p, ok := snap.Pool(leg.Ref)
		if !ok {
			return 0, 0, domain.NonRecoverable("price", fmt.Errorf("paper: pool %s: %w", leg.Ref, domain.ErrNotFound))
		}
		got, serr := market.SwapOut(p, leg.From, amount)
		if serr != nil {
			return 0, 0, domain.NonRecoverable("price", serr)
		}
		if got <= 0 {
			return 0, 0, domain.NonRecoverable("price", domain.ErrInsufficientLiquidity)
		}
		return got, 0, nil
	default:
		return 0, 0, domain.NonRecoverable("price", fmt.Errorf("paper: leg kind %q: %w", leg.Kind, domain.ErrRejected))
	}
}

// settle moves balances when balance checks are on. Caller holds v.mu.
func (v *Venue) settle(account, from string, in float64, to string, out float64) error {
	if v.balances == nil {
		return nil
	}
	book := v.balances[account]
	if book == nil {
		return domain.NonRecoverable("settle", fmt.Errorf("paper: account %s: %w", account, domain.ErrInsufficientFunds))
	}
	amt := decimal.NewFromFloat(in)
	if book[from].LessThan(amt) {
		return domain.NonRecoverable("settle", fmt.Errorf("paper: %s holds %s %s, needs %s: %w",
			account, book[from].String(), from, amt.String(), domain.ErrInsufficientFunds))
	}
	book[from] = book[from].Sub(amt)
	book[to] = book[to].Add(decimal.NewFromFloat(out))
	return nil
}

// reversed returns the leg that undoes l.
func reversed(l domain.Leg) domain.Leg {
	r := l
	r.From, r.To = l.To, l.From
	switch l.Direction {
	case domain.DirectionBuy:
		r.Direction = domain.DirectionSell
	case domain.DirectionSell:
		r.Direction = domain.DirectionBuy
	}
	return r
}
