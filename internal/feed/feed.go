// Package feed moves market data from external sources into the snapshot
// store.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/market"
	"github.com/alanyoungcy/arbengine/internal/metrics"
)

// Feed is a market data source. Fetch returns everything new since the
// previous call; an empty update means nothing changed.
type Feed interface {
	Fetch(ctx context.Context) (market.Update, error)
}

// Frame is the JSON wire format shared by the websocket, bus and fixture
// sources.
type Frame struct {
	Pairs []PairFrame `json:"pairs,omitempty"`
	Pools []PoolFrame `json:"pools,omitempty"`
}

// PairFrame is one pair quote on the wire.
type PairFrame struct {
	Venue     string    `json:"venue"`
	Base      string    `json:"base"`
	Quote     string    `json:"quote"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Mid       float64   `json:"mid,omitempty"`
	Volume24h float64   `json:"volume_24h,omitempty"`
	FeeRate   float64   `json:"fee_rate,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// PoolFrame is one pool state on the wire.
type PoolFrame struct {
	ID        string    `json:"id"`
	Venue     string    `json:"venue"`
	AssetA    string    `json:"asset_a"`
	AssetB    string    `json:"asset_b"`
	ReserveA  float64   `json:"reserve_a"`
	ReserveB  float64   `json:"reserve_b"`
	FeeRate   float64   `json:"fee_rate,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Update converts the frame to a store update.
func (f Frame) Update() market.Update {
	var u market.Update
	for _, p := range f.Pairs {
		u.Pairs = append(u.Pairs, domain.PairQuote{
			Venue: p.Venue, Base: p.Base, Quote: p.Quote,
			Bid: p.Bid, Ask: p.Ask, Mid: p.Mid,
			Volume24h: p.Volume24h, FeeRate: p.FeeRate, UpdatedAt: p.Timestamp,
		})
	}
	for _, p := range f.Pools {
		u.Pools = append(u.Pools, domain.Pool{
			ID: p.ID, Venue: p.Venue, AssetA: p.AssetA, AssetB: p.AssetB,
			ReserveA: p.ReserveA, ReserveB: p.ReserveB, FeeRate: p.FeeRate, UpdatedAt: p.Timestamp,
		})
	}
	return u
}

// buffer coalesces pushed updates between Fetch calls, keeping the newest
// entry per pair and pool.
type buffer struct {
	mu    sync.Mutex
	pairs map[string]domain.PairQuote
	pools map[string]domain.Pool
}

func newBuffer() *buffer {
	return &buffer{pairs: map[string]domain.PairQuote{}, pools: map[string]domain.Pool{}}
}

func (b *buffer) add(u market.Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range u.Pairs {
		if held, ok := b.pairs[q.ID()]; !ok || !q.UpdatedAt.Before(held.UpdatedAt) {
			b.pairs[q.ID()] = q
		}
	}
	for _, p := range u.Pools {
		if held, ok := b.pools[p.ID]; !ok || !p.UpdatedAt.Before(held.UpdatedAt) {
			b.pools[p.ID] = p
		}
	}
}

func (b *buffer) drain() market.Update {
	b.mu.Lock()
	defer b.mu.Unlock()
	var u market.Update
	for _, q := range b.pairs {
		u.Pairs = append(u.Pairs, q)
	}
	for _, p := range b.pools {
		u.Pools = append(u.Pools, p)
	}
	b.pairs = map[string]domain.PairQuote{}
	b.pools = map[string]domain.Pool{}
	return u
}

// Poller periodically fetches from a Feed and refreshes the store. It is
// the only writer of the store.
type Poller struct {
	feed     Feed
	store    *market.Store
	interval time.Duration
	timeout  time.Duration
	sink     metrics.Sink
	logger   *slog.Logger
}

// NewPoller creates a poller. timeout bounds each Fetch.
func NewPoller(f Feed, store *market.Store, interval, timeout time.Duration, sink metrics.Sink, logger *slog.Logger) *Poller {
	if sink == nil {
		sink = metrics.Nop{}
	}
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Poller{
		feed:     f,
		store:    store,
		interval: interval,
		timeout:  timeout,
		sink:     sink,
		logger:   logger.With(slog.String("component", "feed_poller")),
	}
}

// Run polls immediately and then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("feed poller started", slog.Duration("interval", p.interval))
	defer p.logger.Info("feed poller stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("feed poller: poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce fetches and applies one update. Entries the store rejects as
// stale are dropped and the rest of the batch is applied; the stale entry
// itself never replaces newer data.
func (p *Poller) PollOnce(ctx context.Context) error {
	fctx, cancel := context.WithTimeout(ctx, p.timeout)
	u, err := p.feed.Fetch(fctx)
	cancel()
	if err != nil {
		p.sink.RefreshFailed("fetch")
		return err
	}

	// Each pass removes one entry, so the loop ends.
	for !u.Empty() {
		err := p.store.Refresh(u)
		if err == nil {
			return nil
		}
		var stale *domain.StaleDataError
		if !errors.As(err, &stale) {
			p.sink.RefreshFailed("invalid")
			return err
		}
		p.sink.RefreshFailed("stale")
		p.logger.Warn("feed poller: dropping stale entry",
			slog.String("kind", stale.Kind),
			slog.String("id", stale.ID),
			slog.Time("held", stale.Held),
			slog.Time("supplied", stale.Supplied),
		)
		u = without(u, stale.Kind, stale.ID)
	}
	return nil
}

func without(u market.Update, kind, id string) market.Update {
	var out market.Update
	for _, q := range u.Pairs {
		if kind == "pair" && q.ID() == id {
			continue
		}
		out.Pairs = append(out.Pairs, q)
	}
	for _, p := range u.Pools {
		if kind == "pool" && p.ID == id {
			continue
		}
		out.Pools = append(out.Pools, p)
	}
	return out
}
