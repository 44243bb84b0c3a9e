// Package market holds the engine's view of pair quotes and liquidity pools.
//
// Readers get immutable Snapshot values; each successful Refresh publishes a
// new generation. A reader therefore never sees half of one refresh.
package market

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// DefaultHistoryDepth is the number of mid prices kept per pair.
const DefaultHistoryDepth = 64

// Update is one batch of source data applied atomically by Refresh.
type Update struct {
	Pairs []domain.PairQuote
	Pools []domain.Pool
}

// Empty reports whether the update carries nothing.
func (u Update) Empty() bool {
	return len(u.Pairs) == 0 && len(u.Pools) == 0
}

// Store is the single writer of market snapshots.
type Store struct {
	mu           sync.Mutex // serialises Refresh
	current      atomic.Pointer[Snapshot]
	historyDepth int
	logger       *slog.Logger
}

// NewStore creates an empty store. historyDepth <= 0 selects the default.
func NewStore(historyDepth int, logger *slog.Logger) *Store {
	if historyDepth <= 0 {
		historyDepth = DefaultHistoryDepth
	}
	s := &Store{
		historyDepth: historyDepth,
		logger:       logger.With(slog.String("component", "market_store")),
	}
	s.current.Store(emptySnapshot())
	return s
}

// Snapshot returns the latest published generation.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Refresh validates the batch and publishes it as a new generation. If any
// entry is malformed or older than the entry already held, nothing is
// applied and the previous generation stays current.
func (s *Store) Refresh(u Update) error {
	if u.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	next := prev.clone()
	next.Generation = prev.Generation + 1
	next.TakenAt = time.Now()

	touched := make(map[string]bool, len(u.Pairs))
	for _, q := range u.Pairs {
		q = q.Normalize()
		if err := q.Validate(); err != nil {
			return fmt.Errorf("market: refresh: %w", err)
		}
		id := q.ID()
		if held, ok := next.pairs[id]; ok && q.UpdatedAt.Before(held.UpdatedAt) {
			return fmt.Errorf("market: refresh: %w", &domain.StaleDataError{
				Kind: "pair", ID: id, Held: held.UpdatedAt, Supplied: q.UpdatedAt,
			})
		}
		next.pairs[id] = q
		touched[id] = true
	}

	for _, p := range u.Pools {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("market: refresh: %w", err)
		}
		if held, ok := next.pools[p.ID]; ok && p.UpdatedAt.Before(held.UpdatedAt) {
			return fmt.Errorf("market: refresh: %w", &domain.StaleDataError{
				Kind: "pool", ID: p.ID, Held: held.UpdatedAt, Supplied: p.UpdatedAt,
			})
		}
		next.pools[p.ID] = p
	}

	// History slices are shared with older generations, so appends always
	// copy into a fresh backing array.
	for id := range touched {
		old := next.history[id]
		start := 0
		if len(old) >= s.historyDepth {
			start = len(old) - s.historyDepth + 1
		}
		h := make([]float64, 0, len(old)-start+1)
		h = append(h, old[start:]...)
		h = append(h, next.pairs[id].Mid)
		next.history[id] = h
	}

	s.current.Store(next)
	s.logger.Debug("market: refreshed",
		slog.Uint64("generation", next.Generation),
		slog.Int("pairs", len(u.Pairs)),
		slog.Int("pools", len(u.Pools)),
	)
	return nil
}

// TopPools returns up to n pools from the current generation, deepest first.
func (s *Store) TopPools(n int) []domain.Pool {
	return s.Snapshot().TopPools(n)
}

// TopPairs returns up to n pairs from the current generation by 24h volume.
func (s *Store) TopPairs(n int) []domain.PairQuote {
	return s.Snapshot().TopPairs(n)
}

// Correlation is Pearson correlation of mid-price history for two pairs,
// both read from the current generation.
func (s *Store) Correlation(a, b string) float64 {
	return s.Snapshot().Correlation(a, b)
}
