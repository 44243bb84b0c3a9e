package market

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quote(venue string, bid, ask float64, at time.Time) domain.PairQuote {
	return domain.PairQuote{Venue: venue, Base: "XRP", Quote: "USD", Bid: bid, Ask: ask, FeeRate: 0.001, UpdatedAt: at}
}

func TestRefreshPublishesValidQuotes(t *testing.T) {
	s := NewStore(0, discardLogger())
	now := time.Now()

	require.NoError(t, s.Refresh(Update{Pairs: []domain.PairQuote{
		quote("x", 0.99, 1.00, now),
		quote("y", 1.006, 1.01, now),
	}}))

	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.Generation)
	for _, q := range snap.Pairs() {
		assert.LessOrEqual(t, q.Bid, q.Mid)
		assert.LessOrEqual(t, q.Mid, q.Ask)
	}
	q, ok := snap.Pair("x:XRP/USD")
	require.True(t, ok)
	assert.InDelta(t, 0.995, q.Mid, 1e-12)
}

func TestRefreshRejectsStaleAndKeepsPriorData(t *testing.T) {
	s := NewStore(0, discardLogger())
	now := time.Now()
	require.NoError(t, s.Refresh(Update{Pairs: []domain.PairQuote{quote("x", 0.99, 1.00, now)}}))
	before := s.Snapshot()

	err := s.Refresh(Update{Pairs: []domain.PairQuote{
		quote("y", 1.0, 1.02, now),
		quote("x", 0.5, 0.6, now.Add(-time.Second)),
	}})
	require.Error(t, err)
	var stale *domain.StaleDataError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "x:XRP/USD", stale.ID)

	after := s.Snapshot()
	assert.Same(t, before, after)
	_, ok := after.Pair("y:XRP/USD")
	assert.False(t, ok, "partial batch must not be applied")
	q, _ := after.Pair("x:XRP/USD")
	assert.Equal(t, 0.99, q.Bid)
}

func TestRefreshRejectsCrossedBook(t *testing.T) {
	s := NewStore(0, discardLogger())
	bad := quote("x", 1.01, 1.00, time.Now())
	bad.Mid = 1.005
	err := s.Refresh(Update{Pairs: []domain.PairQuote{bad}})
	assert.ErrorIs(t, err, domain.ErrInvalidQuote)
	assert.Equal(t, uint64(0), s.Snapshot().Generation)
}

func TestTopPoolsOrderedByLiquidity(t *testing.T) {
	s := NewStore(0, discardLogger())
	now := time.Now()
	require.NoError(t, s.Refresh(Update{Pools: []domain.Pool{
		{ID: "small", AssetA: "ETH", AssetB: "USD", ReserveA: 1, ReserveB: 2000, UpdatedAt: now},
		{ID: "big", AssetA: "ETH", AssetB: "USD", ReserveA: 100, ReserveB: 200000, UpdatedAt: now},
		{ID: "mid", AssetA: "ETH", AssetB: "USD", ReserveA: 10, ReserveB: 20000, UpdatedAt: now},
	}}))

	top := s.TopPools(2)
	require.Len(t, top, 2)
	assert.Equal(t, "big", top[0].ID)
	assert.Equal(t, "mid", top[1].ID)
	assert.Len(t, s.TopPools(10), 3)
}

func TestTopPairsOrderedByVolume(t *testing.T) {
	s := NewStore(0, discardLogger())
	now := time.Now()
	a := quote("a", 1, 1.01, now)
	a.Volume24h = 10
	b := quote("b", 1, 1.01, now)
	b.Volume24h = 500
	require.NoError(t, s.Refresh(Update{Pairs: []domain.PairQuote{a, b}}))
	top := s.TopPairs(1)
	require.Len(t, top, 1)
	assert.Equal(t, "b", top[0].Venue)
}

func TestCorrelation(t *testing.T) {
	s := NewStore(8, discardLogger())
	start := time.Now()
	for i := 0; i < 10; i++ {
		at := start.Add(time.Duration(i) * time.Second)
		p := 1 + float64(i)*0.01
		require.NoError(t, s.Refresh(Update{Pairs: []domain.PairQuote{
			{Venue: "x", Base: "A", Quote: "USD", Bid: p, Ask: p + 0.01, UpdatedAt: at},
			{Venue: "x", Base: "B", Quote: "USD", Bid: 2 * p, Ask: 2*p + 0.02, UpdatedAt: at},
			{Venue: "x", Base: "C", Quote: "USD", Bid: 3 - p, Ask: 3 - p + 0.01, UpdatedAt: at},
		}}))
	}

	assert.Len(t, s.Snapshot().History("x:A/USD"), 8)
	assert.Equal(t, 1.0, s.Correlation("x:A/USD", "x:A/USD"))
	assert.InDelta(t, 1.0, s.Correlation("x:A/USD", "x:B/USD"), 1e-9)
	assert.InDelta(t, -1.0, s.Correlation("x:A/USD", "x:C/USD"), 1e-9)
	assert.Zero(t, s.Correlation("x:A/USD", "missing"))
}

func TestPriceImpact(t *testing.T) {
	s := NewStore(0, discardLogger())
	require.NoError(t, s.Refresh(Update{Pools: []domain.Pool{
		{ID: "p", AssetA: "ETH", AssetB: "USD", ReserveA: 100, ReserveB: 200000, UpdatedAt: time.Now()},
	}}))
	snap := s.Snapshot()

	small, err := snap.PriceImpact("p", "ETH", 0.1)
	require.NoError(t, err)
	large, err := snap.PriceImpact("p", "ETH", 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.1/100.1, small, 1e-9)
	assert.Greater(t, large, small)

	_, err = snap.PriceImpact("nope", "ETH", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReadersNeverSeeTornGenerations(t *testing.T) {
	s := NewStore(0, discardLogger())
	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 200; i++ {
			at := start.Add(time.Duration(i) * time.Millisecond)
			p := float64(i)
			_ = s.Refresh(Update{Pairs: []domain.PairQuote{
				{Venue: "x", Base: "A", Quote: "USD", Bid: p, Ask: p + 1, UpdatedAt: at},
				{Venue: "y", Base: "A", Quote: "USD", Bid: p, Ask: p + 1, UpdatedAt: at},
			}})
		}
	}()

	for i := 0; i < 200; i++ {
		snap := s.Snapshot()
		x, okx := snap.Pair("x:A/USD")
		y, oky := snap.Pair("y:A/USD")
		require.Equal(t, okx, oky)
		assert.Equal(t, x.Bid, y.Bid, "generation %d mixed two refreshes", snap.Generation)
	}
	wg.Wait()
}
