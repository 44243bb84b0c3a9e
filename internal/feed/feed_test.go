package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/market"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pairFrame(venue string, bid, ask float64, at time.Time) PairFrame {
	return PairFrame{Venue: venue, Base: "XRP", Quote: "USD", Bid: bid, Ask: ask, FeeRate: 0.001, Timestamp: at}
}

type scriptedFeed struct {
	updates []market.Update
	err     error
}

func (f *scriptedFeed) Fetch(context.Context) (market.Update, error) {
	if f.err != nil {
		return market.Update{}, f.err
	}
	if len(f.updates) == 0 {
		return market.Update{}, nil
	}
	u := f.updates[0]
	f.updates = f.updates[1:]
	return u, nil
}

type countingSink struct {
	mu      sync.Mutex
	reasons []string
}

func (s *countingSink) TradeFinished(domain.TradeExecution) {}
func (s *countingSink) Retry(string, int) {}
func (s *countingSink) GateRejected(string) {}
func (s *countingSink) SuccessRate(float64) {}
func (s *countingSink) Profit(domain.PerformanceSnapshot) {}
func (s *countingSink) RefreshFailed(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, reason)
}

func TestFrameUpdate(t *testing.T) {
	now := time.Now()
	fr := Frame{
		Pairs: []PairFrame{pairFrame("x", 0.99, 1.0, now)},
		Pools: []PoolFrame{{ID: "p1", Venue: "amm", AssetA: "ETH", AssetB: "USD", ReserveA: 10, ReserveB: 20000, FeeRate: 0.003, Timestamp: now}},
	}
	u := fr.Update()
	require.Len(t, u.Pairs, 1)
	require.Len(t, u.Pools, 1)
	assert.Equal(t, "x:XRP/USD", u.Pairs[0].ID())
	assert.Equal(t, now, u.Pairs[0].UpdatedAt)
	assert.Equal(t, 20000.0, u.Pools[0].ReserveB)
}

func TestBufferKeepsNewestPerID(t *testing.T) {
	b := newBuffer()
	now := time.Now()
	b.add(Frame{Pairs: []PairFrame{pairFrame("x", 0.99, 1.0, now)}}.Update())
	b.add(Frame{Pairs: []PairFrame{pairFrame("x", 0.50, 0.6, now.Add(-time.Second))}}.Update())
	b.add(Frame{Pairs: []PairFrame{pairFrame("y", 1.0, 1.1, now)}}.Update())

	u := b.drain()
	require.Len(t, u.Pairs, 2)
	for _, q := range u.Pairs {
		if q.Venue == "x" {
			assert.Equal(t, 0.99, q.Bid)
		}
	}
	assert.True(t, b.drain().Empty())
}

func TestPollerDropsStaleEntries(t *testing.T) {
	store := market.NewStore(0, discardLogger())
	now := time.Now()
	require.NoError(t, store.Refresh(Frame{Pairs: []PairFrame{pairFrame("x", 0.99, 1.0, now)}}.Update()))

	f := &scriptedFeed{updates: []market.Update{
		Frame{Pairs: []PairFrame{
			pairFrame("x", 0.5, 0.6, now.Add(-time.Minute)),
			pairFrame("y", 1.006, 1.01, now),
		}}.Update(),
	}}
	sink := &countingSink{}
	p := NewPoller(f, store, time.Second, 0, sink, discardLogger())

	require.NoError(t, p.PollOnce(context.Background()))

	snap := store.Snapshot()
	x, ok := snap.Pair("x:XRP/USD")
	require.True(t, ok)
	assert.Equal(t, 0.99, x.Bid)
	_, ok = snap.Pair("y:XRP/USD")
	assert.True(t, ok)
	assert.Equal(t, []string{"stale"}, sink.reasons)
}

func TestPollerRejectsInvalidBatch(t *testing.T) {
	store := market.NewStore(0, discardLogger())
	f := &scriptedFeed{updates: []market.Update{
		Frame{Pairs: []PairFrame{pairFrame("x", 1.1, 1.0, time.Now())}}.Update(),
	}}
	sink := &countingSink{}
	p := NewPoller(f, store, time.Second, 0, sink, discardLogger())

	err := p.PollOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidQuote)
	assert.Equal(t, uint64(0), store.Snapshot().Generation)
	assert.Equal(t, []string{"invalid"}, sink.reasons)
}

func TestPollerCountsFetchErrors(t *testing.T) {
	store := market.NewStore(0, discardLogger())
	sink := &countingSink{}
	p := NewPoller(&scriptedFeed{err: errors.New("boom")}, store, time.Second, 0, sink, discardLogger())

	require.Error(t, p.PollOnce(context.Background()))
	assert.Equal(t, []string{"fetch"}, sink.reasons)
}

func TestStaticFeedRestamps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.json")
	fr := Frame{Pairs: []PairFrame{pairFrame("x", 0.99, 1.0, time.Unix(0, 0))}}
	data, err := json.Marshal(fr)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	f, err := LoadStaticFeed(path)
	require.NoError(t, err)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.now = func() time.Time { return fixed }

	u, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, u.Pairs, 1)
	assert.Equal(t, fixed, u.Pairs[0].UpdatedAt)
	assert.Equal(t, 0.99, u.Pairs[0].Bid)
}

func TestStaticFeedJitterStaysBounded(t *testing.T) {
	f := NewStaticFeed(Frame{Pairs: []PairFrame{pairFrame("x", 1.0, 1.0, time.Now())}})
	f.Jitter = 0.01
	for range 50 {
		u, err := f.Fetch(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 1.0, u.Pairs[0].Bid, 0.01)
		assert.Equal(t, u.Pairs[0].Bid, u.Pairs[0].Ask)
	}
}

func TestLoadStaticFeedMissingFile(t *testing.T) {
	_, err := LoadStaticFeed(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

type memBus struct {
	ch chan []byte
}

func (b *memBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func (b *memBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestBusFeedBuffersFrames(t *testing.T) {
	bus := &memBus{ch: make(chan []byte, 4)}
	f := NewBusFeed(bus, "", discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.NoError(t, Publish(ctx, bus, "", Frame{Pairs: []PairFrame{pairFrame("x", 0.99, 1.0, time.Now())}}))
	bus.ch <- []byte("not json")

	require.Eventually(t, func() bool {
		f.buf.mu.Lock()
		defer f.buf.mu.Unlock()
		return len(f.buf.pairs) == 1
	}, time.Second, 5*time.Millisecond)

	u, err := f.Fetch(ctx)
	require.NoError(t, err)
	assert.Len(t, u.Pairs, 1)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWSFeedReceivesFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(msg)
		data, _ := json.Marshal(Frame{Pairs: []PairFrame{pairFrame("x", 0.99, 1.0, time.Now())}})
		_ = conn.WriteMessage(websocket.TextMessage, data)
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := NewWSFeed(url, []byte(`{"subscribe":"all"}`), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case msg := <-subscribed:
		assert.Equal(t, `{"subscribe":"all"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe message")
	}

	var u market.Update
	require.Eventually(t, func() bool {
		got, _ := f.Fetch(ctx)
		if !got.Empty() {
			u = got
			return true
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	require.Len(t, u.Pairs, 1)
	assert.Equal(t, "x:XRP/USD", u.Pairs[0].ID())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ws feed did not stop")
	}
}
