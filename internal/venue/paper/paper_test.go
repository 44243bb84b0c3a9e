package paper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/executor"
	"github.com/alanyoungcy/arbengine/internal/market"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededStore(t *testing.T) *market.Store {
	t.Helper()
	s := market.NewStore(0, discardLogger())
	now := time.Now()
	require.NoError(t, s.Refresh(market.Update{
		Pairs: []domain.PairQuote{
			{Venue: "x", Base: "XRP", Quote: "USD", Bid: 0.99, Ask: 1.00, FeeRate: 0.001, UpdatedAt: now},
		},
		Pools: []domain.Pool{
			{ID: "amm-1", Venue: "amm", AssetA: "ETH", AssetB: "USD", ReserveA: 100, ReserveB: 200000, FeeRate: 0.003, UpdatedAt: now},
		},
	}))
	return s
}

func buyLeg() domain.Leg {
	return domain.Leg{Kind: domain.LegKindPair, Ref: "x:XRP/USD", Venue: "x", From: "USD", To: "XRP", Direction: domain.DirectionBuy, Rate: 1}
}

func TestSubmitFillsAtAsk(t *testing.T) {
	v := New(seededStore(t), Config{PendingPolls: 1}, discardLogger())
	ctx := context.Background()

	rcpt, err := v.Submit(ctx, executor.SubmitRequest{Account: "a", Leg: buyLeg(), Amount: 1000, IdempotencyKey: "a:1:0"})
	require.NoError(t, err)

	fin, err := v.PollFinality(ctx, rcpt)
	require.NoError(t, err)
	assert.False(t, fin.Done, "first poll is pending")

	fin, err = v.PollFinality(ctx, rcpt)
	require.NoError(t, err)
	assert.True(t, fin.Done)
	assert.True(t, fin.Accepted)
	assert.InDelta(t, 999.0, fin.AmountOut, 1e-9)
	assert.InDelta(t, 1.0, fin.Fee, 1e-9)
	assert.InDelta(t, 1.0, fin.FilledRate, 1e-12)
}

func TestSubmitIsIdempotent(t *testing.T) {
	v := New(seededStore(t), Config{}, discardLogger())
	req := executor.SubmitRequest{Account: "a", Leg: buyLeg(), Amount: 10, IdempotencyKey: "a:1:0"}

	r1, err := v.Submit(context.Background(), req)
	require.NoError(t, err)
	req.Attempt = 1
	r2, err := v.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, r1.ID, r2.ID)
}

func TestSimulatedFailureIsRecoverable(t *testing.T) {
	v := New(seededStore(t), Config{FailureRate: 1}, discardLogger())
	_, err := v.Submit(context.Background(), executor.SubmitRequest{Leg: buyLeg(), Amount: 10, IdempotencyKey: "k"})
	require.Error(t, err)
	assert.False(t, domain.IsNonRecoverable(err))
}

func TestUnknownInstrumentIsNonRecoverable(t *testing.T) {
	v := New(seededStore(t), Config{}, discardLogger())
	leg := buyLeg()
	leg.Ref = "y:XRP/USD"
	_, err := v.Submit(context.Background(), executor.SubmitRequest{Leg: leg, Amount: 10, IdempotencyKey: "k"})
	require.Error(t, err)
	assert.True(t, domain.IsNonRecoverable(err))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBalancesEnforced(t *testing.T) {
	v := New(seededStore(t), Config{}, discardLogger())
	v.Fund("a", "USD", 500)

	_, err := v.Submit(context.Background(), executor.SubmitRequest{Account: "a", Leg: buyLeg(), Amount: 1000, IdempotencyKey: "k1"})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.True(t, domain.IsNonRecoverable(err))

	_, err = v.Submit(context.Background(), executor.SubmitRequest{Account: "a", Leg: buyLeg(), Amount: 100, IdempotencyKey: "k2"})
	require.NoError(t, err)
	assert.InDelta(t, 400.0, v.Balance("a", "USD"), 1e-9)
	assert.InDelta(t, 99.9, v.Balance("a", "XRP"), 1e-9)
}

func TestReverseSellsBackAtBid(t *testing.T) {
	v := New(seededStore(t), Config{}, discardLogger())
	ctx := context.Background()
	rcpt, err := v.Submit(ctx, executor.SubmitRequest{Account: "a", Leg: buyLeg(), Amount: 1000, IdempotencyKey: "k"})
	require.NoError(t, err)

	out, err := v.Reverse(ctx, executor.ReverseRequest{Account: "a", ReceiptID: rcpt.ID, Leg: buyLeg(), Amount: 999})
	require.NoError(t, err)
	assert.InDelta(t, 999*0.99*0.999, out, 1e-9)

	_, err = v.Reverse(ctx, executor.ReverseRequest{ReceiptID: "missing", Leg: buyLeg(), Amount: 1})
	assert.True(t, domain.IsNonRecoverable(err))
}

func TestPoolSwap(t *testing.T) {
	v := New(seededStore(t), Config{}, discardLogger())
	leg := domain.Leg{Kind: domain.LegKindPool, Ref: "amm-1", Venue: "amm", From: "ETH", To: "USD", Direction: domain.DirectionSwap}

	rcpt, err := v.Submit(context.Background(), executor.SubmitRequest{Leg: leg, Amount: 1, IdempotencyKey: "k"})
	require.NoError(t, err)
	fin, err := v.PollFinality(context.Background(), rcpt)
	require.NoError(t, err)

	in := 1 * (1 - 0.003)
	assert.InDelta(t, 200000*in/(100+in), fin.AmountOut, 1e-6)
}
