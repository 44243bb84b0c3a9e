package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TxState
		want     bool
	}{
		{TxPending, TxSubmitted, true},
		{TxSubmitted, TxConfirming, true},
		{TxSubmitted, TxRetrying, true},
		{TxConfirming, TxSucceeded, true},
		{TxConfirming, TxRetrying, true},
		{TxRetrying, TxSubmitted, true},
		{TxRetrying, TxFailed, true},
		{TxPending, TxSucceeded, false},
		{TxSubmitted, TxSucceeded, false},
		{TxSucceeded, TxFailed, false},
		{TxFailed, TxSubmitted, false},
		{TxRetrying, TxConfirming, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, TxSucceeded.Terminal())
	assert.True(t, TxFailed.Terminal())
	for _, s := range []TxState{TxPending, TxSubmitted, TxConfirming, TxRetrying} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestIsNonRecoverable(t *testing.T) {
	assert.False(t, IsNonRecoverable(nil))
	assert.False(t, IsNonRecoverable(errors.New("connection reset")))
	assert.False(t, IsNonRecoverable(context.DeadlineExceeded))
	assert.False(t, IsNonRecoverable(Recoverable("submit", errors.New("429"))))
	assert.True(t, IsNonRecoverable(NonRecoverable("submit", errors.New("bad request"))))
	assert.True(t, IsNonRecoverable(fmt.Errorf("venue: %w", ErrNonceConflict)))
	assert.True(t, IsNonRecoverable(ErrInsufficientLiquidity))
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	var err error = &StaleDataError{Kind: "pair", ID: "x:A/B", Held: time.Now(), Supplied: time.Now().Add(-time.Second)}
	assert.ErrorIs(t, err, ErrStaleData)

	err = fmt.Errorf("monitor: update: %w", &UnknownTransactionError{ID: "tx-1"})
	assert.ErrorIs(t, err, ErrUnknownTx)
	var ute *UnknownTransactionError
	require.ErrorAs(t, err, &ute)
	assert.Equal(t, "tx-1", ute.ID)
}

func TestPairQuoteValidate(t *testing.T) {
	now := time.Now()
	ok := PairQuote{Venue: "x", Base: "XRP", Quote: "USD", Bid: 0.99, Ask: 1.01, UpdatedAt: now}.Normalize()
	require.NoError(t, ok.Validate())
	assert.InDelta(t, 1.0, ok.Mid, 1e-12)

	crossed := ok
	crossed.Bid, crossed.Ask, crossed.Mid = 1.02, 1.01, 1.015
	assert.ErrorIs(t, crossed.Validate(), ErrInvalidQuote)

	noTime := ok
	noTime.UpdatedAt = time.Time{}
	assert.ErrorIs(t, noTime.Validate(), ErrInvalidQuote)
}

func TestPoolRate(t *testing.T) {
	p := Pool{ID: "p", AssetA: "ETH", AssetB: "USD", ReserveA: 10, ReserveB: 20000, UpdatedAt: time.Now()}
	require.NoError(t, p.Validate())
	assert.InDelta(t, 2000, p.Rate("ETH", "USD"), 1e-9)
	assert.InDelta(t, 0.0005, p.Rate("USD", "ETH"), 1e-12)
	assert.Zero(t, p.Rate("BTC", "USD"))
}

func TestCandidatePathValidate(t *testing.T) {
	p := CandidatePath{
		Confidence: 0.9,
		Legs: []Leg{
			{From: "USD", To: "XRP", Venue: "x"},
			{From: "XRP", To: "USD", Venue: "y"},
		},
	}
	require.NoError(t, p.Validate())
	assert.True(t, p.CrossVenue())
	assert.Equal(t, "USD", p.StartAsset())

	open := p
	open.Legs = []Leg{{From: "USD", To: "XRP"}, {From: "XRP", To: "EUR"}}
	assert.ErrorIs(t, open.Validate(), ErrInvalidPath)

	single := p
	single.Legs = p.Legs[:1]
	assert.ErrorIs(t, single.Validate(), ErrInvalidPath)
}

func TestCandidatePathStartingAt(t *testing.T) {
	p := CandidatePath{
		ID: "cycle",
		Legs: []Leg{
			{Ref: "1", From: "ETH", To: "USD"},
			{Ref: "2", From: "USD", To: "XRP"},
			{Ref: "3", From: "XRP", To: "ETH"},
		},
		ExpectedProfit: 0.01,
	}

	got, ok := p.StartingAt("USD")
	require.True(t, ok)
	assert.Equal(t, "USD", got.StartAsset())
	assert.Equal(t, []string{"2", "3", "1"}, []string{got.Legs[0].Ref, got.Legs[1].Ref, got.Legs[2].Ref})
	require.NoError(t, got.Validate())
	assert.Equal(t, "ETH", p.StartAsset(), "receiver is not modified")

	same, ok := p.StartingAt("ETH")
	require.True(t, ok)
	assert.Equal(t, p.Legs, same.Legs)

	_, ok = p.StartingAt("BTC")
	assert.False(t, ok)
}
