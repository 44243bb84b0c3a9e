package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// setupTestDB starts a disposable PostgreSQL container and applies the
// embedded migrations.
func setupTestDB(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("arbengine"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	require.NoError(t, client.RunMigrations(ctx))
	require.NoError(t, client.RunMigrations(ctx), "migrations must be idempotent")
	return client
}

func sampleTrade(id string, started time.Time, state domain.TxState, profit float64) domain.TradeExecution {
	done := started.Add(2 * time.Second)
	return domain.TradeExecution{
		ID:             id,
		Account:        "acct-1",
		Nonce:          7,
		Shape:          domain.ShapeDirect,
		Scorer:         "heuristic",
		Notional:       1000,
		ExpectedProfit: 0.004,
		RealizedProfit: profit,
		State:          state,
		StartedAt:      started,
		CompletedAt:    &done,
		Legs: []domain.LegExecution{
			{Index: 0, Venue: "x", Ref: "x:XRP/USD", From: "USD", To: "XRP",
				Direction: domain.DirectionBuy, AmountIn: 1000, AmountOut: 999, State: domain.TxSucceeded},
			{Index: 1, Venue: "y", Ref: "y:XRP/USD", From: "XRP", To: "USD",
				Direction: domain.DirectionSell, AmountIn: 999, AmountOut: 1004, State: state,
				Compensation: domain.CompensationNone},
		},
	}
}

func TestTradeStore(t *testing.T) {
	client := setupTestDB(t)
	ctx := context.Background()
	store := NewTradeStore(client.Pool())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(ctx, sampleTrade("t1", base, domain.TxSucceeded, 4)))
	stranded := sampleTrade("t2", base.Add(time.Minute), domain.TxFailed, -1)
	stranded.OpenAsset, stranded.OpenAmount = "XRP", 999
	require.NoError(t, store.Create(ctx, stranded))
	require.NoError(t, store.Create(ctx, sampleTrade("t3", base.Add(2*time.Minute), domain.TxSucceeded, 2.5)))

	err := store.Create(ctx, sampleTrade("t1", base, domain.TxSucceeded, 4))
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	got, err := store.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.Nonce)
	assert.Equal(t, domain.ShapeDirect, got.Shape)
	require.Len(t, got.Legs, 2)
	assert.Equal(t, "XRP", got.Legs[0].To)
	assert.Equal(t, domain.DirectionSell, got.Legs[1].Direction)

	_, err = store.GetByID(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	recent, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "t3", recent[0].ID)
	assert.Equal(t, "t2", recent[1].ID)
	assert.Len(t, recent[1].Legs, 2)
	assert.Equal(t, "XRP", recent[1].OpenAsset)
	assert.InDelta(t, 999, recent[1].OpenAmount, 1e-9)

	total, err := store.SumProfit(ctx, base)
	require.NoError(t, err)
	assert.InDelta(t, 5.5, total, 1e-9, "losses count against the total")

	total, err = store.SumProfit(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.InDelta(t, 2.5, total, 1e-9)
}

func TestAuditStore(t *testing.T) {
	client := setupTestDB(t)
	ctx := context.Background()
	store := NewAuditStore(client.Pool())

	require.NoError(t, store.Log(ctx, "config_reloaded", map[string]any{"confidence_floor": 0.8}))
	require.NoError(t, store.Log(ctx, "gate_rejected", map[string]any{"reason": "confidence_too_low"}))

	entries, err := store.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	events := []string{entries[0].Event, entries[1].Event}
	assert.ElementsMatch(t, []string{"config_reloaded", "gate_rejected"}, events)
}

func TestTransactionStore(t *testing.T) {
	client := setupTestDB(t)
	ctx := context.Background()
	store := NewTransactionStore(client.Pool())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	term := now.Add(time.Second)
	recs := []domain.TransactionRecord{
		{ID: "tx-1", TradeID: "t1", LegIndex: 1, Venue: "y", State: domain.TxFailed,
			SubmittedAt: now, UpdatedAt: term, TerminalAt: &term, RetryCount: 2, LastError: "timeout"},
		{ID: "tx-0", TradeID: "t1", LegIndex: 0, Venue: "x", State: domain.TxSucceeded,
			SubmittedAt: now, UpdatedAt: term, TerminalAt: &term, Labels: map[string]string{"path": "p1"}},
	}
	require.NoError(t, store.ArchiveTransactions(ctx, recs))
	require.NoError(t, store.ArchiveTransactions(ctx, recs[:1]), "re-archiving overwrites")

	got, err := store.Get(ctx, "tx-0")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.Labels["path"])
	require.NotNil(t, got.TerminalAt)

	legs, err := store.ListByTrade(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.Equal(t, "tx-0", legs[0].ID)
	assert.Equal(t, 2, legs[1].RetryCount)
	assert.Nil(t, legs[1].Labels)

	_, err = store.Get(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/arb?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "arb", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
}
