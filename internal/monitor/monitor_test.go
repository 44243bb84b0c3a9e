package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

type fakeArchive struct {
	mu   sync.Mutex
	recs []domain.TransactionRecord
	err  error
}

func (f *fakeArchive) ArchiveTransactions(_ context.Context, recs []domain.TransactionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.recs = append(f.recs, recs...)
	return nil
}

func newTestMonitor(archive domain.TransactionArchive) (*Monitor, *time.Time) {
	m := New(Config{Retention: time.Hour, FailureBurst: 3, HealthWindow: time.Hour},
		archive, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func succeed(t *testing.T, m *Monitor, id string) {
	t.Helper()
	require.NoError(t, m.Register(id, Meta{TradeID: "trade"}))
	require.NoError(t, m.Update(id, domain.TxConfirming, nil))
	require.NoError(t, m.Update(id, domain.TxSucceeded, nil))
}

func fail(t *testing.T, m *Monitor, id string) {
	t.Helper()
	require.NoError(t, m.Register(id, Meta{TradeID: "trade"}))
	require.NoError(t, m.Update(id, domain.TxFailed, errors.New("boom")))
}

func TestSuccessRate(t *testing.T) {
	m, _ := newTestMonitor(nil)
	assert.Zero(t, m.SuccessRate(), "no terminal transactions")

	succeed(t, m, "a")
	succeed(t, m, "b")
	succeed(t, m, "c")
	fail(t, m, "d")
	require.NoError(t, m.Register("pending", Meta{}))

	assert.InDelta(t, 0.75, m.SuccessRate(), 1e-12)
	assert.Equal(t, Counts{Active: 1, Succeeded: 3, Failed: 1}, m.Counts())
}

func TestRegisterDuplicate(t *testing.T) {
	m, _ := newTestMonitor(nil)
	require.NoError(t, m.Register("a", Meta{}))
	assert.ErrorIs(t, m.Register("a", Meta{}), domain.ErrAlreadyExists)
}

func TestUpdateUnknown(t *testing.T) {
	m, _ := newTestMonitor(nil)
	err := m.Update("ghost", domain.TxConfirming, nil)
	var ute *domain.UnknownTransactionError
	require.ErrorAs(t, err, &ute)
	assert.Equal(t, "ghost", ute.ID)
}

func TestTerminalRecordRejectsUpdates(t *testing.T) {
	m, _ := newTestMonitor(nil)
	succeed(t, m, "a")

	err := m.Update("a", domain.TxFailed, nil)
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
	rec, err := m.Get("a")
	require.NoError(t, err)
	assert.Equal(t, domain.TxSucceeded, rec.State)
	assert.Equal(t, int64(1), m.Counts().Succeeded, "counted exactly once")
	assert.Zero(t, m.Counts().Failed)
}

func TestInvalidTransition(t *testing.T) {
	m, _ := newTestMonitor(nil)
	require.NoError(t, m.Register("a", Meta{}))
	assert.ErrorIs(t, m.Update("a", domain.TxSucceeded, nil), domain.ErrInvalidTransition)
	assert.ErrorIs(t, m.Update("a", domain.TxPending, nil), domain.ErrInvalidTransition)
}

func TestRetryingIncrementsCount(t *testing.T) {
	m, _ := newTestMonitor(nil)
	require.NoError(t, m.Register("a", Meta{TradeID: "t", LegIndex: 1}))
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Update("a", domain.TxRetrying, fmt.Errorf("timeout %d", i)))
		require.NoError(t, m.Update("a", domain.TxSubmitted, nil))
	}
	rec, err := m.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.RetryCount)
	assert.Equal(t, "timeout 2", rec.LastError)
	assert.Equal(t, []domain.TransactionRecord{rec}, m.ListByTrade("t"))
}

func TestConcurrentUpdatesCountOnce(t *testing.T) {
	m, _ := newTestMonitor(nil)
	const n = 64
	for i := 0; i < n; i++ {
		require.NoError(t, m.Register(fmt.Sprint(i), Meta{}))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := fmt.Sprint(i)
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = m.Update(id, domain.TxFailed, nil)
			}()
		}
	}
	wg.Wait()
	assert.Equal(t, int64(n), m.Counts().Failed)
}

func TestEvictArchivesExpiredTerminalRecords(t *testing.T) {
	arch := &fakeArchive{}
	m, now := newTestMonitor(arch)
	succeed(t, m, "old")
	require.NoError(t, m.Register("open", Meta{}))

	*now = now.Add(2 * time.Hour)
	succeed(t, m, "recent")

	n, err := m.Evict(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, arch.recs, 1)
	assert.Equal(t, "old", arch.recs[0].ID)

	_, err = m.Get("old")
	assert.ErrorIs(t, err, domain.ErrUnknownTx)
	_, err = m.Get("open")
	assert.NoError(t, err)
	assert.InDelta(t, 1.0, m.SuccessRate(), 1e-12, "eviction keeps cumulative counts")
}

func TestEvictKeepsRecordsWhenArchiveFails(t *testing.T) {
	arch := &fakeArchive{err: errors.New("s3 down")}
	m, now := newTestMonitor(arch)
	succeed(t, m, "old")
	*now = now.Add(2 * time.Hour)

	_, err := m.Evict(context.Background())
	require.Error(t, err)
	_, err = m.Get("old")
	assert.NoError(t, err)
}

func TestHealthDegradesOnFailureBurst(t *testing.T) {
	m, now := newTestMonitor(nil)
	fail(t, m, "a")
	fail(t, m, "b")
	assert.False(t, m.Health().Degraded)
	fail(t, m, "c")
	h := m.Health()
	assert.True(t, h.Degraded)
	assert.Equal(t, 3, h.RecentFailures)

	*now = now.Add(2 * time.Hour)
	assert.False(t, m.Health().Degraded, "failures age out of the window")
}
