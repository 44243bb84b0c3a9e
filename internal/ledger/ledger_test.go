package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

func TestEmptySnapshot(t *testing.T) {
	s := New().Snapshot()
	assert.True(t, s.CumulativeProfit.IsZero())
	assert.True(t, s.AverageProfit.IsZero())
	assert.Zero(t, s.WinRate)
	assert.Zero(t, s.Total())
}

func TestRecordOutcome(t *testing.T) {
	l := New()
	l.RecordOutcome(domain.TradeRequest{ID: "1"}, 4, true)
	l.RecordOutcome(domain.TradeRequest{ID: "2"}, 2, true)
	l.RecordOutcome(domain.TradeRequest{ID: "3"}, -5, false)
	l.RecordOutcome(domain.TradeRequest{ID: "4"}, 3, true)

	s := l.Snapshot()
	assert.True(t, s.CumulativeProfit.Equal(decimal.NewFromInt(4)), s.CumulativeProfit.String())
	assert.True(t, s.AverageProfit.Equal(decimal.NewFromInt(1)), s.AverageProfit.String())
	assert.Equal(t, int64(3), s.Successful)
	assert.Equal(t, int64(1), s.Failed)
	assert.InDelta(t, 0.75, s.WinRate, 1e-12)
	assert.True(t, s.PeakProfit.Equal(decimal.NewFromInt(6)))
	assert.True(t, s.MaxDrawdown.Equal(decimal.NewFromInt(5)))
	assert.False(t, s.UpdatedAt.IsZero())
}

func TestDecimalTotalsDoNotDrift(t *testing.T) {
	l := New()
	for i := 0; i < 1000; i++ {
		l.RecordOutcome(domain.TradeRequest{}, 0.1, true)
	}
	s := l.Snapshot()
	assert.True(t, s.CumulativeProfit.Equal(decimal.NewFromInt(100)), s.CumulativeProfit.String())
	assert.True(t, s.AverageProfit.Equal(decimal.RequireFromString("0.1")), s.AverageProfit.String())
}

func TestConcurrentRecording(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(win bool) {
			defer wg.Done()
			l.RecordOutcome(domain.TradeRequest{}, 1, win)
		}(i%2 == 0)
	}
	wg.Wait()
	s := l.Snapshot()
	assert.Equal(t, int64(100), s.Total())
	assert.InDelta(t, 0.5, s.WinRate, 1e-12)
	assert.True(t, s.CumulativeProfit.Equal(decimal.NewFromInt(100)))
}

func TestDailyProfitRollsOverAtUTCMidnight(t *testing.T) {
	clock := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	l := New()
	l.now = func() time.Time { return clock }

	l.SeedDaily(-20)
	l.RecordOutcome(domain.TradeRequest{ID: "1"}, -15, false)
	l.RecordOutcome(domain.TradeRequest{ID: "2"}, 5, true)
	assert.InDelta(t, -30, l.DailyProfit(), 1e-9)
	assert.True(t, l.Snapshot().DailyProfit.Equal(decimal.NewFromInt(-30)))

	clock = clock.Add(3 * time.Hour)
	assert.Zero(t, l.DailyProfit())
	l.RecordOutcome(domain.TradeRequest{ID: "3"}, 2, true)
	assert.InDelta(t, 2, l.DailyProfit(), 1e-9)
	assert.True(t, l.Snapshot().CumulativeProfit.Equal(decimal.NewFromInt(-8)), "seeded profit is not part of the cumulative total")
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	got := StartOfDay(time.Date(2026, 3, 2, 5, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), got)
}
