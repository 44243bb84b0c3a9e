// Package ledger aggregates realized trade outcomes.
package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Ledger keeps cumulative performance in constant memory. Totals use
// decimal arithmetic so long runs do not drift.
type Ledger struct {
	mu         sync.Mutex
	cumulative decimal.Decimal
	mean       decimal.Decimal
	peak       decimal.Decimal
	drawdown   decimal.Decimal
	day        time.Time // UTC midnight the daily total belongs to
	daily      decimal.Decimal
	successful int64
	failed     int64
	updatedAt  time.Time
	now        func() time.Time
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{now: time.Now}
}

// RecordOutcome folds one terminal trade into the totals. The mean is
// updated incrementally over every recorded trade, successful or not.
func (l *Ledger) RecordOutcome(req domain.TradeRequest, realizedProfit float64, succeeded bool) {
	p := decimal.NewFromFloat(realizedProfit)

	l.mu.Lock()
	defer l.mu.Unlock()

	if succeeded {
		l.successful++
	} else {
		l.failed++
	}
	n := decimal.NewFromInt(l.successful + l.failed)
	l.mean = l.mean.Add(p.Sub(l.mean).Div(n))
	l.cumulative = l.cumulative.Add(p)
	l.rollDay()
	l.daily = l.daily.Add(p)

	if l.cumulative.GreaterThan(l.peak) {
		l.peak = l.cumulative
	}
	if dd := l.peak.Sub(l.cumulative); dd.GreaterThan(l.drawdown) {
		l.drawdown = dd
	}
	l.updatedAt = l.now()
}

// SeedDaily adds profit realized earlier today, before this process
// started, to the daily total.
func (l *Ledger) SeedDaily(profit float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDay()
	l.daily = l.daily.Add(decimal.NewFromFloat(profit))
}

// DailyProfit is the profit realized since UTC midnight.
func (l *Ledger) DailyProfit() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDay()
	return l.daily.InexactFloat64()
}

// StartOfDay is the UTC midnight the daily total is counted from.
func StartOfDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

func (l *Ledger) rollDay() {
	if today := StartOfDay(l.now()); !today.Equal(l.day) {
		l.day = today
		l.daily = decimal.Zero
	}
}

// Snapshot returns a consistent copy of the totals.
func (l *Ledger) Snapshot() domain.PerformanceSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDay()

	var winRate float64
	if total := l.successful + l.failed; total > 0 {
		winRate = float64(l.successful) / float64(total)
	}
	return domain.PerformanceSnapshot{
		CumulativeProfit: l.cumulative,
		Successful:       l.successful,
		Failed:           l.failed,
		AverageProfit:    l.mean,
		WinRate:          winRate,
		PeakProfit:       l.peak,
		MaxDrawdown:      l.drawdown,
		DailyProfit:      l.daily,
		UpdatedAt:        l.updatedAt,
	}
}
