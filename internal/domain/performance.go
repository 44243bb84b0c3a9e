package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PerformanceSnapshot is a point-in-time copy of the ledger.
type PerformanceSnapshot struct {
	CumulativeProfit decimal.Decimal `json:"cumulative_profit"`
	Successful       int64           `json:"successful"`
	Failed           int64           `json:"failed"`
	AverageProfit    decimal.Decimal `json:"average_profit"`
	WinRate          float64         `json:"win_rate"`
	PeakProfit       decimal.Decimal `json:"peak_profit"`
	MaxDrawdown      decimal.Decimal `json:"max_drawdown"`
	DailyProfit      decimal.Decimal `json:"daily_profit"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Total is the number of trades recorded.
func (s PerformanceSnapshot) Total() int64 {
	return s.Successful + s.Failed
}
