// Package metrics publishes engine outcomes to monitoring backends.
package metrics

import (
	"log/slog"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Sink receives engine events. Implementations must be safe for concurrent
// use and must not block.
type Sink interface {
	TradeFinished(exec domain.TradeExecution)
	Retry(venue string, legIndex int)
	GateRejected(reason string)
	SuccessRate(rate float64)
	Profit(snap domain.PerformanceSnapshot)
	RefreshFailed(reason string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) TradeFinished(domain.TradeExecution) {}
func (Nop) Retry(string, int) {}
func (Nop) GateRejected(string) {}
func (Nop) SuccessRate(float64) {}
func (Nop) Profit(domain.PerformanceSnapshot) {}
func (Nop) RefreshFailed(string) {}

// Multi fans every event out to each sink in order.
type Multi []Sink

func (m Multi) TradeFinished(exec domain.TradeExecution) {
	for _, s := range m {
		s.TradeFinished(exec)
	}
}

func (m Multi) Retry(venue string, legIndex int) {
	for _, s := range m {
		s.Retry(venue, legIndex)
	}
}

func (m Multi) GateRejected(reason string) {
	for _, s := range m {
		s.GateRejected(reason)
	}
}

func (m Multi) SuccessRate(rate float64) {
	for _, s := range m {
		s.SuccessRate(rate)
	}
}

func (m Multi) Profit(snap domain.PerformanceSnapshot) {
	for _, s := range m {
		s.Profit(snap)
	}
}

func (m Multi) RefreshFailed(reason string) {
	for _, s := range m {
		s.RefreshFailed(reason)
	}
}

// LogSink writes trade outcomes to a structured logger. High-frequency
// events are logged at debug.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "metrics"))}
}

func (l *LogSink) TradeFinished(exec domain.TradeExecution) {
	l.logger.Info("metrics: trade finished",
		slog.String("trade_id", exec.ID),
		slog.String("state", string(exec.State)),
		slog.String("reason", string(exec.FailureReason)),
		slog.String("shape", string(exec.Shape)),
		slog.Float64("expected_profit", exec.ExpectedProfit),
		slog.Float64("realized_profit", exec.RealizedProfit),
	)
}

func (l *LogSink) Retry(venue string, legIndex int) {
	l.logger.Debug("metrics: leg retry", slog.String("venue", venue), slog.Int("leg", legIndex))
}

func (l *LogSink) GateRejected(reason string) {
	l.logger.Debug("metrics: gate rejected", slog.String("reason", reason))
}

func (l *LogSink) SuccessRate(rate float64) {
	l.logger.Debug("metrics: success rate", slog.Float64("rate", rate))
}

func (l *LogSink) Profit(snap domain.PerformanceSnapshot) {
	l.logger.Debug("metrics: performance",
		slog.String("cumulative_profit", snap.CumulativeProfit.String()),
		slog.Float64("win_rate", snap.WinRate),
	)
}

func (l *LogSink) RefreshFailed(reason string) {
	l.logger.Debug("metrics: refresh failed", slog.String("reason", reason))
}

var (
	_ Sink = Nop{}
	_ Sink = Multi(nil)
	_ Sink = (*LogSink)(nil)
)
