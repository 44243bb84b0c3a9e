package metrics

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

func TestPrometheusSink(t *testing.T) {
	p := NewPrometheus("test", prometheus.NewRegistry())

	p.TradeFinished(domain.TradeExecution{State: domain.TxSucceeded, Shape: domain.ShapeDirect, Notional: 100, RealizedProfit: 0.4})
	p.TradeFinished(domain.TradeExecution{State: domain.TxFailed, FailureReason: domain.ReasonEconomicLoss, Shape: domain.ShapeDirect, Notional: 100, RealizedProfit: -2})
	p.Retry("x", 1)
	p.Retry("x", 1)
	p.GateRejected("confidence_too_low")
	p.SuccessRate(0.75)
	p.Profit(domain.PerformanceSnapshot{CumulativeProfit: decimal.NewFromFloat(-1.6), WinRate: 0.5, MaxDrawdown: decimal.NewFromInt(2)})
	p.RefreshFailed("stale")

	assert.Equal(t, 1.0, testutil.ToFloat64(p.TradesTotal.WithLabelValues("succeeded", "", "direct")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.TradesTotal.WithLabelValues("failed", "economic_loss", "direct")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.LegRetries.WithLabelValues("x", "1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.GateRejections.WithLabelValues("confidence_too_low")))
	assert.Equal(t, 0.75, testutil.ToFloat64(p.TxSuccessRate))
	assert.InDelta(t, -1.6, testutil.ToFloat64(p.CumulativeProfit), 1e-9)
	assert.Equal(t, 2.0, testutil.ToFloat64(p.MaxDrawdown))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.RefreshFailures.WithLabelValues("stale")))

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_monitor_success_rate 0.75")
}

type countingSink struct {
	Nop
	trades, rejects int
}

func (c *countingSink) TradeFinished(domain.TradeExecution) { c.trades++ }
func (c *countingSink) GateRejected(string) { c.rejects++ }

func TestMultiFansOut(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	m := Multi{a, b, NewLogSink(slog.New(slog.NewTextHandler(io.Discard, nil)))}
	m.TradeFinished(domain.TradeExecution{})
	m.GateRejected("x")
	m.Retry("v", 0)
	assert.Equal(t, 1, a.trades)
	assert.Equal(t, 1, b.rejects)
}
