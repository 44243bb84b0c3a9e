package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Prometheus exposes engine metrics for scraping.
type Prometheus struct {
	TradesTotal      *prometheus.CounterVec
	RealizedProfit   *prometheus.HistogramVec
	LegRetries       *prometheus.CounterVec
	GateRejections   *prometheus.CounterVec
	RefreshFailures  *prometheus.CounterVec
	TxSuccessRate    prometheus.Gauge
	CumulativeProfit prometheus.Gauge
	WinRate          prometheus.Gauge
	MaxDrawdown      prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewPrometheus registers the engine metrics with reg. A nil reg uses the
// default registry.
func NewPrometheus(namespace string, reg *prometheus.Registry) *Prometheus {
	if namespace == "" {
		namespace = "arbengine"
	}
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	f := promauto.With(registerer)

	return &Prometheus{
		TradesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "trades_total",
			Help:      "Trades reaching a terminal state by state, failure reason and shape",
		}, []string{"state", "reason", "shape"}),
		RealizedProfit: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "realized_profit_ratio",
			Help:      "Realized profit as a fraction of notional",
			Buckets:   []float64{-0.02, -0.01, -0.005, -0.001, 0, 0.001, 0.002, 0.005, 0.01, 0.02},
		}, []string{"shape"}),
		LegRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "leg_retries_total",
			Help:      "Leg resubmissions after a recoverable failure",
		}, []string{"venue", "leg"}),
		GateRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "rejections_total",
			Help:      "Candidates rejected by the risk gate by reason",
		}, []string{"reason"}),
		RefreshFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "refresh_failures_total",
			Help:      "Market refreshes rejected by reason",
		}, []string{"reason"}),
		TxSuccessRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "success_rate",
			Help:      "Succeeded / terminal transactions",
		}),
		CumulativeProfit: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "cumulative_profit",
			Help:      "Cumulative realized profit",
		}),
		WinRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "win_rate",
			Help:      "Successful trades / recorded trades",
		}),
		MaxDrawdown: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "max_drawdown",
			Help:      "Largest peak-to-trough fall in cumulative profit",
		}),
		gatherer: gatherer,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

func (p *Prometheus) TradeFinished(exec domain.TradeExecution) {
	p.TradesTotal.WithLabelValues(string(exec.State), string(exec.FailureReason), string(exec.Shape)).Inc()
	if exec.Notional > 0 {
		p.RealizedProfit.WithLabelValues(string(exec.Shape)).Observe(exec.RealizedFraction())
	}
}

func (p *Prometheus) Retry(venue string, legIndex int) {
	p.LegRetries.WithLabelValues(venue, strconv.Itoa(legIndex)).Inc()
}

func (p *Prometheus) GateRejected(reason string) {
	p.GateRejections.WithLabelValues(reason).Inc()
}

func (p *Prometheus) SuccessRate(rate float64) {
	p.TxSuccessRate.Set(rate)
}

func (p *Prometheus) Profit(snap domain.PerformanceSnapshot) {
	p.CumulativeProfit.Set(snap.CumulativeProfit.InexactFloat64())
	p.WinRate.Set(snap.WinRate)
	p.MaxDrawdown.Set(snap.MaxDrawdown.InexactFloat64())
}

func (p *Prometheus) RefreshFailed(reason string) {
	p.RefreshFailures.WithLabelValues(reason).Inc()
}

var _ Sink = (*Prometheus)(nil)
