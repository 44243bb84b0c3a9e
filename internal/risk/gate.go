// Package risk decides whether a scored candidate may be executed.
package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Reason names why the gate rejected a candidate.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonConfidenceTooLow     Reason = "confidence_too_low"
	ReasonExceedsMaxExposure   Reason = "exceeds_max_exposure"
	ReasonProfitBelowFeeBuffer Reason = "profit_below_fee_buffer"
	ReasonExceedsMaxPosition   Reason = "exceeds_max_position"
	ReasonDailyLossLimit       Reason = "daily_loss_limit"
	ReasonInvalidCandidate     Reason = "invalid_candidate"
)

// Config holds the gate thresholds. MaxPosition and MaxDailyLoss are
// disabled when zero.
type Config struct {
	ConfidenceFloor float64 `json:"confidence_floor"`
	MaxExposure     float64 `json:"max_exposure"`
	FeeBuffer       float64 `json:"fee_buffer"`
	MaxPosition     float64 `json:"max_position"`
	MaxDailyLoss    float64 `json:"max_daily_loss"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		ConfidenceFloor: 0.7,
		MaxExposure:     10_000,
		FeeBuffer:       0.001,
	}
}

// Validate reports every unusable threshold.
func (c Config) Validate() error {
	var errs []error
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		errs = append(errs, fmt.Errorf("confidence_floor %g must be in [0, 1]", c.ConfidenceFloor))
	}
	if c.MaxExposure <= 0 {
		errs = append(errs, fmt.Errorf("max_exposure %g must be positive", c.MaxExposure))
	}
	if c.FeeBuffer < 0 {
		errs = append(errs, fmt.Errorf("fee_buffer %g must not be negative", c.FeeBuffer))
	}
	if c.MaxPosition < 0 {
		errs = append(errs, fmt.Errorf("max_position %g must not be negative", c.MaxPosition))
	}
	if c.MaxDailyLoss < 0 {
		errs = append(errs, fmt.Errorf("max_daily_loss %g must not be negative", c.MaxDailyLoss))
	}
	return errors.Join(errs...)
}

// Exposure is the caller-supplied view of capital already committed and of
// the day's realized result, both in the notional asset.
type Exposure struct {
	Outstanding float64
	DailyPnL    float64 // negative when the day is a loss
}

// Decision is the gate's verdict. Reason is empty when Accepted.
type Decision struct {
	Accepted bool
	Reason   Reason
	Detail   string
}

// Evaluate applies the checks in fixed priority order and returns the first
// failure. It depends only on its arguments.
func Evaluate(cfg Config, c domain.CandidatePath, notional float64, exp Exposure) Decision {
	if !finite(c.Confidence, c.ExpectedProfit, notional) {
		return Decision{
			Reason: ReasonInvalidCandidate,
			Detail: fmt.Sprintf("non-finite input: confidence %g, expected profit %g, notional %g",
				c.Confidence, c.ExpectedProfit, notional),
		}
	}
	if c.Confidence < cfg.ConfidenceFloor {
		return Decision{
			Reason: ReasonConfidenceTooLow,
			Detail: fmt.Sprintf("confidence %.4f below floor %.4f", c.Confidence, cfg.ConfidenceFloor),
		}
	}
	if exp.Outstanding+notional > cfg.MaxExposure {
		return Decision{
			Reason: ReasonExceedsMaxExposure,
			Detail: fmt.Sprintf("outstanding %.2f + notional %.2f exceeds cap %.2f",
				exp.Outstanding, notional, cfg.MaxExposure),
		}
	}
	if c.ExpectedProfit <= cfg.FeeBuffer {
		return Decision{
			Reason: ReasonProfitBelowFeeBuffer,
			Detail: fmt.Sprintf("expected profit %.6f does not clear fee buffer %.6f",
				c.ExpectedProfit, cfg.FeeBuffer),
		}
	}
	if cfg.MaxPosition > 0 && notional > cfg.MaxPosition {
		return Decision{
			Reason: ReasonExceedsMaxPosition,
			Detail: fmt.Sprintf("notional %.2f exceeds position cap %.2f", notional, cfg.MaxPosition),
		}
	}
	if cfg.MaxDailyLoss > 0 && -exp.DailyPnL >= cfg.MaxDailyLoss {
		return Decision{
			Reason: ReasonDailyLossLimit,
			Detail: fmt.Sprintf("daily loss %.2f reached limit %.2f", -exp.DailyPnL, cfg.MaxDailyLoss),
		}
	}
	return Decision{Accepted: true}
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Gate evaluates candidates against the current configuration.
type Gate struct {
	src ConfigSource
}

// NewGate creates a gate reading thresholds from src.
func NewGate(src ConfigSource) *Gate {
	return &Gate{src: src}
}

// Evaluate loads the configuration once and applies Evaluate.
func (g *Gate) Evaluate(c domain.CandidatePath, notional float64, exp Exposure) Decision {
	return Evaluate(g.src.Current(), c, notional, exp)
}

// Config returns the configuration currently in force.
func (g *Gate) Config() Config {
	return g.src.Current()
}
