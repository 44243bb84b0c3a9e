package domain

import "time"

// FailureReason explains why a trade ended in TxFailed.
type FailureReason string

const (
	ReasonNone                 FailureReason = ""
	ReasonNonRecoverable       FailureReason = "non_recoverable"
	ReasonRetryBudgetExhausted FailureReason = "retry_budget_exhausted"
	ReasonFinalityRejected     FailureReason = "finality_rejected"
	ReasonConfirmTimeout       FailureReason = "confirm_timeout"
	ReasonEconomicLoss         FailureReason = "economic_loss"
	ReasonUserCancelled        FailureReason = "user_cancelled"
	ReasonAbortedMidPath       FailureReason = "aborted_mid_path"
	ReasonNonceRejected        FailureReason = "nonce_rejected"
)

// TradeRequest is an accepted candidate bound to an account and nonce.
type TradeRequest struct {
	ID        string
	Account   string
	Nonce     uint64
	Path      CandidatePath
	Notional  float64 // amount of the path's start asset committed
	CreatedAt time.Time
}

// CompensationState describes the reversal of a leg after a later leg failed.
type CompensationState string

const (
	CompensationNone      CompensationState = ""
	CompensationSucceeded CompensationState = "reversed"
	CompensationFailed    CompensationState = "reversal_failed"
	CompensationSkipped   CompensationState = "not_reversible"
)

// LegExecution is the outcome of one leg of an executed trade.
type LegExecution struct {
	Index        int
	TxID         string
	ReceiptID    string
	Venue        string
	Ref          string
	From         string
	To           string
	Direction    Direction
	ExpectedRate float64
	FilledRate   float64
	AmountIn     float64
	AmountOut    float64
	Fee          float64
	State        TxState
	Retries      int
	Error        string
	Compensation CompensationState
}

// TradeExecution records a trade from dispatch to terminal state.
type TradeExecution struct {
	ID             string
	Account        string
	Nonce          uint64
	Shape          PathShape
	Scorer         string
	Notional       float64
	ExpectedProfit float64
	RealizedProfit float64 // absolute, in the start asset
	// OpenAsset and OpenAmount describe holdings a failed trade could not
	// unwind. RealizedProfit then values them at the legs' quoted rates.
	OpenAsset      string
	OpenAmount     float64
	State          TxState
	FailureReason  FailureReason
	Error          string
	Legs           []LegExecution
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// RealizedFraction is realized profit relative to notional.
func (t TradeExecution) RealizedFraction() float64 {
	if t.Notional == 0 {
		return 0
	}
	return t.RealizedProfit / t.Notional
}

// Succeeded reports whether the trade completed profitably enough to count.
func (t TradeExecution) Succeeded() bool {
	return t.State == TxSucceeded
}
