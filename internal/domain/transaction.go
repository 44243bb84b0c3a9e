package domain

import "time"

// TxState is the lifecycle state of a submitted leg and of a trade as a
// whole.
type TxState string

const (
	TxPending    TxState = "pending"
	TxSubmitted  TxState = "submitted"
	TxConfirming TxState = "confirming"
	TxRetrying   TxState = "retrying"
	TxSucceeded  TxState = "succeeded"
	TxFailed     TxState = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s TxState) Terminal() bool {
	return s == TxSucceeded || s == TxFailed
}

var transitions = map[TxState][]TxState{
	TxPending:    {TxSubmitted, TxFailed},
	TxSubmitted:  {TxConfirming, TxRetrying, TxFailed},
	TxConfirming: {TxSucceeded, TxRetrying, TxFailed},
	TxRetrying:   {TxSubmitted, TxFailed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to TxState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransactionRecord tracks one submitted leg.
type TransactionRecord struct {
	ID          string            `json:"id"`
	TradeID     string            `json:"trade_id"`
	LegIndex    int               `json:"leg_index"`
	Venue       string            `json:"venue"`
	State       TxState           `json:"state"`
	SubmittedAt time.Time         `json:"submitted_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	TerminalAt  *time.Time        `json:"terminal_at,omitempty"`
	RetryCount  int               `json:"retry_count"`
	LastError   string            `json:"last_error,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}
