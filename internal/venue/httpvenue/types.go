package httpvenue

import "time"

// Leg statuses reported by GET /v1/legs/{id}.
const (
	StatusPending  = "pending"
	StatusFilled   = "filled"
	StatusRejected = "rejected"
)

// Venue error codes that map to non-recoverable sentinels.
const (
	CodeNonceConflict         = "nonce_conflict"
	CodeInsufficientFunds     = "insufficient_funds"
	CodeInsufficientLiquidity = "insufficient_liquidity"
	CodeInvalidSignature      = "invalid_signature"
)

// APILegRequest is the POST /v1/legs body.
type APILegRequest struct {
	TradeID        string  `json:"trade_id"`
	Account        string  `json:"account"`
	Signer         string  `json:"signer,omitempty"`
	Nonce          uint64  `json:"nonce"`
	LegIndex       int     `json:"leg_index"`
	Ref            string  `json:"ref"`
	Kind           string  `json:"kind"`
	From           string  `json:"from"`
	To             string  `json:"to"`
	Direction      string  `json:"direction"`
	Amount         float64 `json:"amount"`
	ExpectedRate   float64 `json:"expected_rate"`
	Attempt        int     `json:"attempt"`
	IdempotencyKey string  `json:"idempotency_key"`
	Signature      string  `json:"signature,omitempty"`
}

// APIReceipt is the POST /v1/legs response.
type APIReceipt struct {
	ReceiptID   string    `json:"receipt_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// APILegStatus is the GET /v1/legs/{id} response.
type APILegStatus struct {
	ReceiptID  string  `json:"receipt_id"`
	Status     string  `json:"status"`
	FilledRate float64 `json:"filled_rate"`
	AmountOut  float64 `json:"amount_out"`
	Fee        float64 `json:"fee"`
	Reason     string  `json:"reason,omitempty"`
}

// APIReverseRequest is the POST /v1/legs/{id}/reverse body.
type APIReverseRequest struct {
	TradeID  string  `json:"trade_id"`
	Account  string  `json:"account"`
	Nonce    uint64  `json:"nonce"`
	LegIndex int     `json:"leg_index"`
	Amount   float64 `json:"amount"`
}

// APIReverseResult is the reverse response.
type APIReverseResult struct {
	AmountOut float64 `json:"amount_out"`
}

// APIError is the error body returned with non-2xx statuses.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
