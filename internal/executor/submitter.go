package executor

import (
	"context"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// SubmitRequest is one leg dispatch. Retries of the same leg reuse the
// nonce and idempotency key so the venue can discard duplicates.
type SubmitRequest struct {
	TradeID        string
	Account        string
	Nonce          uint64
	LegIndex       int
	Leg            domain.Leg
	Amount         float64 // units of Leg.From
	Attempt        int
	IdempotencyKey string
}

// Receipt acknowledges that a venue accepted a submission for processing.
type Receipt struct {
	ID          string
	Venue       string
	SubmittedAt time.Time
}

// Finality is the venue's view of a submitted leg. Done is false while the
// leg is still pending.
type Finality struct {
	Done       bool
	Accepted   bool
	FilledRate float64 // units of To per unit of From
	AmountOut  float64 // units of To received, net of Fee; derived when zero
	Fee        float64 // units of To
	Reason     string  // venue rejection reason
}

// Submitter is the execution submission service. Errors should be
// *domain.RecoverableError or *domain.NonRecoverableError; anything else is
// treated as recoverable.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (Receipt, error)
	PollFinality(ctx context.Context, r Receipt) (Finality, error)
}

// ReverseRequest undoes a completed leg by trading Amount of Leg.To back
// into Leg.From.
type ReverseRequest struct {
	TradeID   string
	Account   string
	Nonce     uint64
	LegIndex  int
	ReceiptID string
	Leg       domain.Leg
	Amount    float64
}

// Reverser is optional. When the submitter implements it, completed legs are
// reversed after a later leg fails.
type Reverser interface {
	Reverse(ctx context.Context, req ReverseRequest) (amountOut float64, err error)
}
