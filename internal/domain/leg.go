package domain

import "time"

// LegKind says which market structure a leg trades against.
type LegKind string

const (
	LegKindPair LegKind = "pair"
	LegKindPool LegKind = "pool"
)

// Direction is the side a leg takes on its instrument.
type Direction string

const (
	DirectionBuy  Direction = "buy"  // spend quote, receive base at the ask
	DirectionSell Direction = "sell" // spend base, receive quote at the bid
	DirectionSwap Direction = "swap" // pool swap From -> To
)

// Leg is one hop of a candidate path.
type Leg struct {
	Kind      LegKind
	Ref       string // PairQuote.ID() or Pool.ID
	Venue     string
	From      string
	To        string
	Direction Direction
	Rate      float64 // units of To received per unit of From, before fees
	FeeRate   float64
	QuotedAt  time.Time
}

// NetRate is the leg's rate after its proportional fee.
func (l Leg) NetRate() float64 {
	return l.Rate * (1 - l.FeeRate)
}
