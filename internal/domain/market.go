package domain

import (
	"fmt"
	"time"
)

// PairQuote is the top-of-book view of one trading pair on one venue.
type PairQuote struct {
	Venue     string
	Base      string
	Quote     string
	Bid       float64
	Ask       float64
	Mid       float64
	Volume24h float64
	FeeRate   float64 // proportional taker fee, e.g. 0.001
	UpdatedAt time.Time
}

// ID returns the venue-qualified pair identifier, e.g. "dex-a:XRP/USD".
func (q PairQuote) ID() string {
	return q.Venue + ":" + q.Base + "/" + q.Quote
}

// Symbol returns the venue-independent pair name.
func (q PairQuote) Symbol() string {
	return q.Base + "/" + q.Quote
}

// Normalize fills Mid from the book when the source omitted it.
func (q PairQuote) Normalize() PairQuote {
	if q.Mid == 0 && q.Bid > 0 && q.Ask > 0 {
		q.Mid = (q.Bid + q.Ask) / 2
	}
	return q
}

// Validate checks the book is well formed: bid <= mid <= ask.
func (q PairQuote) Validate() error {
	switch {
	case q.Venue == "" || q.Base == "" || q.Quote == "":
		return fmt.Errorf("%w: missing venue or asset", ErrInvalidQuote)
	case q.Base == q.Quote:
		return fmt.Errorf("%w: %s base equals quote", ErrInvalidQuote, q.ID())
	case q.Bid <= 0 || q.Ask <= 0:
		return fmt.Errorf("%w: %s non-positive price", ErrInvalidQuote, q.ID())
	case q.Bid > q.Mid || q.Mid > q.Ask:
		return fmt.Errorf("%w: %s requires bid <= mid <= ask (%g, %g, %g)",
			ErrInvalidQuote, q.ID(), q.Bid, q.Mid, q.Ask)
	case q.FeeRate < 0 || q.FeeRate >= 1:
		return fmt.Errorf("%w: %s fee rate %g out of range", ErrInvalidQuote, q.ID(), q.FeeRate)
	case q.UpdatedAt.IsZero():
		return fmt.Errorf("%w: %s missing timestamp", ErrInvalidQuote, q.ID())
	}
	return nil
}

// Pool is a constant-product liquidity pool between two assets.
type Pool struct {
	ID        string
	Venue     string
	AssetA    string
	AssetB    string
	ReserveA  float64
	ReserveB  float64
	FeeRate   float64
	UpdatedAt time.Time
}

// Liquidity is the pool depth expressed in units of AssetB.
func (p Pool) Liquidity() float64 {
	return 2 * p.ReserveB
}

// Rate returns how many units of `to` one unit of `from` buys at the
// marginal price, before fees. It returns 0 if the pool does not hold both.
func (p Pool) Rate(from, to string) float64 {
	switch {
	case from == p.AssetA && to == p.AssetB:
		return p.ReserveB / p.ReserveA
	case from == p.AssetB && to == p.AssetA:
		return p.ReserveA / p.ReserveB
	}
	return 0
}

// Validate checks the pool is usable for pricing.
func (p Pool) Validate() error {
	switch {
	case p.ID == "" || p.AssetA == "" || p.AssetB == "":
		return fmt.Errorf("%w: missing id or asset", ErrInvalidPool)
	case p.AssetA == p.AssetB:
		return fmt.Errorf("%w: %s assets are identical", ErrInvalidPool, p.ID)
	case p.ReserveA <= 0 || p.ReserveB <= 0:
		return fmt.Errorf("%w: %s non-positive reserves", ErrInvalidPool, p.ID)
	case p.FeeRate < 0 || p.FeeRate >= 1:
		return fmt.Errorf("%w: %s fee rate %g out of range", ErrInvalidPool, p.ID, p.FeeRate)
	case p.UpdatedAt.IsZero():
		return fmt.Errorf("%w: %s missing timestamp", ErrInvalidPool, p.ID)
	}
	return nil
}
