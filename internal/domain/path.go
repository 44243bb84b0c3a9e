package domain

import (
	"fmt"
	"time"
)

// PathShape classifies a candidate path.
type PathShape string

const (
	ShapeDirect     PathShape = "direct"
	ShapeTriangular PathShape = "triangular"
)

// CandidatePath is a scored sequence of legs that starts and ends in the
// same asset.
type CandidatePath struct {
	ID             string
	Shape          PathShape
	Legs           []Leg
	ExpectedProfit float64 // fraction of notional, 0.004 = 0.4%
	Confidence     float64 // [0, 1]
	Scorer         string
	ScoredAt       time.Time
}

// StartAsset is the asset the path is funded in and returns to.
func (p CandidatePath) StartAsset() string {
	if len(p.Legs) == 0 {
		return ""
	}
	return p.Legs[0].From
}

// StartingAt returns the same cycle rotated to be funded in asset. It
// reports false when no leg spends asset. Profit and confidence are
// unchanged by rotation.
func (p CandidatePath) StartingAt(asset string) (CandidatePath, bool) {
	for i, l := range p.Legs {
		if l.From != asset {
			continue
		}
		if i == 0 {
			return p, true
		}
		legs := make([]Leg, 0, len(p.Legs))
		legs = append(legs, p.Legs[i:]...)
		legs = append(legs, p.Legs[:i]...)
		p.Legs = legs
		return p, true
	}
	return p, false
}

// CrossVenue reports whether the legs touch more than one venue.
func (p CandidatePath) CrossVenue() bool {
	for i := 1; i < len(p.Legs); i++ {
		if p.Legs[i].Venue != p.Legs[0].Venue {
			return true
		}
	}
	return false
}

// Score is the ranking key used to pick among candidates.
func (p CandidatePath) Score() float64 {
	return p.ExpectedProfit * p.Confidence
}

// Validate checks the path is a closed chain of at least two legs.
func (p CandidatePath) Validate() error {
	if len(p.Legs) < 2 {
		return fmt.Errorf("%w: %d legs", ErrInvalidPath, len(p.Legs))
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: confidence %g out of range", ErrInvalidPath, p.Confidence)
	}
	for i := 1; i < len(p.Legs); i++ {
		if p.Legs[i].From != p.Legs[i-1].To {
			return fmt.Errorf("%w: leg %d starts in %s, previous ends in %s",
				ErrInvalidPath, i, p.Legs[i].From, p.Legs[i-1].To)
		}
	}
	if last := p.Legs[len(p.Legs)-1]; last.To != p.StartAsset() {
		return fmt.Errorf("%w: path ends in %s, not %s", ErrInvalidPath, last.To, p.StartAsset())
	}
	return nil
}
