package scoring

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/market"
)

// HeuristicName is the registry name of the default scorer.
const HeuristicName = "heuristic"

// MaxSupportedLegs is the longest cycle the heuristic enumerates.
const MaxSupportedLegs = 3

var pathNamespace = uuid.MustParse("6f1b8f6e-3c57-4f4b-9a0e-5d1c2f7e8a90")

// HeuristicConfig tunes confidence estimation.
type HeuristicConfig struct {
	// BaseConfidence is the model's own certainty before data freshness is
	// taken into account. Must be in (0, 1].
	BaseConfidence float64
	// CrossVenueCap bounds confidence for paths spanning venues. Must be < 1.
	CrossVenueCap float64
	// MaxQuoteAge is the age at which a leg's data contributes zero
	// confidence.
	MaxQuoteAge time.Duration
	// StartAsset, when set, rotates every cycle to be funded in it and drops
	// cycles that never touch it.
	StartAsset string
	// Notional is the trade size in StartAsset. When both are set, pool
	// legs are priced at the amount that reaches them instead of at the
	// marginal rate.
	Notional float64
	// MinVolume scales confidence down for pair legs whose 24h volume is
	// below it. Zero disables the check.
	MinVolume float64
}

// DefaultHeuristicConfig returns the production defaults.
func DefaultHeuristicConfig() HeuristicConfig {
	return HeuristicConfig{
		BaseConfidence: 0.95,
		CrossVenueCap:  0.9,
		MaxQuoteAge:    30 * time.Second,
	}
}

// Heuristic scores direct (two-leg) and triangular (three-leg) cycles built
// from pair quotes and pool reserves.
type Heuristic struct {
	cfg HeuristicConfig
	now func() time.Time
}

// NewHeuristic validates cfg, falling back to defaults for unusable values.
func NewHeuristic(cfg HeuristicConfig) *Heuristic {
	def := DefaultHeuristicConfig()
	if cfg.BaseConfidence <= 0 || cfg.BaseConfidence > 1 {
		cfg.BaseConfidence = def.BaseConfidence
	}
	if cfg.CrossVenueCap <= 0 || cfg.CrossVenueCap >= 1 {
		cfg.CrossVenueCap = def.CrossVenueCap
	}
	if cfg.MaxQuoteAge <= 0 {
		cfg.MaxQuoteAge = def.MaxQuoteAge
	}
	if cfg.Notional < 0 {
		cfg.Notional = 0
	}
	if cfg.MinVolume < 0 {
		cfg.MinVolume = 0
	}
	return &Heuristic{cfg: cfg, now: time.Now}
}

// Name implements Scorer.
func (h *Heuristic) Name() string { return HeuristicName }

// edge is a directed conversion available in the snapshot.
type edge struct {
	leg domain.Leg
}

func (e edge) key() string {
	return e.leg.Ref + "|" + string(e.leg.Direction) + "|" + e.leg.From
}

// ScorePaths implements Scorer.
func (h *Heuristic) ScorePaths(snap *market.Snapshot, maxLegs int, minProfit float64) ([]domain.CandidatePath, error) {
	if snap == nil {
		return nil, errors.New("scoring: nil snapshot")
	}
	if maxLegs < 2 {
		return nil, errors.New("scoring: max legs must be at least 2")
	}
	maxLegs = min(maxLegs, MaxSupportedLegs)

	out := buildEdges(snap)
	now := h.now()
	var paths []domain.CandidatePath
	emit := func(legs ...domain.Leg) {
		p := domain.CandidatePath{Legs: legs}
		if h.cfg.StartAsset != "" {
			var ok bool
			if p, ok = p.StartingAt(h.cfg.StartAsset); !ok {
				return
			}
		}
		p = h.score(snap, p.Legs, now)
		if p.ExpectedProfit >= minProfit {
			paths = append(paths, p)
		}
	}

	// Cycles are enumerated once, from their lexicographically smallest
	// asset, then rotated to StartAsset if one is set.
	assets := sortedKeys(out)
	for _, a := range assets {
		for _, e1 := range out[a] {
			b := e1.leg.To
			if b < a {
				continue
			}
			for _, e2 := range out[b] {
				if e2.leg.To == a {
					if e2.leg.Ref != e1.leg.Ref {
						emit(e1.leg, e2.leg)
					}
					continue
				}
				if maxLegs < 3 {
					continue
				}
				c := e2.leg.To
				if c < a || c == b {
					continue
				}
				for _, e3 := range out[c] {
					if e3.leg.To == a {
						emit(e1.leg, e2.leg, e3.leg)
					}
				}
			}
		}
	}

	sort.SliceStable(paths, func(i, j int) bool {
		if paths[i].ExpectedProfit != paths[j].ExpectedProfit {
			return paths[i].ExpectedProfit > paths[j].ExpectedProfit
		}
		return paths[i].ID < paths[j].ID
	})
	return paths, nil
}

func (h *Heuristic) score(snap *market.Snapshot, legs []domain.Leg, now time.Time) domain.CandidatePath {
	gross, feeFactor, impactFactor, volume := 1.0, 1.0, 1.0, 1.0
	amount := h.cfg.Notional
	sized := h.cfg.StartAsset != "" && amount > 0
	oldest := now
	ids := make([]string, len(legs))
	for i, l := range legs {
		gross *= l.Rate
		feeFactor *= 1 - l.FeeRate
		if l.QuotedAt.Before(oldest) {
			oldest = l.QuotedAt
		}
		ids[i] = edge{leg: l}.key()

		switch l.Kind {
		case domain.LegKindPool:
			if sized {
				impact, err := snap.PriceImpact(l.Ref, l.From, amount)
				if err == nil {
					impactFactor *= 1 - impact
					amount *= l.NetRate() * (1 - impact)
					continue
				}
			}
		case domain.LegKindPair:
			if h.cfg.MinVolume > 0 {
				q, _ := snap.Pair(l.Ref)
				volume = math.Min(volume, q.Volume24h/h.cfg.MinVolume)
			}
		}
		amount *= l.NetRate()
	}

	shape := domain.ShapeTriangular
	if len(legs) == 2 {
		shape = domain.ShapeDirect
	}
	p := domain.CandidatePath{
		ID:             uuid.NewSHA1(pathNamespace, []byte(strings.Join(ids, ">"))).String(),
		Shape:          shape,
		Legs:           legs,
		ExpectedProfit: gross*feeFactor*impactFactor - 1,
		Scorer:         HeuristicName,
		ScoredAt:       now,
	}
	p.Confidence = h.confidence(now.Sub(oldest), p.CrossVenue()) * math.Max(0, volume)
	return p
}

// confidence decays linearly with the age of the least fresh leg and is
// capped for cross-venue paths, which can never be certain.
func (h *Heuristic) confidence(age time.Duration, crossVenue bool) float64 {
	fresh := 1 - float64(max(age, 0))/float64(h.cfg.MaxQuoteAge)
	fresh = math.Max(0, math.Min(1, fresh))
	c := h.cfg.BaseConfidence * fresh
	if crossVenue {
		c = math.Min(c, h.cfg.CrossVenueCap)
	}
	return c
}

func buildEdges(snap *market.Snapshot) map[string][]edge {
	out := make(map[string][]edge)
	add := func(l domain.Leg) {
		if l.Rate > 0 && !math.IsInf(l.Rate, 0) {
			out[l.From] = append(out[l.From], edge{leg: l})
		}
	}
	for _, q := range snap.Pairs() {
		add(domain.Leg{
			Kind: domain.LegKindPair, Ref: q.ID(), Venue: q.Venue,
			From: q.Quote, To: q.Base, Direction: domain.DirectionBuy,
			Rate: 1 / q.Ask, FeeRate: q.FeeRate, QuotedAt: q.UpdatedAt,
		})
		add(domain.Leg{
			Kind: domain.LegKindPair, Ref: q.ID(), Venue: q.Venue,
			From: q.Base, To: q.Quote, Direction: domain.DirectionSell,
			Rate: q.Bid, FeeRate: q.FeeRate, QuotedAt: q.UpdatedAt,
		})
	}
	for _, p := range snap.Pools() {
		for _, dir := range [][2]string{{p.AssetA, p.AssetB}, {p.AssetB, p.AssetA}} {
			add(domain.Leg{
				Kind: domain.LegKindPool, Ref: p.ID, Venue: p.Venue,
				From: dir[0], To: dir[1], Direction: domain.DirectionSwap,
				Rate: p.Rate(dir[0], dir[1]), FeeRate: p.FeeRate, QuotedAt: p.UpdatedAt,
			})
		}
	}
	for k := range out {
		edges := out[k]
		sort.Slice(edges, func(i, j int) bool { return edges[i].key() < edges[j].key() })
	}
	return out
}

func sortedKeys(m map[string][]edge) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ Scorer = (*Heuristic)(nil)
