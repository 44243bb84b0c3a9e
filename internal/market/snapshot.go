package market

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Snapshot is one immutable generation of market data.
type Snapshot struct {
	Generation uint64
	TakenAt    time.Time

	pairs   map[string]domain.PairQuote
	pools   map[string]domain.Pool
	history map[string][]float64
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		pairs:   make(map[string]domain.PairQuote),
		pools:   make(map[string]domain.Pool),
		history: make(map[string][]float64),
	}
}

func (s *Snapshot) clone() *Snapshot {
	c := &Snapshot{
		Generation: s.Generation,
		TakenAt:    s.TakenAt,
		pairs:      make(map[string]domain.PairQuote, len(s.pairs)),
		pools:      make(map[string]domain.Pool, len(s.pools)),
		history:    make(map[string][]float64, len(s.history)),
	}
	for k, v := range s.pairs {
		c.pairs[k] = v
	}
	for k, v := range s.pools {
		c.pools[k] = v
	}
	for k, v := range s.history {
		c.history[k] = v
	}
	return c
}

// Pair looks up a quote by its venue-qualified id.
func (s *Snapshot) Pair(id string) (domain.PairQuote, bool) {
	q, ok := s.pairs[id]
	return q, ok
}

// Pool looks up a pool by id.
func (s *Snapshot) Pool(id string) (domain.Pool, bool) {
	p, ok := s.pools[id]
	return p, ok
}

// Pairs returns every quote, ordered by id.
func (s *Snapshot) Pairs() []domain.PairQuote {
	out := make([]domain.PairQuote, 0, len(s.pairs))
	for _, q := range s.pairs {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Pools returns every pool, ordered by id.
func (s *Snapshot) Pools() []domain.Pool {
	out := make([]domain.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// History returns a copy of the mid-price history for a pair, oldest first.
func (s *Snapshot) History(id string) []float64 {
	h := s.history[id]
	out := make([]float64, len(h))
	copy(out, h)
	return out
}

// TopPools returns up to n pools sorted by liquidity depth, descending.
// Ties break on id so the order is stable.
func (s *Snapshot) TopPools(n int) []domain.Pool {
	pools := s.Pools()
	sort.SliceStable(pools, func(i, j int) bool {
		return pools[i].Liquidity() > pools[j].Liquidity()
	})
	if n >= 0 && n < len(pools) {
		pools = pools[:n]
	}
	return pools
}

// TopPairs returns up to n quotes sorted by 24h volume, descending.
func (s *Snapshot) TopPairs(n int) []domain.PairQuote {
	pairs := s.Pairs()
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Volume24h > pairs[j].Volume24h
	})
	if n >= 0 && n < len(pairs) {
		pairs = pairs[:n]
	}
	return pairs
}

// Correlation returns the Pearson correlation of the two pairs' mid-price
// histories over their common trailing window. The result is 1 for
// identical ids and 0 when either series is too short or flat.
func (s *Snapshot) Correlation(a, b string) float64 {
	if a == b {
		return 1
	}
	ha, hb := s.history[a], s.history[b]
	n := min(len(ha), len(hb))
	if n < 2 {
		return 0
	}
	return pearson(ha[len(ha)-n:], hb[len(hb)-n:])
}

// PriceImpact is the fractional shortfall of the average execution price
// versus the marginal price when swapping amount of from into the pool.
func (s *Snapshot) PriceImpact(poolID, from string, amount float64) (float64, error) {
	p, ok := s.pools[poolID]
	if !ok {
		return 0, fmt.Errorf("market: pool %s: %w", poolID, domain.ErrNotFound)
	}
	out, err := SwapOut(p, from, amount)
	if err != nil {
		return 0, err
	}
	to := p.AssetB
	if from == p.AssetB {
		to = p.AssetA
	}
	marginal := p.Rate(from, to) * (1 - p.FeeRate)
	if amount <= 0 || marginal == 0 {
		return 0, nil
	}
	return 1 - (out/amount)/marginal, nil
}

// SwapOut is the constant-product output for selling amount of from into p,
// net of the pool fee.
func SwapOut(p domain.Pool, from string, amount float64) (float64, error) {
	var rin, rout float64
	switch from {
	case p.AssetA:
		rin, rout = p.ReserveA, p.ReserveB
	case p.AssetB:
		rin, rout = p.ReserveB, p.ReserveA
	default:
		return 0, fmt.Errorf("market: pool %s does not hold %s: %w", p.ID, from, domain.ErrInvalidPool)
	}
	if amount <= 0 {
		return 0, nil
	}
	in := amount * (1 - p.FeeRate)
	return rout * in / (rin + in), nil
}

func pearson(x, y []float64) float64 {
	n := float64(len(x))
	var sx, sy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
	}
	mx, my := sx/n, sy/n
	var cov, vx, vy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	r := cov / math.Sqrt(vx*vy)
	return math.Max(-1, math.Min(1, r))
}
