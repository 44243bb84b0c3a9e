package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/alanyoungcy/arbengine/internal/market"
)

// StaticFeed replays a fixed Frame, restamped with the current time on each
// Fetch. With Jitter > 0 every price is perturbed by up to that fraction so
// paper runs see moving markets.
type StaticFeed struct {
	frame  Frame
	Jitter float64
	now    func() time.Time
	rnd    *rand.Rand
}

// NewStaticFeed serves frame.
func NewStaticFeed(frame Frame) *StaticFeed {
	return &StaticFeed{frame: frame, now: time.Now, rnd: rand.New(rand.NewPCG(1, 2))}
}

// LoadStaticFeed reads a JSON Frame fixture from path.
func LoadStaticFeed(path string) (*StaticFeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("static feed: read %s: %w", path, err)
	}
	var fr Frame
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil, fmt.Errorf("static feed: parse %s: %w", path, err)
	}
	return NewStaticFeed(fr), nil
}

// Fetch implements Feed.
func (f *StaticFeed) Fetch(context.Context) (market.Update, error) {
	now := f.now()
	fr := Frame{
		Pairs: make([]PairFrame, len(f.frame.Pairs)),
		Pools: make([]PoolFrame, len(f.frame.Pools)),
	}
	for i, p := range f.frame.Pairs {
		k := f.jitter()
		p.Bid *= k
		p.Ask *= k
		if p.Mid != 0 {
			p.Mid *= k
		}
		p.Timestamp = now
		fr.Pairs[i] = p
	}
	for i, p := range f.frame.Pools {
		p.ReserveB *= f.jitter()
		p.Timestamp = now
		fr.Pools[i] = p
	}
	return fr.Update(), nil
}

func (f *StaticFeed) jitter() float64 {
	if f.Jitter <= 0 {
		return 1
	}
	return 1 + f.Jitter*(2*f.rnd.Float64()-1)
}
