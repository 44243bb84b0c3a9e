// Package scoring turns a market snapshot into ranked candidate paths.
// Scorers are selected by name from a Registry so alternative models can be
// swapped in by config.
package scoring

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/market"
)

// Scorer enumerates and scores candidate paths from one snapshot.
type Scorer interface {
	Name() string
	// ScorePaths returns candidates with at most maxLegs legs whose expected
	// profit is at least minProfit, best first. It must not mutate snap.
	ScorePaths(snap *market.Snapshot, maxLegs int, minProfit float64) ([]domain.CandidatePath, error)
}

// Rank orders candidates by expected profit times confidence, descending,
// and returns at most n of them (n <= 0 returns all). Ties break on id.
func Rank(paths []domain.CandidatePath, n int) []domain.CandidatePath {
	out := make([]domain.CandidatePath, len(paths))
	copy(out, paths)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].Score(), out[j].Score()
		if si != sj {
			return si > sj
		}
		return out[i].ID < out[j].ID
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Registry holds named scorers for selection by config.
type Registry struct {
	scorers map[string]Scorer
	mu      sync.RWMutex
}

// NewRegistry returns an empty registry. Call Register to add scorers.
func NewRegistry() *Registry {
	return &Registry{scorers: make(map[string]Scorer)}
}

// Register adds a scorer under its own name.
func (r *Registry) Register(s Scorer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scorers[s.Name()] = s
}

// Get returns the scorer by name, or an error if not found.
func (r *Registry) Get(name string) (Scorer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scorers[name]
	if !ok {
		return nil, fmt.Errorf("scorer %q not found", name)
	}
	return s, nil
}

// List returns all registered scorer names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scorers))
	for n := range r.scorers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
