// Package monitor tracks every submitted leg from registration to a terminal
// state and derives the engine's success rate from them.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Meta describes a transaction at registration time.
type Meta struct {
	TradeID  string
	LegIndex int
	Venue    string
	Labels   map[string]string
}

// Config tunes retention and health.
type Config struct {
	// Retention is how long a terminal record stays queryable before Evict
	// hands it to the archive.
	Retention time.Duration
	// EvictInterval is how often Run calls Evict.
	EvictInterval time.Duration
	// FailureBurst is the number of failures within HealthWindow at which
	// the monitor reports itself degraded.
	FailureBurst int
	HealthWindow time.Duration
}

// DefaultConfig mirrors the production settings.
func DefaultConfig() Config {
	return Config{
		Retention:     24 * time.Hour,
		EvictInterval: 10 * time.Minute,
		FailureBurst:  10,
		HealthWindow:  time.Hour,
	}
}

type entry struct {
	mu  sync.Mutex
	rec domain.TransactionRecord
}

// Counts is a tally of records by outcome.
type Counts struct {
	Active    int   `json:"active"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// Monitor holds TransactionRecords keyed by id. The map is guarded by mu;
// each record has its own lock so updates to different ids never contend.
type Monitor struct {
	mu      sync.RWMutex
	entries map[string]*entry

	statsMu   sync.Mutex
	succeeded int64
	failed    int64
	failures  []time.Time // terminal failures inside the health window

	cfg     Config
	archive domain.TransactionArchive
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a monitor. archive may be nil, in which case evicted records
// are dropped.
func New(cfg Config, archive domain.TransactionArchive, logger *slog.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = def.EvictInterval
	}
	if cfg.FailureBurst <= 0 {
		cfg.FailureBurst = def.FailureBurst
	}
	if cfg.HealthWindow <= 0 {
		cfg.HealthWindow = def.HealthWindow
	}
	return &Monitor{
		entries: make(map[string]*entry),
		cfg:     cfg,
		archive: archive,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "tx_monitor")),
	}
}

// Register starts tracking id in the Submitted state.
func (m *Monitor) Register(id string, meta Meta) error {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; ok {
		return fmt.Errorf("monitor: register %s: %w", id, domain.ErrAlreadyExists)
	}
	m.entries[id] = &entry{rec: domain.TransactionRecord{
		ID:          id,
		TradeID:     meta.TradeID,
		LegIndex:    meta.LegIndex,
		Venue:       meta.Venue,
		State:       domain.TxSubmitted,
		SubmittedAt: now,
		UpdatedAt:   now,
		Labels:      meta.Labels,
	}}
	return nil
}

// Update moves id to state. A terminal record accepts no further updates, so
// each transaction is counted exactly once. cause, if non-nil, is kept as
// the record's last error.
func (m *Monitor) Update(id string, state domain.TxState, cause error) error {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("monitor: update: %w", &domain.UnknownTransactionError{ID: id})
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.State.Terminal() {
		return fmt.Errorf("monitor: update %s to %s: %w", id, state, domain.ErrAlreadyTerminal)
	}
	if !domain.CanTransition(e.rec.State, state) {
		return fmt.Errorf("monitor: update %s %s -> %s: %w", id, e.rec.State, state, domain.ErrInvalidTransition)
	}

	now := m.now()
	e.rec.State = state
	e.rec.UpdatedAt = now
	if state == domain.TxRetrying {
		e.rec.RetryCount++
	}
	if cause != nil {
		e.rec.LastError = cause.Error()
	}
	if state.Terminal() {
		e.rec.TerminalAt = &now
		m.countTerminal(state, now)
	}
	return nil
}

func (m *Monitor) countTerminal(state domain.TxState, at time.Time) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	if state == domain.TxSucceeded {
		m.succeeded++
		return
	}
	m.failed++
	m.failures = append(m.failures, at)
	m.trimFailures(at)
	if len(m.failures) == m.cfg.FailureBurst {
		m.logger.Warn("monitor: failure burst, reporting degraded",
			slog.Int("failures", len(m.failures)),
			slog.Duration("window", m.cfg.HealthWindow),
		)
	}
}

// trimFailures drops failures older than the health window. statsMu held.
func (m *Monitor) trimFailures(now time.Time) {
	cutoff := now.Add(-m.cfg.HealthWindow)
	i := sort.Search(len(m.failures), func(i int) bool { return m.failures[i].After(cutoff) })
	m.failures = m.failures[i:]
}

// Get returns a copy of the record for id.
func (m *Monitor) Get(id string) (domain.TransactionRecord, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return domain.TransactionRecord{}, &domain.UnknownTransactionError{ID: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, nil
}

// ListByTrade returns the records belonging to tradeID ordered by leg.
func (m *Monitor) ListByTrade(tradeID string) []domain.TransactionRecord {
	var out []domain.TransactionRecord
	for _, rec := range m.all() {
		if rec.TradeID == tradeID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LegIndex < out[j].LegIndex })
	return out
}

func (m *Monitor) all() []domain.TransactionRecord {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]domain.TransactionRecord, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.rec)
		e.mu.Unlock()
	}
	return out
}

// SuccessRate is succeeded / (succeeded + failed) over every terminal record
// seen, including evicted ones. It is 0 before any record is terminal.
func (m *Monitor) SuccessRate() float64 {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	total := m.succeeded + m.failed
	if total == 0 {
		return 0
	}
	return float64(m.succeeded) / float64(total)
}

// Counts returns terminal totals and the number of records still in flight.
func (m *Monitor) Counts() Counts {
	active := 0
	for _, rec := range m.all() {
		if !rec.State.Terminal() {
			active++
		}
	}
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return Counts{Active: active, Succeeded: m.succeeded, Failed: m.failed}
}

// Health summarises recent failures.
type Health struct {
	Degraded       bool    `json:"degraded"`
	RecentFailures int     `json:"recent_failures"`
	SuccessRate    float64 `json:"success_rate"`
}

// Health reports degraded once FailureBurst failures land inside the window.
func (m *Monitor) Health() Health {
	rate := m.SuccessRate()
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.trimFailures(m.now())
	return Health{
		Degraded:       len(m.failures) >= m.cfg.FailureBurst,
		RecentFailures: len(m.failures),
		SuccessRate:    rate,
	}
}

// Evict removes terminal records older than the retention window and passes
// them to the archive. If archiving fails the records are kept for the next
// pass.
func (m *Monitor) Evict(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.cfg.Retention)
	var expired []domain.TransactionRecord
	for _, rec := range m.all() {
		if rec.TerminalAt != nil && !rec.TerminalAt.After(cutoff) {
			expired = append(expired, rec)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].TerminalAt.Before(*expired[j].TerminalAt) })

	if m.archive != nil {
		if err := m.archive.ArchiveTransactions(ctx, expired); err != nil {
			return 0, fmt.Errorf("monitor: archive %d records: %w", len(expired), err)
		}
	}

	m.mu.Lock()
	for _, rec := range expired {
		delete(m.entries, rec.ID)
	}
	m.mu.Unlock()

	m.logger.Info("monitor: evicted terminal records", slog.Int("count", len(expired)))
	return len(expired), nil
}

// Run evicts on a timer until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.EvictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Evict(ctx); err != nil {
				m.logger.Warn("monitor: eviction failed", slog.String("error", err.Error()))
			}
		}
	}
}
