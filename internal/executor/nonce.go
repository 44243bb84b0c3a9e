package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// NonceManager hands out strictly increasing nonces per account and allows
// at most one request in flight per account. A nonce becomes committed only
// when its request reaches a terminal state.
type NonceManager struct {
	mu       sync.Mutex
	accounts map[string]*accountNonce
	store    domain.NonceStore
	locks    domain.LockManager
	lockTTL  time.Duration
	logger   *slog.Logger
}

type accountNonce struct {
	committed uint64
	loaded    bool
	inflight  bool
	pending   uint64
	unlock    func()
}

// NewNonceManager creates a manager. store and locks are optional; with a
// store the counter survives restarts, with locks two engine processes never
// share an account concurrently.
func NewNonceManager(store domain.NonceStore, locks domain.LockManager, lockTTL time.Duration, logger *slog.Logger) *NonceManager {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &NonceManager{
		accounts: make(map[string]*accountNonce),
		store:    store,
		locks:    locks,
		lockTTL:  lockTTL,
		logger:   logger.With(slog.String("component", "nonce_manager")),
	}
}

func (m *NonceManager) state(account string) *accountNonce {
	st, ok := m.accounts[account]
	if !ok {
		st = &accountNonce{}
		m.accounts[account] = st
	}
	return st
}

// Acquire reserves the next nonce for account. It fails with
// domain.ErrAccountBusy while a previous request is still in flight.
func (m *NonceManager) Acquire(ctx context.Context, account string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state(account)
	if st.inflight {
		return 0, fmt.Errorf("nonce: acquire %s: %w", account, domain.ErrAccountBusy)
	}
	if !st.loaded && m.store != nil {
		n, ok, err := m.store.Load(ctx, account)
		if err != nil {
			return 0, fmt.Errorf("nonce: load %s: %w", account, err)
		}
		if ok && n > st.committed {
			st.committed = n
		}
	}
	st.loaded = true

	if m.locks != nil {
		unlock, err := m.locks.Acquire(ctx, "nonce:"+account, m.lockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return 0, fmt.Errorf("nonce: acquire %s: %w", account, domain.ErrAccountBusy)
			}
			return 0, fmt.Errorf("nonce: lock %s: %w", account, err)
		}
		st.unlock = unlock
	}

	st.inflight = true
	st.pending = st.committed + 1
	return st.pending, nil
}

// Check verifies nonce is the one reserved for account and is above every
// committed nonce. It is called before each submission.
func (m *NonceManager) Check(account string, nonce uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(account)
	if nonce <= st.committed {
		return fmt.Errorf("nonce: %s nonce %d not above committed %d: %w",
			account, nonce, st.committed, domain.ErrNonceConflict)
	}
	if !st.inflight || st.pending != nonce {
		return fmt.Errorf("nonce: %s nonce %d was not reserved: %w", account, nonce, domain.ErrNonceConflict)
	}
	return nil
}

// Finish ends the in-flight request for account. When used is true the nonce
// is committed (it may have been consumed by the venue); otherwise it is
// handed out again next time.
func (m *NonceManager) Finish(ctx context.Context, account string, nonce uint64, used bool) {
	m.mu.Lock()
	st := m.state(account)
	if !st.inflight || st.pending != nonce {
		m.mu.Unlock()
		m.logger.Warn("nonce: finish for unreserved nonce",
			slog.String("account", account), slog.Uint64("nonce", nonce))
		return
	}
	if used && nonce > st.committed {
		st.committed = nonce
	}
	st.inflight = false
	unlock := st.unlock
	st.unlock = nil
	m.mu.Unlock()

	if used && m.store != nil {
		if err := m.store.Commit(ctx, account, nonce); err != nil {
			m.logger.Error("nonce: persist failed",
				slog.String("account", account),
				slog.Uint64("nonce", nonce),
				slog.String("error", err.Error()),
			)
		}
	}
	if unlock != nil {
		unlock()
	}
}

// Committed returns the highest committed nonce for account.
func (m *NonceManager) Committed(account string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(account).committed
}

// Busy reports whether account has a request in flight.
func (m *NonceManager) Busy(account string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(account).inflight
}
