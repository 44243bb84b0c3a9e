package risk

import (
	"fmt"
	"sync"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// ExposureBook tracks notional committed to trades that have not reached a
// terminal state.
type ExposureBook struct {
	mu          sync.Mutex
	reserved    map[string]float64
	outstanding float64
}

// NewExposureBook returns an empty book.
func NewExposureBook() *ExposureBook {
	return &ExposureBook{reserved: make(map[string]float64)}
}

// Exposure returns the current outstanding notional.
func (b *ExposureBook) Exposure() Exposure {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Exposure{Outstanding: b.outstanding}
}

// Reserve records notional against tradeID.
func (b *ExposureBook) Reserve(tradeID string, notional float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.reserved[tradeID]; ok {
		return fmt.Errorf("risk: reserve %s: %w", tradeID, domain.ErrAlreadyExists)
	}
	b.reserved[tradeID] = notional
	b.outstanding += notional
	return nil
}

// Release frees the notional held by tradeID. Releasing twice is a no-op.
func (b *ExposureBook) Release(tradeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.reserved[tradeID]
	if !ok {
		return
	}
	delete(b.reserved, tradeID)
	b.outstanding -= n
	if len(b.reserved) == 0 {
		b.outstanding = 0
	}
}

// Len is the number of trades holding a reservation.
func (b *ExposureBook) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reserved)
}
