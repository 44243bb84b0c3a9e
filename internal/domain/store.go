package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists trade executions and their legs.
type TradeStore interface {
	Create(ctx context.Context, exec TradeExecution) error
	GetByID(ctx context.Context, id string) (TradeExecution, error)
	ListRecent(ctx context.Context, limit int) ([]TradeExecution, error)
	SumProfit(ctx context.Context, since time.Time) (float64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// TransactionArchive receives transaction records evicted from the monitor.
type TransactionArchive interface {
	ArchiveTransactions(ctx context.Context, recs []TransactionRecord) error
}
