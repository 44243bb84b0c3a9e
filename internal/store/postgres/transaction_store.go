package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// TransactionStore keeps transaction records after the monitor evicts them.
// It implements domain.TransactionArchive.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const txSelectCols = `id, trade_id, leg_index, venue, state, submitted_at,
	updated_at, terminal_at, retry_count, last_error, labels`

// ArchiveTransactions upserts recs. Re-archiving a record overwrites it.
func (s *TransactionStore) ArchiveTransactions(ctx context.Context, recs []domain.TransactionRecord) error {
	if len(recs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range recs {
		labels, err := json.Marshal(r.Labels)
		if err != nil {
			return fmt.Errorf("postgres: marshal labels for %s: %w", r.ID, err)
		}
		batch.Queue(`
			INSERT INTO transactions (`+txSelectCols+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				state = EXCLUDED.state,
				updated_at = EXCLUDED.updated_at,
				terminal_at = EXCLUDED.terminal_at,
				retry_count = EXCLUDED.retry_count,
				last_error = EXCLUDED.last_error,
				labels = EXCLUDED.labels`,
			r.ID, r.TradeID, r.LegIndex, r.Venue, string(r.State), r.SubmittedAt,
			r.UpdatedAt, r.TerminalAt, r.RetryCount, r.LastError, labels,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range recs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: archive transaction %s: %w", recs[i].ID, err)
		}
	}
	return nil
}

// Get returns an archived record.
func (s *TransactionStore) Get(ctx context.Context, id string) (domain.TransactionRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+txSelectCols+` FROM transactions WHERE id = $1`, id)
	rec, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TransactionRecord{}, domain.ErrNotFound
		}
		return domain.TransactionRecord{}, fmt.Errorf("postgres: get transaction %s: %w", id, err)
	}
	return rec, nil
}

// ListByTrade returns archived records of one trade in leg order.
func (s *TransactionStore) ListByTrade(ctx context.Context, tradeID string) ([]domain.TransactionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txSelectCols+` FROM transactions WHERE trade_id = $1 ORDER BY leg_index`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions for %s: %w", tradeID, err)
	}
	defer rows.Close()

	var out []domain.TransactionRecord
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (domain.TransactionRecord, error) {
	var (
		rec    domain.TransactionRecord
		state  string
		labels []byte
	)
	if err := row.Scan(&rec.ID, &rec.TradeID, &rec.LegIndex, &rec.Venue, &state,
		&rec.SubmittedAt, &rec.UpdatedAt, &rec.TerminalAt, &rec.RetryCount,
		&rec.LastError, &labels,
	); err != nil {
		return domain.TransactionRecord{}, err
	}
	rec.State = domain.TxState(state)
	if len(labels) > 0 && string(labels) != "null" {
		if err := json.Unmarshal(labels, &rec.Labels); err != nil {
			return domain.TransactionRecord{}, fmt.Errorf("unmarshal labels: %w", err)
		}
	}
	return rec, nil
}

var _ domain.TransactionArchive = (*TransactionStore)(nil)
