package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, account, nonce, shape, scorer, notional,
	expected_profit, realized_profit, state, failure_reason, error,
	started_at, completed_at, open_asset, open_amount`

// Create inserts a terminal trade and its legs in one transaction. Writing
// the same trade twice is an error wrapping domain.ErrAlreadyExists.
func (s *TradeStore) Create(ctx context.Context, exec domain.TradeExecution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO trades (`+tradeSelectCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING`,
		exec.ID, exec.Account, int64(exec.Nonce), string(exec.Shape), exec.Scorer,
		exec.Notional, exec.ExpectedProfit, exec.RealizedProfit,
		string(exec.State), string(exec.FailureReason), exec.Error,
		exec.StartedAt, exec.CompletedAt, exec.OpenAsset, exec.OpenAmount,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", exec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: trade %s: %w", exec.ID, domain.ErrAlreadyExists)
	}

	batch := &pgx.Batch{}
	for _, l := range exec.Legs {
		batch.Queue(`
			INSERT INTO trade_legs (trade_id, leg_index, tx_id, receipt_id, venue, ref,
				from_asset, to_asset, direction, expected_rate, filled_rate,
				amount_in, amount_out, fee, state, retries, error, compensation)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			exec.ID, l.Index, l.TxID, l.ReceiptID, l.Venue, l.Ref,
			l.From, l.To, string(l.Direction), l.ExpectedRate, l.FilledRate,
			l.AmountIn, l.AmountOut, l.Fee, string(l.State), l.Retries, l.Error,
			string(l.Compensation),
		)
	}
	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := range exec.Legs {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: insert trade %s leg %d: %w", exec.ID, i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close leg batch: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID returns a trade with its legs ordered by index.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.TradeExecution, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)
	exec, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeExecution{}, domain.ErrNotFound
		}
		return domain.TradeExecution{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}

	legs, err := s.legs(ctx, []string{id})
	if err != nil {
		return domain.TradeExecution{}, err
	}
	exec.Legs = legs[id]
	return exec, nil
}

// ListRecent returns the most recently started trades, newest first.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()

	var (
		out []domain.TradeExecution
		ids []string
	)
	for rows.Next() {
		exec, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		out = append(out, exec)
		ids = append(ids, exec.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recent trades rows: %w", err)
	}
	if len(ids) == 0 {
		return out, nil
	}

	legs, err := s.legs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Legs = legs[out[i].ID]
	}
	return out, nil
}

// SumProfit returns the realized profit of every trade completed at or
// after since, failures included.
func (s *TradeStore) SumProfit(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(realized_profit), 0) FROM trades
		WHERE completed_at >= $1`,
		since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum profit: %w", err)
	}
	return total, nil
}

func (s *TradeStore) legs(ctx context.Context, ids []string) (map[string][]domain.LegExecution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trade_id, leg_index, tx_id, receipt_id, venue, ref, from_asset, to_asset,
			direction, expected_rate, filled_rate, amount_in, amount_out, fee,
			state, retries, error, compensation
		FROM trade_legs WHERE trade_id = ANY($1) ORDER BY trade_id, leg_index`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade legs: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.LegExecution, len(ids))
	for rows.Next() {
		var (
			tradeID                       string
			l                             domain.LegExecution
			direction, state, compensated string
		)
		if err := rows.Scan(&tradeID, &l.Index, &l.TxID, &l.ReceiptID, &l.Venue, &l.Ref,
			&l.From, &l.To, &direction, &l.ExpectedRate, &l.FilledRate,
			&l.AmountIn, &l.AmountOut, &l.Fee, &state, &l.Retries, &l.Error, &compensated,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade leg: %w", err)
		}
		l.Direction = domain.Direction(direction)
		l.State = domain.TxState(state)
		l.Compensation = domain.CompensationState(compensated)
		out[tradeID] = append(out[tradeID], l)
	}
	return out, rows.Err()
}

func scanTrade(row pgx.Row) (domain.TradeExecution, error) {
	var (
		exec                        domain.TradeExecution
		nonce                       int64
		shape, state, failureReason string
	)
	if err := row.Scan(&exec.ID, &exec.Account, &nonce, &shape, &exec.Scorer,
		&exec.Notional, &exec.ExpectedProfit, &exec.RealizedProfit,
		&state, &failureReason, &exec.Error, &exec.StartedAt, &exec.CompletedAt,
		&exec.OpenAsset, &exec.OpenAmount,
	); err != nil {
		return domain.TradeExecution{}, err
	}
	exec.Nonce = uint64(nonce)
	exec.Shape = domain.PathShape(shape)
	exec.State = domain.TxState(state)
	exec.FailureReason = domain.FailureReason(failureReason)
	return exec, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
