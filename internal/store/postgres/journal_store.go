package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
)

var _ domain.TradeJournal = (*JournalStore)(nil)

// JournalStore implements domain.TradeJournal using PostgreSQL.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a new JournalStore backed by the given pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

const journalSelectCols = `id, window_id, state, side, outcome, order_type,
	price, size, avg_price, slippage_pct, seconds_remaining, level, reason,
	order_id, error, dry_run, created_at`

func scanRecord(row pgx.Row) (domain.TradeRecord, error) {
	var (
		r                         domain.TradeRecord
		state, side, kind, level string
	)
	err := row.Scan(
		&r.ID, &r.WindowID, &state, &side, &r.Outcome, &kind,
		&r.Price, &r.Size, &r.AveragePrice, &r.SlippagePct, &r.SecondsRemaining,
		&level, &r.Reason, &r.OrderID, &r.Error, &r.DryRun, &r.CreatedAt,
	)
	r.State = domain.TradeState(state)
	r.Side = domain.OrderSide(side)
	r.Kind = domain.OrderType(kind)
	r.Level = domain.VerdictLevel(level)
	return r, err
}

// Record upserts one journal row. A later state for the same request
// replaces the earlier one; the creation time is kept.
func (s *JournalStore) Record(ctx context.Context, r domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_journal (
			id, window_id, state, side, outcome, order_type,
			price, size, avg_price, slippage_pct, seconds_remaining,
			level, reason, order_id, error, dry_run, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (id) DO UPDATE SET
			window_id = EXCLUDED.window_id,
			state = EXCLUDED.state,
			price = EXCLUDED.price,
			avg_price = EXCLUDED.avg_price,
			slippage_pct = EXCLUDED.slippage_pct,
			seconds_remaining = EXCLUDED.seconds_remaining,
			level = EXCLUDED.level,
			reason = EXCLUDED.reason,
			order_id = EXCLUDED.order_id,
			error = EXCLUDED.error,
			dry_run = EXCLUDED.dry_run,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.WindowID, string(r.State), string(r.Side), r.Outcome, string(r.Kind),
		r.Price, r.Size, r.AveragePrice, r.SlippagePct, r.SecondsRemaining,
		string(r.Level), r.Reason, r.OrderID, r.Error, r.DryRun, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record trade %s: %w", r.ID, err)
	}
	return nil
}

// Get returns one journal row by request ID.
func (s *JournalStore) Get(ctx context.Context, id string) (domain.TradeRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+journalSelectCols+` FROM trade_journal WHERE id = $1`, id)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TradeRecord{}, fmt.Errorf("postgres: trade %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return r, nil
}

// List returns journal rows newest first with optional time filtering.
func (s *JournalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + journalSelectCols + ` FROM trade_journal WHERE TRUE`
	var args []any
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	return out, nil
}
