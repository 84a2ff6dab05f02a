package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockex/marketd/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Amounts are
// stored as NUMERIC(78,0), wide enough for any 256-bit base-unit value, and
// travel to and from the driver as decimal strings.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, account, direction, amount_stock::text, amount_fiat::text, ts`

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var records []domain.TradeRecord
	for rows.Next() {
		var (
			rec         domain.TradeRecord
			account     string
			direction   string
			stock, fiat string
		)
		if err := rows.Scan(&rec.ID, &account, &direction, &stock, &fiat, &rec.Timestamp); err != nil {
			return nil, err
		}

		acct, err := domain.ParseAccount(account)
		if err != nil {
			return nil, err
		}
		rec.Account = acct
		rec.Direction = domain.TradeDirection(direction)
		if rec.AmountStock, err = domain.ParseAmount(stock); err != nil {
			return nil, err
		}
		if rec.AmountFiat, err = domain.ParseAmount(fiat); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Insert persists a committed trade. The id comes from the engine's event
// log, so re-inserting after a retried post-commit persistence is silently
// skipped via ON CONFLICT DO NOTHING.
func (s *TradeStore) Insert(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (id, account, direction, amount_stock, amount_fiat, ts)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.Account.Hex(),
		string(rec.Direction),
		domain.FormatAmount(rec.AmountStock),
		domain.FormatAmount(rec.AmountFiat),
		rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %d: %w", rec.ID, err)
	}
	return nil
}

// ListByAccount returns an account's trades newest first, with pagination.
func (s *TradeStore) ListByAccount(ctx context.Context, account domain.Account, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE account = $1 ORDER BY ts DESC, id DESC`
	args := []any{account.Hex()}
	argIdx := 2

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
		return nil, fmt.Errorf("postgres: list trades by account: %w", err)
	}
	defer rows.Close()

	records, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by account: %w", err)
	}
	return records, nil
}

// ListBefore returns all trades with a timestamp strictly before the cutoff,
// oldest first (for archiving).
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE ts < $1 ORDER BY ts ASC, id ASC`
	rows, err := s.pool.Query(ctx, query, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	records, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return records, nil
}

// DeleteBefore deletes all trades with a timestamp before the cutoff and
// returns the number deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE ts < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of persisted trades.
func (s *TradeStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trades`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count trades: %w", err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
