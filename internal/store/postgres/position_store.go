package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/marginbot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Child
// orders live in a JSONB map keyed by order role, so reconciliation can
// rewrite a single order without touching the rest of the record.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, strategy, symbol, side, size, status,
	entry_price, exit_price, realized_pnl, close_reason, closing_order_id,
	orders, opened_at, closed_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var (
		p          domain.Position
		side       string
		status     string
		reason     string
		ordersJSON []byte
	)

	err := row.Scan(
		&p.ID, &p.Strategy, &p.Symbol, &side, &p.Size, &status,
		&p.EntryPrice, &p.ExitPrice, &p.RealizedPnL, &reason, &p.ClosingOrderID,
		&ordersJSON, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	p.CloseReason = domain.CloseReason(reason)
	p.Orders = map[domain.OrderRole]domain.ChildOrder{}
	if len(ordersJSON) > 0 {
		if err := json.Unmarshal(ordersJSON, &p.Orders); err != nil {
			return domain.Position{}, fmt.Errorf("postgres: decode orders for %s: %w", p.ID, err)
		}
	}
	return p, nil
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	ordersJSON, err := json.Marshal(p.Orders)
	if err != nil {
		return fmt.Errorf("postgres: encode orders for %s: %w", p.ID, err)
	}

	const query = `
		INSERT INTO positions (
			id, strategy, symbol, side, size, status,
			entry_price, exit_price, realized_pnl, close_reason, closing_order_id,
			orders, opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, NOW()
		)`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.Strategy, p.Symbol, string(p.Side), p.Size, string(p.Status),
		p.EntryPrice, p.ExitPrice, p.RealizedPnL, string(p.CloseReason), p.ClosingOrderID,
		ordersJSON, p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// SetOrder upserts a single child order inside the JSONB map.
func (s *PositionStore) SetOrder(ctx context.Context, positionID string, role domain.OrderRole, ord domain.ChildOrder) error {
	ordJSON, err := json.Marshal(ord)
	if err != nil {
		return fmt.Errorf("postgres: encode order %s/%s: %w", positionID, role, err)
	}

	const query = `
		UPDATE positions
		SET orders = jsonb_set(orders, ARRAY[$2]::text[], $3::jsonb, true),
		    updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, positionID, string(role), ordJSON)
	if err != nil {
		return fmt.Errorf("postgres: set order %s/%s: %w", positionID, role, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set order %s/%s: %w", positionID, role, domain.ErrNotFound)
	}
	return nil
}

// Close marks the position closed. Realized P&L is computed from the stored
// entry price in the same statement, sign-adjusted for side.
func (s *PositionStore) Close(ctx context.Context, positionID string, exitPrice float64, reason domain.CloseReason, closingOrderID string, closedAt time.Time) error {
	const query = `
		UPDATE positions
		SET status           = 'closed',
		    exit_price       = $2,
		    realized_pnl     = CASE WHEN side = 'short'
		                        THEN (entry_price - $2) * size
		                        ELSE ($2 - entry_price) * size END,
		    close_reason     = $3,
		    closing_order_id = $4,
		    closed_at        = $5,
		    updated_at       = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, positionID, exitPrice, string(reason), closingOrderID, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", positionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: close position %s: not open: %w", positionID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns a position by id.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`

	p, err := scanPositionRow(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// FindOpen returns the single open position for (strategy, symbol).
func (s *PositionStore) FindOpen(ctx context.Context, strategy, symbol string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions
		WHERE strategy = $1 AND symbol = $2 AND status = 'open'
		ORDER BY opened_at DESC
		LIMIT 1`

	p, err := scanPositionRow(s.pool.QueryRow(ctx, query, strategy, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: open position %s/%s: %w", strategy, symbol, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: find open %s/%s: %w", strategy, symbol, err)
	}
	return p, nil
}

// ListOpen returns every open position for a strategy.
func (s *PositionStore) ListOpen(ctx context.Context, strategy string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions
		WHERE strategy = $1 AND status = 'open'
		ORDER BY opened_at`

	rows, err := s.pool.Query(ctx, query, strategy)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open %s: %w", strategy, err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// ListClosedSince returns positions closed at or after the cutoff, oldest
// first.
func (s *PositionStore) ListClosedSince(ctx context.Context, since time.Time) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions
		WHERE status = 'closed' AND closed_at >= $1
		ORDER BY closed_at`

	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed since %s: %w", since, err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
