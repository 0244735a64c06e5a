package domain

import (
	"context"
	"time"
)

// PositionStore is the position ledger. It exclusively owns Position records;
// writers must hold the per-symbol gate for the position's symbol.
type PositionStore interface {
	// Create inserts a new position record.
	Create(ctx context.Context, pos Position) error

	// SetOrder upserts a single child order on a position. This is the
	// partial-update primitive: reconciliation writes one changed order at a
	// time rather than rewriting the whole record.
	SetOrder(ctx context.Context, positionID string, role OrderRole, ord ChildOrder) error

	// Close marks the position closed, recording the exit reference price,
	// the inferred reason, the closing order id, and the realized P&L
	// computed from the stored entry price.
	Close(ctx context.Context, positionID string, exitPrice float64, reason CloseReason, closingOrderID string, closedAt time.Time) error

	// GetByID returns a position by id, or ErrNotFound.
	GetByID(ctx context.Context, id string) (Position, error)

	// FindOpen returns the single open position for (strategy, symbol), or
	// ErrNotFound.
	FindOpen(ctx context.Context, strategy, symbol string) (Position, error)

	// ListOpen returns every open position for a strategy.
	ListOpen(ctx context.Context, strategy string) ([]Position, error)

	// ListClosedSince returns positions closed at or after the cutoff,
	// oldest first. Used by the journal archiver.
	ListClosedSince(ctx context.Context, since time.Time) ([]Position, error)
}
