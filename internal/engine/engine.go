// Package engine implements the order lifecycle and position reconciliation
// core: position sizing, multi-order placement with verification and
// fail-closed rollback, safe in-place replacement of protective orders, and a
// reconciliation routine that heals divergence between the local ledger and
// the exchange's authoritative state. All public entry points serialize per
// instrument symbol through a keyed gate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quantfold/marginbot/internal/domain"
)

// Engine composes the exchange client, the position ledger, the sizer, and
// the per-symbol gate. It is safe for concurrent use; operations on the same
// symbol are strictly serialized, operations on different symbols run in
// parallel.
type Engine struct {
	exchange domain.Exchange
	ledger   domain.PositionStore
	prices   domain.PriceCache // optional
	sizer    *Sizer
	gate     *SymbolGate
	policy   RetryPolicy
	logger   *slog.Logger
}

// New creates an Engine. prices may be nil to disable the mark-price cache.
func New(
	exchange domain.Exchange,
	ledger domain.PositionStore,
	prices domain.PriceCache,
	table InstrumentTable,
	quoteAsset string,
	policy RetryPolicy,
	logger *slog.Logger,
) *Engine {
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy
	}
	return &Engine{
		exchange: exchange,
		ledger:   ledger,
		prices:   prices,
		sizer:    NewSizer(exchange, prices, table, quoteAsset, logger),
		gate:     NewSymbolGate(),
		policy:   policy,
		logger:   logger.With(slog.String("component", "engine")),
	}
}

// Sizer exposes the position sizer for callers that only need quantity
// resolution.
func (e *Engine) Sizer() *Sizer { return e.sizer }

// markPrice returns the freshest available reference price for symbol.
func (e *Engine) markPrice(ctx context.Context, symbol string) (float64, error) {
	return markPrice(ctx, e.prices, e.exchange, symbol)
}

// livePosition returns the exchange's authoritative open position for symbol,
// or ErrNoOpenPosition when the venue reports none.
func (e *Engine) livePosition(ctx context.Context, symbol string) (domain.ExchangePosition, error) {
	positions, err := e.exchange.OpenPositions(ctx)
	if err != nil {
		return domain.ExchangePosition{}, err
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			return p, nil
		}
	}
	return domain.ExchangePosition{}, fmt.Errorf("%s: %w", symbol, domain.ErrNoOpenPosition)
}

// cancelAll best-effort cancels every order id in the list. Cancel failures
// are logged and do not stop the sweep: the ids are also returned to the
// caller for idempotent cleanup.
func (e *Engine) cancelAll(ctx context.Context, orderIDs []string) {
	for _, id := range orderIDs {
		if err := e.exchange.Cancel(ctx, id); err != nil {
			e.logger.Error("rollback cancel failed",
				slog.String("order_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// setLedgerOrder records a child order on a position, logging instead of
// failing: the exchange is authoritative, and reconciliation will fold a
// missed write back in later.
func (e *Engine) setLedgerOrder(ctx context.Context, positionID string, role domain.OrderRole, ord domain.ChildOrder) {
	if positionID == "" {
		return
	}
	if err := e.ledger.SetOrder(ctx, positionID, role, ord); err != nil {
		e.logger.Error("ledger write failed, reconciliation will heal",
			slog.String("position_id", positionID),
			slog.String("role", string(role)),
			slog.String("error", err.Error()),
		)
	}
}

// isLedgerMiss reports whether err is the ledger simply not having a record,
// as opposed to the store being unavailable.
func isLedgerMiss(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
