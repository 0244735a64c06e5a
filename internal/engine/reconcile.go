package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfold/marginbot/internal/domain"
)

// SyncWithExchange reconciles the ledger's view of (strategyID, symbol)
// against the exchange, which is authoritative. It reports whether any ledger
// write was made; a second call against unchanged state is a no-op. The
// per-symbol gate is held for the whole pass so reconciliation never
// interleaves with a placement or replacement on the same symbol.
func (e *Engine) SyncWithExchange(ctx context.Context, strategyID, symbol string) (bool, error) {
	release, err := e.gate.Acquire(ctx, symbol)
	if err != nil {
		return false, err
	}
	defer release()

	return e.syncLocked(ctx, strategyID, symbol)
}

// syncLocked is SyncWithExchange with the gate already held.
func (e *Engine) syncLocked(ctx context.Context, strategyID, symbol string) (bool, error) {
	local, err := e.ledger.FindOpen(ctx, strategyID, symbol)
	localMiss := isLedgerMiss(err)
	if err != nil && !localMiss {
		return false, fmt.Errorf("engine: reconcile: ledger: %w", err)
	}

	_, err = e.livePosition(ctx, symbol)
	liveMiss := errors.Is(err, domain.ErrNoOpenPosition)
	if err != nil && !liveMiss {
		return false, fmt.Errorf("engine: reconcile: exchange: %w", err)
	}

	switch {
	case localMiss && liveMiss:
		return false, nil

	case localMiss:
		// Exposure with no record. Never auto-close: the position may be
		// manually managed, and closing it would destroy real exposure on
		// the strength of a missing row.
		e.logger.Warn("exchange position has no ledger record",
			slog.String("strategy", strategyID),
			slog.String("symbol", symbol),
		)
		return false, nil

	case liveMiss:
		return true, e.closeFromExchange(ctx, local)

	default:
		return e.refreshChildOrders(ctx, local)
	}
}

// closeFromExchange closes a ledger record whose position has disappeared
// from the exchange, inferring why from the terminal state of its protective
// orders.
func (e *Engine) closeFromExchange(ctx context.Context, local domain.Position) error {
	reason := domain.CloseReasonManual
	closingOrderID := ""

	check := func(role domain.OrderRole, r domain.CloseReason) bool {
		child, ok := local.Order(role)
		if !ok {
			return false
		}
		state, err := e.exchange.OrderStatus(ctx, child.OrderID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				e.logger.Warn("protective order status unavailable during reconcile",
					slog.String("order_id", child.OrderID),
					slog.String("error", err.Error()),
				)
			}
			return false
		}
		if state.Status == domain.OrderStatusFullyExecuted {
			reason = r
			closingOrderID = child.OrderID
			return true
		}
		return false
	}

	if !check(domain.RoleStopLoss, domain.CloseReasonStopLoss) {
		check(domain.RoleTakeProfit, domain.CloseReasonTakeProfit)
	}

	exitPrice, err := e.markPrice(ctx, local.Symbol)
	if err != nil {
		return fmt.Errorf("engine: reconcile: exit price %s: %w", local.Symbol, err)
	}

	if err := e.ledger.Close(ctx, local.ID, exitPrice, reason, closingOrderID, time.Now().UTC()); err != nil {
		return fmt.Errorf("engine: reconcile: close %s: %w", local.ID, err)
	}

	e.logger.Info("ledger position closed from exchange state",
		slog.String("position_id", local.ID),
		slog.String("symbol", local.Symbol),
		slog.String("reason", string(reason)),
		slog.Float64("exit_price", exitPrice),
	)
	return nil
}

// refreshChildOrders folds current exchange order statuses into an open
// record, writing only the entries whose status actually moved.
func (e *Engine) refreshChildOrders(ctx context.Context, local domain.Position) (bool, error) {
	changed := false
	for role, child := range local.Orders {
		state, err := e.exchange.OrderStatus(ctx, child.OrderID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Aged out of the venue's query window; nothing to fold in.
				continue
			}
			return changed, fmt.Errorf("engine: reconcile: order %s: %w", child.OrderID, err)
		}
		if state.Status == child.Status {
			continue
		}

		child.Status = state.Status
		if err := e.ledger.SetOrder(ctx, local.ID, role, child); err != nil {
			return changed, fmt.Errorf("engine: reconcile: record order %s: %w", child.OrderID, err)
		}
		changed = true
		e.logger.Info("child order status reconciled",
			slog.String("position_id", local.ID),
			slog.String("role", string(role)),
			slog.String("order_id", child.OrderID),
			slog.String("status", string(state.Status)),
		)
	}
	return changed, nil
}
