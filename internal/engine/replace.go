package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfold/marginbot/internal/domain"
)

// ReplaceRequest asks for a protective order to be swapped for a new one
// without ever leaving the position unprotected.
type ReplaceRequest struct {
	Symbol     string
	Role       domain.OrderRole // RoleStopLoss or RoleTakeProfit
	OldOrderID string

	// Stop is read when Role is RoleStopLoss, TakeProfit when it is
	// RoleTakeProfit.
	Stop       domain.StopConfig
	TakeProfit domain.TakeProfitConfig

	// StrategyID, when set, updates the matching open ledger record with
	// the replacement order.
	StrategyID string
}

// ReplaceResult reports the replacement order. OldCancelled is false in the
// rare case where the cancel of the old order could not be confirmed; the
// position then carries duplicate protection until reconciliation or the
// operator resolves it, which is the safe direction to err.
type ReplaceResult struct {
	NewOrderID   string
	OldCancelled bool
}

// ReplaceProtective swaps a resting protective order using the
// place-new-before-cancel-old protocol:
//
//  1. read the live position size, so the replacement covers drift
//  2. place and verify the new order
//  3. only then cancel the old order and verify the cancel
//
// If the new order cannot be placed or verified, the old order is left
// untouched and ErrReplacementFailed is returned: the prior protection stands
// and the position is never exposed. A failed cancel confirmation still
// returns success, with OldCancelled false.
func (e *Engine) ReplaceProtective(ctx context.Context, req ReplaceRequest) (*ReplaceResult, error) {
	if req.Role != domain.RoleStopLoss && req.Role != domain.RoleTakeProfit {
		return nil, fmt.Errorf("engine: replace: role %q is not a protective role", req.Role)
	}

	release, err := e.gate.Acquire(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	defer release()

	// The live position, not the ledger, dictates size and direction: the
	// new order must cover whatever exposure actually exists right now.
	live, err := e.livePosition(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("engine: replace: %w", err)
	}

	orderReq, err := replacementOrderRequest(req, live)
	if err != nil {
		return nil, err
	}

	newID, err := e.exchange.Submit(ctx, orderReq)
	if err != nil {
		return nil, fmt.Errorf("engine: replace: submit new %s: %w: %w",
			req.Role, err, domain.ErrReplacementFailed)
	}

	state, err := e.awaitResting(ctx, newID)
	if err != nil {
		// The replacement never became live. Remove it and keep the old
		// order as the standing protection.
		e.cancelAll(ctx, []string{newID})
		return nil, fmt.Errorf("engine: replace: verify new %s %s: %w: %w",
			req.Role, newID, err, domain.ErrReplacementFailed)
	}

	result := &ReplaceResult{NewOrderID: newID, OldCancelled: true}

	if err := e.exchange.Cancel(ctx, req.OldOrderID); err != nil {
		e.logger.Warn("old protective order cancel failed, duplicate protection in place",
			slog.String("symbol", req.Symbol),
			slog.String("old_order_id", req.OldOrderID),
			slog.String("new_order_id", newID),
			slog.String("error", err.Error()),
		)
		result.OldCancelled = false
	} else if old, err := e.awaitCancelled(ctx, req.OldOrderID); err != nil {
		if old.Status == domain.OrderStatusFullyExecuted {
			e.logger.Warn("old protective order filled during replacement",
				slog.String("symbol", req.Symbol),
				slog.String("old_order_id", req.OldOrderID),
				slog.String("new_order_id", newID),
			)
		} else {
			e.logger.Warn("old protective order cancel unconfirmed, duplicate protection possible",
				slog.String("symbol", req.Symbol),
				slog.String("old_order_id", req.OldOrderID),
				slog.String("error", err.Error()),
			)
		}
		result.OldCancelled = false
	}

	e.recordReplacement(ctx, req, state, newID)

	e.logger.Info("protective order replaced",
		slog.String("symbol", req.Symbol),
		slog.String("role", string(req.Role)),
		slog.String("old_order_id", req.OldOrderID),
		slog.String("new_order_id", newID),
		slog.Bool("old_cancelled", result.OldCancelled),
	)
	return result, nil
}

// awaitCancelled confirms an order left the book after a cancel request.
func (e *Engine) awaitCancelled(ctx context.Context, orderID string) (domain.OrderState, error) {
	return e.awaitOrder(ctx, orderID, func(s domain.OrderStatus) bool {
		return s == domain.OrderStatusCancelled
	})
}

func replacementOrderRequest(req ReplaceRequest, live domain.ExchangePosition) (domain.OrderRequest, error) {
	out := domain.OrderRequest{
		Symbol:     req.Symbol,
		Direction:  live.Side.ExitDirection(),
		Volume:     live.Size,
		ReduceOnly: true,
	}

	switch req.Role {
	case domain.RoleStopLoss:
		if !req.Stop.Enabled() {
			return domain.OrderRequest{}, fmt.Errorf("engine: replace: stop-loss replacement needs a stop config")
		}
		if req.Stop.Kind == domain.StopKindTrailing {
			out.Type = domain.OrderTypeTrailingStop
			out.TrailingPct = req.Stop.TrailingPct
		} else {
			out.Type = domain.OrderTypeStopLoss
			out.Price = req.Stop.Price
		}

	case domain.RoleTakeProfit:
		if !req.TakeProfit.Enabled() {
			return domain.OrderRequest{}, fmt.Errorf("engine: replace: take-profit replacement needs a take-profit config")
		}
		out.Price = req.TakeProfit.Price
		if req.TakeProfit.Kind == domain.TakeProfitKindLimit {
			out.Type = domain.OrderTypeLimit
		} else {
			out.Type = domain.OrderTypeTakeProfit
		}
	}

	return out, nil
}

// recordReplacement folds the new protective order into the open ledger
// record for the strategy, best effort.
func (e *Engine) recordReplacement(ctx context.Context, req ReplaceRequest, state domain.OrderState, newID string) {
	if req.StrategyID == "" {
		return
	}
	pos, err := e.ledger.FindOpen(ctx, req.StrategyID, req.Symbol)
	if err != nil {
		if !isLedgerMiss(err) {
			e.logger.Error("ledger lookup failed after replacement",
				slog.String("symbol", req.Symbol),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	ord := domain.ChildOrder{
		OrderID:  newID,
		Status:   state.Status,
		PlacedAt: time.Now().UTC(),
	}
	if req.Role == domain.RoleStopLoss {
		ord.Price = req.Stop.Price
		ord.StopKind = req.Stop.Kind
		ord.TrailingPct = req.Stop.TrailingPct
	} else {
		ord.Price = req.TakeProfit.Price
	}
	e.setLedgerOrder(ctx, pos.ID, req.Role, ord)
}
