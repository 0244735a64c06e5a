package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/marginbot/internal/domain"
)

// PlacementRequest describes one "enter (or exit) with protective orders"
// operation.
type PlacementRequest struct {
	Symbol     string
	Side       domain.Side
	SizeIntent float64
	SizingMode domain.SizingMode
	Stop       domain.StopConfig
	TakeProfit domain.TakeProfitConfig

	// ReduceOnly marks a closing trade. The order size is taken from the
	// live exchange position, never from SizeIntent: the position may have
	// drifted since it was opened.
	ReduceOnly bool

	// StrategyID attributes the resulting ledger record. Leave empty for
	// ad hoc orders that should not be tracked.
	StrategyID string

	// StopDistancePct feeds risk-mode sizing.
	StopDistancePct float64

	// Precision overrides the instrument's size precision when set.
	Precision *int
}

// PlacementResult reports every order created by a successful placement. All
// ids are returned so callers can perform idempotent cleanup.
type PlacementResult struct {
	Entry      domain.ChildOrder
	Stop       *domain.ChildOrder
	TakeProfit *domain.ChildOrder
	OrderIDs   []string
	PositionID string
}

// PlaceWithExits executes the placement protocol: resolve quantity, submit
// and verify the market entry, then place and verify each requested
// protective order. The call either returns a verified order id for every
// requested order, or cancels everything it created and returns a terminal
// error — it always fails closed rather than leaving a position partially
// protected. Ledger write failures are logged, never rolled back: the
// exchange is authoritative and reconciliation heals the ledger later.
//
// The per-symbol gate is held for the whole sequence, including the
// pre-trade reconciliation pass.
func (e *Engine) PlaceWithExits(ctx context.Context, req PlacementRequest) (*PlacementResult, error) {
	release, err := e.gate.Acquire(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	defer release()

	// Refresh truth before acting. A reconcile failure is not fatal on its
	// own: if the exchange is down the submission below fails anyway, and a
	// ledger outage must never block an exchange-side action.
	if req.StrategyID != "" {
		if _, err := e.syncLocked(ctx, req.StrategyID, req.Symbol); err != nil {
			e.logger.Warn("pre-trade reconciliation failed",
				slog.String("symbol", req.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	return e.placeLocked(ctx, req)
}

func (e *Engine) placeLocked(ctx context.Context, req PlacementRequest) (*PlacementResult, error) {
	// 1. Resolve quantity and direction.
	direction := req.Side.EntryDirection()
	var qty float64
	if req.ReduceOnly {
		live, err := e.livePosition(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("engine: resolve close size: %w", err)
		}
		qty = live.Size
		direction = live.Side.ExitDirection()
	} else {
		var err error
		qty, err = e.sizer.Size(ctx, req.SizeIntent, req.SizingMode, req.Symbol, req.StopDistancePct, req.Precision)
		if err != nil {
			return nil, err
		}
	}

	// Reference price for the ledger. A true fill price is not retrievable
	// from the primitives available, so the pre-trade quote stands in.
	openLedger := !req.ReduceOnly && req.StrategyID != ""
	var refPrice float64
	if openLedger {
		var err error
		refPrice, err = e.markPrice(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("engine: reference price %s: %w", req.Symbol, err)
		}
	}

	// 2. Submit the entry. A rejection aborts with nothing created.
	entryID, err := e.exchange.Submit(ctx, domain.OrderRequest{
		Symbol:     req.Symbol,
		Direction:  direction,
		Type:       domain.OrderTypeMarket,
		Volume:     qty,
		ReduceOnly: req.ReduceOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: entry submit: %w", err)
	}
	created := []string{entryID}

	// 3. Draft the ledger record before verification so a crash between
	// submit and verify still leaves a trace for reconciliation.
	now := time.Now().UTC()
	positionID := ""
	if openLedger {
		positionID = uuid.New().String()
		draft := domain.Position{
			ID:         positionID,
			Strategy:   req.StrategyID,
			Symbol:     req.Symbol,
			Side:       req.Side,
			Size:       qty,
			Status:     domain.PositionStatusOpen,
			EntryPrice: refPrice,
			OpenedAt:   now,
			Orders: map[domain.OrderRole]domain.ChildOrder{
				domain.RoleEntry: {
					OrderID:  entryID,
					Status:   domain.OrderStatusPlaced,
					Price:    refPrice,
					PlacedAt: now,
				},
			},
		}
		if err := e.ledger.Create(ctx, draft); err != nil {
			e.logger.Error("ledger draft failed, reconciliation will flag the orphan",
				slog.String("symbol", req.Symbol),
				slog.String("error", err.Error()),
			)
			positionID = ""
		}
	}

	// 4. Verify the entry filled.
	entryState, err := e.awaitExecuted(ctx, entryID)
	if err != nil {
		e.logger.Error("entry verification failed, rolling back",
			slog.String("symbol", req.Symbol),
			slog.String("order_id", entryID),
			slog.String("error", err.Error()),
		)
		e.cancelAll(ctx, created)
		e.abortLedger(ctx, positionID, refPrice)
		return nil, fmt.Errorf("engine: entry verification: %w", err)
	}

	entry := domain.ChildOrder{
		OrderID:  entryID,
		Status:   entryState.Status,
		Price:    refPrice,
		PlacedAt: now,
	}
	e.setLedgerOrder(ctx, positionID, domain.RoleEntry, entry)

	if req.ReduceOnly && req.StrategyID != "" {
		e.closeLedgerAfterExit(ctx, req.StrategyID, req.Symbol, entry)
	}

	result := &PlacementResult{Entry: entry, OrderIDs: created, PositionID: positionID}
	protectDir := req.Side.ExitDirection()

	// 5. Stop-loss, always reduce-only regardless of caller input: a
	// protective order must never be able to open a position on the
	// opposite side.
	if req.Stop.Enabled() {
		stop, ids, err := e.placeProtective(ctx, created, positionID, refPrice, stopOrderRequest(req, protectDir, qty))
		created = ids
		if err != nil {
			return nil, fmt.Errorf("engine: stop-loss: %w", err)
		}
		stop.StopKind = req.Stop.Kind
		stop.TrailingPct = req.Stop.TrailingPct
		result.Stop = stop
		result.OrderIDs = created
		e.setLedgerOrder(ctx, positionID, domain.RoleStopLoss, *stop)
	}

	// 6. Take-profit, same verify-or-roll-back-everything pattern.
	if req.TakeProfit.Enabled() {
		tp, ids, err := e.placeProtective(ctx, created, positionID, refPrice, takeProfitOrderRequest(req, protectDir, qty))
		created = ids
		if err != nil {
			return nil, fmt.Errorf("engine: take-profit: %w", err)
		}
		result.TakeProfit = tp
		result.OrderIDs = created
		e.setLedgerOrder(ctx, positionID, domain.RoleTakeProfit, *tp)
	}

	e.logger.Info("placement complete",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Float64("size", qty),
		slog.Int("orders", len(created)),
		slog.String("position_id", positionID),
	)
	return result, nil
}

// placeProtective submits one protective order and verifies it rests. On any
// failure it cancels every order created in this call so far (the new order
// included) and closes the draft ledger record. The updated created list is
// always returned so the caller's visibility matches reality.
func (e *Engine) placeProtective(ctx context.Context, created []string, positionID string, refPrice float64, orderReq domain.OrderRequest) (*domain.ChildOrder, []string, error) {
	id, err := e.exchange.Submit(ctx, orderReq)
	if err != nil {
		e.logger.Error("protective order rejected, rolling back",
			slog.String("symbol", orderReq.Symbol),
			slog.String("type", string(orderReq.Type)),
			slog.String("error", err.Error()),
		)
		e.cancelAll(ctx, created)
		e.abortLedger(ctx, positionID, refPrice)
		return nil, created, err
	}
	created = append(created, id)

	state, err := e.awaitResting(ctx, id)
	if err != nil {
		e.logger.Error("protective order verification failed, rolling back",
			slog.String("symbol", orderReq.Symbol),
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		e.cancelAll(ctx, created)
		e.abortLedger(ctx, positionID, refPrice)
		return nil, created, err
	}

	return &domain.ChildOrder{
		OrderID:  id,
		Status:   state.Status,
		Price:    orderReq.Price,
		PlacedAt: time.Now().UTC(),
	}, created, nil
}

func stopOrderRequest(req PlacementRequest, direction domain.OrderDirection, qty float64) domain.OrderRequest {
	out := domain.OrderRequest{
		Symbol:     req.Symbol,
		Direction:  direction,
		Volume:     qty,
		ReduceOnly: true,
	}
	if req.Stop.Kind == domain.StopKindTrailing {
		out.Type = domain.OrderTypeTrailingStop
		out.TrailingPct = req.Stop.TrailingPct
	} else {
		out.Type = domain.OrderTypeStopLoss
		out.Price = req.Stop.Price
	}
	return out
}

func takeProfitOrderRequest(req PlacementRequest, direction domain.OrderDirection, qty float64) domain.OrderRequest {
	out := domain.OrderRequest{
		Symbol:     req.Symbol,
		Direction:  direction,
		Volume:     qty,
		Price:      req.TakeProfit.Price,
		ReduceOnly: true,
	}
	if req.TakeProfit.Kind == domain.TakeProfitKindLimit {
		out.Type = domain.OrderTypeLimit
	} else {
		out.Type = domain.OrderTypeTakeProfit
	}
	return out
}

// abortLedger closes a draft record created in the same call after its
// placement rolled back, so no phantom open position survives.
func (e *Engine) abortLedger(ctx context.Context, positionID string, refPrice float64) {
	if positionID == "" {
		return
	}
	if err := e.ledger.Close(ctx, positionID, refPrice, domain.CloseReasonAborted, "", time.Now().UTC()); err != nil {
		e.logger.Error("draft ledger record could not be aborted",
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
	}
}

// closeLedgerAfterExit marks the open (strategy, symbol) record closed after
// an explicit reduce-only exit. Failures are logged only; reconciliation
// infers the closure later if this write is missed.
func (e *Engine) closeLedgerAfterExit(ctx context.Context, strategyID, symbol string, exit domain.ChildOrder) {
	pos, err := e.ledger.FindOpen(ctx, strategyID, symbol)
	if err != nil {
		if !isLedgerMiss(err) {
			e.logger.Error("ledger lookup failed after exit",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	e.setLedgerOrder(ctx, pos.ID, domain.RoleExit, exit)

	exitPrice, err := e.markPrice(ctx, symbol)
	if err != nil {
		e.logger.Warn("no exit price available, deferring close to reconciliation",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := e.ledger.Close(ctx, pos.ID, exitPrice, domain.CloseReasonManual, exit.OrderID, time.Now().UTC()); err != nil {
		e.logger.Error("ledger close failed, reconciliation will heal",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}
