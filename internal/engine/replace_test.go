package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/marginbot/internal/domain"
)

func replaceFixture(t *testing.T) (*fakeExchange, *memStore, *Engine) {
	t.Helper()
	ex := newFakeExchange()
	ex.positions = []domain.ExchangePosition{
		{Symbol: "XETHZUSD", Side: domain.SideLong, Size: 0.5, EntryPrice: 1950},
	}
	ex.setOrderStatus("OLD-1", domain.OrderStatusTriggerPlaced)

	store := newMemStore()
	require.NoError(t, store.Create(context.Background(), domain.Position{
		ID:       "pos-1",
		Strategy: "trend-1",
		Symbol:   "XETHZUSD",
		Side:     domain.SideLong,
		Size:     0.5,
		Status:   domain.PositionStatusOpen,
		Orders: map[domain.OrderRole]domain.ChildOrder{
			domain.RoleStopLoss: {OrderID: "OLD-1", Status: domain.OrderStatusTriggerPlaced, Price: 1800},
		},
	}))
	return ex, store, newTestEngine(ex, store)
}

func TestReplaceProtective_NewVerifiedThenOldCancelled(t *testing.T) {
	ex, store, eng := replaceFixture(t)

	res, err := eng.ReplaceProtective(context.Background(), ReplaceRequest{
		Symbol:     "XETHZUSD",
		Role:       domain.RoleStopLoss,
		OldOrderID: "OLD-1",
		Stop:       domain.FixedStop(1850),
		StrategyID: "trend-1",
	})
	require.NoError(t, err)
	assert.True(t, res.OldCancelled)
	assert.NotEmpty(t, res.NewOrderID)

	// The new order went in before the old one came out.
	req := ex.submitted[0]
	assert.Equal(t, domain.OrderTypeStopLoss, req.Type)
	assert.Equal(t, 1850.0, req.Price)
	assert.Equal(t, 0.5, req.Volume, "replacement covers the live size")
	assert.True(t, req.ReduceOnly)
	assert.True(t, ex.wasCancelled("OLD-1"))

	pos, err := store.GetByID(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.Equal(t, res.NewOrderID, pos.Orders[domain.RoleStopLoss].OrderID)
	assert.Equal(t, 1850.0, pos.Orders[domain.RoleStopLoss].Price)
}

func TestReplaceProtective_NewRejected_OldUntouched(t *testing.T) {
	ex, store, eng := replaceFixture(t)
	ex.rejectTypes[domain.OrderTypeStopLoss] = true

	_, err := eng.ReplaceProtective(context.Background(), ReplaceRequest{
		Symbol:     "XETHZUSD",
		Role:       domain.RoleStopLoss,
		OldOrderID: "OLD-1",
		Stop:       domain.FixedStop(1850),
		StrategyID: "trend-1",
	})
	require.ErrorIs(t, err, domain.ErrReplacementFailed)
	require.ErrorIs(t, err, domain.ErrOrderRejected)

	assert.Empty(t, ex.cancelled, "old protection must stay in place")

	pos, err := store.GetByID(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.Equal(t, "OLD-1", pos.Orders[domain.RoleStopLoss].OrderID)
}

func TestReplaceProtective_NewVerifyFails_NewRemovedOldKept(t *testing.T) {
	ex, _, eng := replaceFixture(t)
	ex.failTypes[domain.OrderTypeStopLoss] = true

	_, err := eng.ReplaceProtective(context.Background(), ReplaceRequest{
		Symbol:     "XETHZUSD",
		Role:       domain.RoleStopLoss,
		OldOrderID: "OLD-1",
		Stop:       domain.FixedStop(1850),
	})
	require.ErrorIs(t, err, domain.ErrReplacementFailed)

	assert.True(t, ex.wasCancelled("ORD-1"), "unverified replacement is swept")
	assert.False(t, ex.wasCancelled("OLD-1"))
}

func TestReplaceProtective_OldCancelFails_DuplicateProtectionTolerated(t *testing.T) {
	ex, _, eng := replaceFixture(t)
	ex.cancelErr["OLD-1"] = errors.New("venue: cancel refused")

	res, err := eng.ReplaceProtective(context.Background(), ReplaceRequest{
		Symbol:     "XETHZUSD",
		Role:       domain.RoleStopLoss,
		OldOrderID: "OLD-1",
		Stop:       domain.FixedStop(1850),
	})
	require.NoError(t, err, "duplicate protection is the safe failure direction")
	assert.False(t, res.OldCancelled)
	assert.NotEmpty(t, res.NewOrderID)
}

func TestReplaceProtective_TakeProfitAsLimit(t *testing.T) {
	ex, _, eng := replaceFixture(t)
	ex.setOrderStatus("OLD-TP", domain.OrderStatusPlaced)

	res, err := eng.ReplaceProtective(context.Background(), ReplaceRequest{
		Symbol:     "XETHZUSD",
		Role:       domain.RoleTakeProfit,
		OldOrderID: "OLD-TP",
		TakeProfit: domain.LimitTakeProfit(2150),
	})
	require.NoError(t, err)
	assert.True(t, res.OldCancelled)

	req := ex.submitted[0]
	assert.Equal(t, domain.OrderTypeLimit, req.Type)
	assert.Equal(t, 2150.0, req.Price)
	assert.Equal(t, domain.DirectionSell, req.Direction)
	assert.True(t, req.ReduceOnly)
}

func TestReplaceProtective_RejectsNonProtectiveRole(t *testing.T) {
	_, _, eng := replaceFixture(t)

	_, err := eng.ReplaceProtective(context.Background(), ReplaceRequest{
		Symbol:     "XETHZUSD",
		Role:       domain.RoleEntry,
		OldOrderID: "OLD-1",
	})
	require.Error(t, err)
}

func TestReplaceProtective_NoLivePosition(t *testing.T) {
	ex := newFakeExchange()
	eng := newTestEngine(ex, newMemStore())

	_, err := eng.ReplaceProtective(context.Background(), ReplaceRequest{
		Symbol:     "XETHZUSD",
		Role:       domain.RoleStopLoss,
		OldOrderID: "OLD-1",
		Stop:       domain.FixedStop(1850),
	})
	require.ErrorIs(t, err, domain.ErrNoOpenPosition)
	assert.Empty(t, ex.submitted)
}
