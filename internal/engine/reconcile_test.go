package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/marginbot/internal/domain"
)

func openLedgerPosition(t *testing.T, store *memStore) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), domain.Position{
		ID:         "pos-1",
		Strategy:   "trend-1",
		Symbol:     "XETHZUSD",
		Side:       domain.SideLong,
		Size:       0.5,
		Status:     domain.PositionStatusOpen,
		EntryPrice: 1950,
		OpenedAt:   time.Now().UTC().Add(-time.Hour),
		Orders: map[domain.OrderRole]domain.ChildOrder{
			domain.RoleEntry:      {OrderID: "ENT-1", Status: domain.OrderStatusFullyExecuted},
			domain.RoleStopLoss:   {OrderID: "STP-1", Status: domain.OrderStatusTriggerPlaced, Price: 1800},
			domain.RoleTakeProfit: {OrderID: "TPF-1", Status: domain.OrderStatusTriggerPlaced, Price: 2100},
		},
	}))
}

func TestSyncWithExchange_NothingOnEitherSide(t *testing.T) {
	ex := newFakeExchange()
	store := newMemStore()
	eng := newTestEngine(ex, store)

	changed, err := eng.SyncWithExchange(context.Background(), "trend-1", "XETHZUSD")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Zero(t, store.writeCount())
}

func TestSyncWithExchange_StopFilled_ClosesWithStopReason(t *testing.T) {
	ex := newFakeExchange()
	store := newMemStore()
	openLedgerPosition(t, store)
	seeded := store.writeCount()

	// The position is gone from the venue and the stop shows a fill.
	ex.setOrderStatus("ENT-1", domain.OrderStatusFullyExecuted)
	ex.setOrderStatus("STP-1", domain.OrderStatusFullyExecuted)
	ex.setOrderStatus("TPF-1", domain.OrderStatusCancelled)
	ex.tickers["XETHZUSD"] = 1795

	eng := newTestEngine(ex, store)
	changed, err := eng.SyncWithExchange(context.Background(), "trend-1", "XETHZUSD")
	require.NoError(t, err)
	assert.True(t, changed)

	pos, err := store.GetByID(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.Equal(t, domain.CloseReasonStopLoss, pos.CloseReason)
	assert.Equal(t, "STP-1", pos.ClosingOrderID)
	require.NotNil(t, pos.ExitPrice)
	assert.Equal(t, 1795.0, *pos.ExitPrice)
	require.NotNil(t, pos.RealizedPnL)
	assert.InDelta(t, (1795-1950)*0.5, *pos.RealizedPnL, 1e-9)

	// A second pass sees converged state and writes nothing.
	writesAfterClose := store.writeCount()
	assert.Greater(t, writesAfterClose, seeded)
	changed, err = eng.SyncWithExchange(context.Background(), "trend-1", "XETHZUSD")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, writesAfterClose, store.writeCount())
}

func TestSyncWithExchange_TakeProfitFilled(t *testing.T) {
	ex := newFakeExchange()
	store := newMemStore()
	openLedgerPosition(t, store)

	ex.setOrderStatus("STP-1", domain.OrderStatusCancelled)
	ex.setOrderStatus("TPF-1", domain.OrderStatusFullyExecuted)
	ex.tickers["XETHZUSD"] = 2105

	eng := newTestEngine(ex, store)
	changed, err := eng.SyncWithExchange(context.Background(), "trend-1", "XETHZUSD")
	require.NoError(t, err)
	assert.True(t, changed)

	pos, err := store.GetByID(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CloseReasonTakeProfit, pos.CloseReason)
	assert.Equal(t, "TPF-1", pos.ClosingOrderID)
}

func TestSyncWithExchange_PositionGoneNoFills_ManualClose(t *testing.T) {
	ex := newFakeExchange()
	store := newMemStore()
	openLedgerPosition(t, store)

	// Protective orders were cancelled out-of-band and the position closed
	// by hand; no fill explains the disappearance.
	ex.setOrderStatus("STP-1", domain.OrderStatusCancelled)
	ex.setOrderStatus("TPF-1", domain.OrderStatusCancelled)

	eng := newTestEngine(ex, store)
	changed, err := eng.SyncWithExchange(context.Background(), "trend-1", "XETHZUSD")
	require.NoError(t, err)
	assert.True(t, changed)

	pos, err := store.GetByID(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CloseReasonManual, pos.CloseReason)
	assert.Empty(t, pos.ClosingOrderID)
}

func TestSyncWithExchange_OrphanExchangePosition_NeverAutoCloses(t *testing.T) {
	ex := newFakeExchange()
	ex.positions = []domain.ExchangePosition{
		{Symbol: "XETHZUSD", Side: domain.SideShort, Size: 1.2, EntryPrice: 2050},
	}
	store := newMemStore()
	eng := newTestEngine(ex, store)

	changed, err := eng.SyncWithExchange(context.Background(), "trend-1", "XETHZUSD")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Zero(t, store.writeCount())
	assert.Empty(t, ex.submitted, "reconciliation must not trade")
	assert.Empty(t, ex.cancelled)
}

func TestSyncWithExchange_RefreshesChangedChildOrders(t *testing.T) {
	ex := newFakeExchange()
	ex.positions = []domain.ExchangePosition{
		{Symbol: "XETHZUSD", Side: domain.SideLong, Size: 0.5, EntryPrice: 1950},
	}
	store := newMemStore()
	openLedgerPosition(t, store)

	// Take-profit got cancelled on the venue; stop and entry are unchanged.
	ex.setOrderStatus("ENT-1", domain.OrderStatusFullyExecuted)
	ex.setOrderStatus("STP-1", domain.OrderStatusTriggerPlaced)
	ex.setOrderStatus("TPF-1", domain.OrderStatusCancelled)

	eng := newTestEngine(ex, store)
	before := store.writeCount()
	changed, err := eng.SyncWithExchange(context.Background(), "trend-1", "XETHZUSD")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, before+1, store.writeCount(), "only the moved order is rewritten")

	pos, err := store.FindOpen(context.Background(), "trend-1", "XETHZUSD")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, domain.OrderStatusCancelled, pos.Orders[domain.RoleTakeProfit].Status)
	assert.Equal(t, domain.OrderStatusTriggerPlaced, pos.Orders[domain.RoleStopLoss].Status)

	// Converged; the next pass is a no-op.
	after := store.writeCount()
	changed, err = eng.SyncWithExchange(context.Background(), "trend-1", "XETHZUSD")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, after, store.writeCount())
}

func TestSyncWithExchange_UnknownOrderIsSkipped(t *testing.T) {
	ex := newFakeExchange()
	ex.positions = []domain.ExchangePosition{
		{Symbol: "XETHZUSD", Side: domain.SideLong, Size: 0.5, EntryPrice: 1950},
	}
	store := newMemStore()
	openLedgerPosition(t, store)
	// None of the child orders resolve on the venue anymore.

	eng := newTestEngine(ex, store)
	before := store.writeCount()
	changed, err := eng.SyncWithExchange(context.Background(), "trend-1", "XETHZUSD")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, before, store.writeCount())
}
