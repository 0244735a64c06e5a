package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// EntryDirection returns the order direction that opens a position on this side.
func (s Side) EntryDirection() OrderDirection {
	if s == SideShort {
		return DirectionSell
	}
	return DirectionBuy
}

// ExitDirection returns the order direction that reduces a position on this side.
func (s Side) ExitDirection() OrderDirection {
	if s == SideShort {
		return DirectionBuy
	}
	return DirectionSell
}

// CloseReason records why a position left the books.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonManual     CloseReason = "manual"
	// CloseReasonAborted marks a draft record whose entry order never
	// verified; the placement was rolled back and no exposure exists.
	CloseReasonAborted CloseReason = "aborted"
)

// OrderRole identifies the purpose of a child order within a position.
type OrderRole string

const (
	RoleEntry      OrderRole = "entry"
	RoleStopLoss   OrderRole = "stop_loss"
	RoleTakeProfit OrderRole = "take_profit"
	RoleExit       OrderRole = "exit"
)

// ChildOrder is the ledger's record of one exchange order attached to a
// position.
type ChildOrder struct {
	OrderID     string      `json:"order_id"`
	Status      OrderStatus `json:"status"`
	Price       float64     `json:"price"`
	StopKind    StopKind    `json:"stop_kind,omitempty"`
	TrailingPct float64     `json:"trailing_pct,omitempty"`
	PlacedAt    time.Time   `json:"placed_at"`
}

// Position is the unit of directional exposure the ledger tracks. Entry and
// exit prices are pre-trade reference quotes, not fill prices; realized P&L
// derived from them carries that approximation.
type Position struct {
	ID             string
	Strategy       string
	Symbol         string
	Side           Side
	Size           float64
	Status         PositionStatus
	EntryPrice     float64
	ExitPrice      *float64
	RealizedPnL    *float64
	CloseReason    CloseReason
	ClosingOrderID string
	OpenedAt       time.Time
	ClosedAt       *time.Time
	Orders         map[OrderRole]ChildOrder
}

// Order returns the child order recorded under role, if any.
func (p Position) Order(role OrderRole) (ChildOrder, bool) {
	o, ok := p.Orders[role]
	return o, ok
}

// RealizedPnL computes the profit of a round trip, sign-adjusted for side.
func RealizedPnL(side Side, entryPrice, exitPrice, size float64) float64 {
	pnl := (exitPrice - entryPrice) * size
	if side == SideShort {
		pnl = -pnl
	}
	return pnl
}
