package domain

import (
	"context"
	"time"
)

// Ticker is a point-in-time market quote.
type Ticker struct {
	Symbol string
	Last   float64
	Bid    float64
	Ask    float64
	Time   time.Time
}

// ExchangePosition is the venue's authoritative view of an open position,
// netted per symbol.
type ExchangePosition struct {
	Symbol     string
	Side       Side
	Size       float64
	EntryPrice float64
}

// OrderRequest is the payload for submitting one order.
type OrderRequest struct {
	Symbol      string
	Direction   OrderDirection
	Type        OrderType
	Volume      float64
	Price       float64 // trigger or limit price; unused for market orders
	TrailingPct float64 // trailing stops only
	ReduceOnly  bool
}

// OrderState is the venue's view of a previously submitted order.
type OrderState struct {
	ID             string
	Status         OrderStatus
	Volume         float64
	VolumeExecuted float64
	Price          float64
}

// Exchange is the signed, stateless primitive surface of the venue REST API.
// Implementations perform no retries: blindly resubmitting an order risks a
// duplicate fill, so retry decisions belong to callers that understand order
// semantics. Transport and venue failures wrap ErrExchangeUnavailable.
type Exchange interface {
	// Ticker returns the current public quote for symbol.
	Ticker(ctx context.Context, symbol string) (Ticker, error)

	// Balance returns account balances keyed by asset code.
	Balance(ctx context.Context) (map[string]float64, error)

	// OpenPositions returns the live margin positions, netted per symbol.
	OpenPositions(ctx context.Context) ([]ExchangePosition, error)

	// Submit places an order and returns the venue order id. A venue-side
	// rejection is reported as ErrOrderRejected; nothing was created.
	Submit(ctx context.Context, req OrderRequest) (string, error)

	// OrderStatus looks up one order by id. Recently accepted orders may
	// transiently report ErrNotFound while the venue settles them.
	OrderStatus(ctx context.Context, id string) (OrderState, error)

	// Cancel cancels an open order by id.
	Cancel(ctx context.Context, id string) error
}
