package domain

// OrderDirection indicates whether an order buys or sells.
type OrderDirection string

const (
	DirectionBuy  OrderDirection = "buy"
	DirectionSell OrderDirection = "sell"
)

// OrderType is the venue order type.
type OrderType string

const (
	OrderTypeMarket       OrderType = "market"
	OrderTypeLimit        OrderType = "limit"
	OrderTypeStopLoss     OrderType = "stop-loss"
	OrderTypeTrailingStop OrderType = "trailing-stop"
	OrderTypeTakeProfit   OrderType = "take-profit"
)

// IsTrigger reports whether this order type rests as a conditional trigger
// rather than entering the book directly.
func (t OrderType) IsTrigger() bool {
	switch t {
	case OrderTypeStopLoss, OrderTypeTrailingStop, OrderTypeTakeProfit:
		return true
	default:
		return false
	}
}

// OrderStatus tracks a child order's lifecycle.
type OrderStatus string

const (
	OrderStatusPlaced        OrderStatus = "placed"
	OrderStatusTriggerPlaced OrderStatus = "trigger_placed"
	OrderStatusFullyExecuted OrderStatus = "fully_executed"
	OrderStatusCancelled     OrderStatus = "cancelled"
	OrderStatusFailed        OrderStatus = "failed"
)

// Resting reports whether the order is alive on the exchange waiting to
// execute or trigger.
func (s OrderStatus) Resting() bool {
	return s == OrderStatusPlaced || s == OrderStatusTriggerPlaced
}

// StopKind distinguishes fixed-price stops from trailing stops.
type StopKind string

const (
	StopKindFixed    StopKind = "fixed"
	StopKindTrailing StopKind = "trailing"
)

// StopConfig describes stop-loss intent. The zero value means "no stop".
type StopConfig struct {
	Kind        StopKind
	Price       float64 // trigger price, fixed stops only
	TrailingPct float64 // distance in percent, trailing stops only
}

// FixedStop returns a stop-loss config with an explicit trigger price.
func FixedStop(price float64) StopConfig {
	return StopConfig{Kind: StopKindFixed, Price: price}
}

// TrailingStop returns a stop-loss config that follows favorable price
// movement at the given percentage distance.
func TrailingStop(pct float64) StopConfig {
	return StopConfig{Kind: StopKindTrailing, TrailingPct: pct}
}

// Enabled reports whether a stop order was requested.
func (c StopConfig) Enabled() bool { return c.Kind != "" }

// TakeProfitKind distinguishes trigger-style take-profits from plain limit
// targets.
type TakeProfitKind string

const (
	TakeProfitKindTrigger TakeProfitKind = "trigger"
	TakeProfitKindLimit   TakeProfitKind = "limit"
)

// TakeProfitConfig describes take-profit intent. The zero value means "no
// take-profit".
type TakeProfitConfig struct {
	Kind  TakeProfitKind
	Price float64
}

// TriggerTakeProfit returns a take-profit config using a venue trigger order.
func TriggerTakeProfit(price float64) TakeProfitConfig {
	return TakeProfitConfig{Kind: TakeProfitKindTrigger, Price: price}
}

// LimitTakeProfit returns a take-profit config using a resting limit order at
// the target price.
func LimitTakeProfit(price float64) TakeProfitConfig {
	return TakeProfitConfig{Kind: TakeProfitKindLimit, Price: price}
}

// Enabled reports whether a take-profit order was requested.
func (c TakeProfitConfig) Enabled() bool { return c.Kind != "" }

// SizingMode selects how a sizing intent is interpreted.
type SizingMode string

const (
	SizeFixed   SizingMode = "fixed"   // intent is the quantity itself
	SizePercent SizingMode = "percent" // intent is a percent of balance
	SizeRisk    SizingMode = "risk"    // intent is a percent of balance at risk against the stop
)
