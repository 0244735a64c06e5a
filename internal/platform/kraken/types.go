package kraken

import (
	"encoding/json"
	"strconv"

	"github.com/quantfold/marginbot/internal/domain"
)

// apiResponse is the envelope every REST endpoint returns.
type apiResponse struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// tickerPayload is one pair's entry in the public Ticker result.
type tickerPayload struct {
	Ask  []string `json:"a"` // [price, wholeLotVolume, lotVolume]
	Bid  []string `json:"b"`
	Last []string `json:"c"` // [price, lotVolume]
}

// positionPayload is one open margin trade in the OpenPositions result.
// The venue reports one entry per opening trade; Client nets them per pair.
type positionPayload struct {
	Pair      string `json:"pair"`
	Type      string `json:"type"` // "buy" | "sell"
	Vol       string `json:"vol"`
	VolClosed string `json:"vol_closed"`
	Cost      string `json:"cost"`
}

// orderInfo is one order's entry in the QueryOrders result.
type orderInfo struct {
	Status  string `json:"status"` // pending | open | closed | canceled | expired
	Vol     string `json:"vol"`
	VolExec string `json:"vol_exec"`
	Price   string `json:"price"`
	Descr   struct {
		Ordertype string `json:"ordertype"`
	} `json:"descr"`
}

// mapOrderStatus translates a venue order status into the domain lifecycle.
// Trigger-type orders rest as conditionals, so an "open" trigger order maps to
// trigger_placed rather than placed.
func mapOrderStatus(venueStatus string, ordertype domain.OrderType) domain.OrderStatus {
	switch venueStatus {
	case "closed":
		return domain.OrderStatusFullyExecuted
	case "canceled":
		return domain.OrderStatusCancelled
	case "expired":
		return domain.OrderStatusFailed
	case "pending", "open":
		if ordertype.IsTrigger() {
			return domain.OrderStatusTriggerPlaced
		}
		return domain.OrderStatusPlaced
	default:
		return domain.OrderStatusFailed
	}
}

func parseF(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
