package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest mark price per symbol.
// Entries expire; a miss is reported as ErrNotFound and callers fall back to
// the exchange ticker.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}
