package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/quantfold/marginbot/internal/config"
	"github.com/quantfold/marginbot/internal/domain"
)

// InstrumentTable resolves per-instrument precision and safety limits. It is
// implemented by *config.Config.
type InstrumentTable interface {
	Instrument(symbol string) config.InstrumentConfig
}

// Sizer converts a sizing intent into a concrete, precision-rounded,
// safety-capped instrument quantity.
type Sizer struct {
	exchange   domain.Exchange
	prices     domain.PriceCache // optional, nil disables the cache
	table      InstrumentTable
	quoteAsset string
	logger     *slog.Logger
}

// NewSizer creates a Sizer. prices may be nil, in which case every quote
// comes from the REST ticker.
func NewSizer(exchange domain.Exchange, prices domain.PriceCache, table InstrumentTable, quoteAsset string, logger *slog.Logger) *Sizer {
	return &Sizer{
		exchange:   exchange,
		prices:     prices,
		table:      table,
		quoteAsset: quoteAsset,
		logger:     logger.With(slog.String("component", "sizer")),
	}
}

// Size resolves intent under the given mode into an instrument quantity.
//
//   - fixed:   intent is the quantity itself.
//   - percent: quantity = (balance * intent/100) / price.
//   - risk:    quantity = (balance * intent/100) / (price * stopDistancePct/100),
//     sized so that a triggered stop loses exactly intent percent of balance.
//
// The result is rounded down to the instrument's size precision (or the
// explicit precision override) and clamped to the instrument ceiling. The
// ceiling is a circuit breaker against bad price feeds and misconfigured risk
// percentages: it applies even when the risk formula would justify more.
// Sizing failures happen before any order exists, so they never require
// rollback.
func (s *Sizer) Size(ctx context.Context, intent float64, mode domain.SizingMode, symbol string, stopDistancePct float64, precision *int) (float64, error) {
	if intent <= 0 {
		return 0, &domain.SizingError{Mode: mode, Reason: "intent must be positive"}
	}

	var qty float64
	switch mode {
	case domain.SizeFixed:
		qty = intent

	case domain.SizePercent, domain.SizeRisk:
		if mode == domain.SizeRisk && stopDistancePct <= 0 {
			return 0, &domain.SizingError{Mode: mode, Reason: "risk sizing requires a positive stop distance"}
		}

		balance, err := s.quoteBalance(ctx)
		if err != nil {
			return 0, fmt.Errorf("sizer: balance: %w", err)
		}
		price, err := markPrice(ctx, s.prices, s.exchange, symbol)
		if err != nil {
			return 0, fmt.Errorf("sizer: price %s: %w", symbol, err)
		}
		if price <= 0 {
			return 0, &domain.SizingError{Mode: mode, Reason: "no positive price available for " + symbol}
		}

		notional := balance * intent / 100
		if mode == domain.SizePercent {
			qty = notional / price
		} else {
			qty = notional / (price * stopDistancePct / 100)
		}

	default:
		return 0, &domain.SizingError{Mode: mode, Reason: "unknown sizing mode"}
	}

	ic := s.table.Instrument(symbol)
	prec := ic.SizePrecision
	if precision != nil {
		prec = *precision
	}

	rounded := decimal.NewFromFloat(qty).RoundFloor(int32(prec))
	out, _ := rounded.Float64()

	if ic.MaxSize > 0 && out > ic.MaxSize {
		s.logger.Warn("size clamped to instrument ceiling",
			slog.String("symbol", symbol),
			slog.Float64("requested", out),
			slog.Float64("ceiling", ic.MaxSize),
		)
		out = ic.MaxSize
	}

	if out <= 0 {
		return 0, &domain.SizingError{Mode: mode, Reason: "resolved quantity is zero after rounding"}
	}
	if ic.MinSize > 0 && out < ic.MinSize {
		return 0, &domain.SizingError{
			Mode:   mode,
			Reason: fmt.Sprintf("quantity %v below instrument minimum %v", out, ic.MinSize),
		}
	}

	return out, nil
}

func (s *Sizer) quoteBalance(ctx context.Context) (float64, error) {
	balances, err := s.exchange.Balance(ctx)
	if err != nil {
		return 0, err
	}
	return balances[s.quoteAsset], nil
}

// markPrice returns the freshest available price for symbol: the cache when
// present, the REST ticker otherwise. Cache errors are never fatal.
func markPrice(ctx context.Context, prices domain.PriceCache, exchange domain.Exchange, symbol string) (float64, error) {
	if prices != nil {
		// A missing or broken cache entry degrades to a REST lookup.
		if price, _, err := prices.GetPrice(ctx, symbol); err == nil && price > 0 {
			return price, nil
		}
	}

	tick, err := exchange.Ticker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return tick.Last, nil
}
