package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quantfold/marginbot/internal/domain"
)

// RetryPolicy controls order verification polling. The venue accepts orders
// asynchronously, so verification waits SettleDelay once, then polls order
// status up to MaxAttempts times with a fixed Delay in between. Settlement
// latency is small and bounded, so exponential backoff buys nothing here.
type RetryPolicy struct {
	SettleDelay time.Duration
	Delay       time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy matches typical venue settlement latency.
var DefaultRetryPolicy = RetryPolicy{
	SettleDelay: 1500 * time.Millisecond,
	Delay:       time.Second,
	MaxAttempts: 5,
}

// awaitOrder polls orderID until accept returns true for its status. A
// status of cancelled or failed, or exhaustion of the polling budget, is
// reported as ErrVerificationTimeout: the venue accepted the order but it
// never reached the expected state, and the caller must treat the order set
// as suspect. Transient "not found" responses are retried, since a freshly
// accepted order may not be queryable yet.
func (e *Engine) awaitOrder(ctx context.Context, orderID string, accept func(domain.OrderStatus) bool) (domain.OrderState, error) {
	if err := sleepCtx(ctx, e.policy.SettleDelay); err != nil {
		return domain.OrderState{}, err
	}

	var last domain.OrderState
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		state, err := e.exchange.OrderStatus(ctx, orderID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Not queryable yet; keep polling.
		case err != nil:
			return domain.OrderState{}, err
		default:
			last = state
			if accept(state.Status) {
				return state, nil
			}
			if state.Status == domain.OrderStatusCancelled || state.Status == domain.OrderStatusFailed {
				return state, fmt.Errorf("order %s reached terminal status %s: %w",
					orderID, state.Status, domain.ErrVerificationTimeout)
			}
		}

		if attempt < e.policy.MaxAttempts {
			if err := sleepCtx(ctx, e.policy.Delay); err != nil {
				return domain.OrderState{}, err
			}
		}
	}

	return last, fmt.Errorf("order %s not verified after %d attempts: %w",
		orderID, e.policy.MaxAttempts, domain.ErrVerificationTimeout)
}

// awaitExecuted waits for a market order to fill completely.
func (e *Engine) awaitExecuted(ctx context.Context, orderID string) (domain.OrderState, error) {
	return e.awaitOrder(ctx, orderID, func(s domain.OrderStatus) bool {
		return s == domain.OrderStatusFullyExecuted
	})
}

// awaitResting waits for a protective order to rest on the book or as a
// trigger. An immediate fill also counts: a stop that executed on placement
// has done its job.
func (e *Engine) awaitResting(ctx context.Context, orderID string) (domain.OrderState, error) {
	return e.awaitOrder(ctx, orderID, func(s domain.OrderStatus) bool {
		return s.Resting() || s == domain.OrderStatusFullyExecuted
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
