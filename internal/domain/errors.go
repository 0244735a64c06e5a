package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrExchangeUnavailable wraps transport or venue failures from the
	// exchange client. The client never retries on its own.
	ErrExchangeUnavailable = errors.New("exchange unavailable")

	// ErrOrderRejected means the venue declined an order submission outright;
	// nothing was created and no rollback is needed.
	ErrOrderRejected = errors.New("order rejected")

	// ErrVerificationTimeout means the venue accepted an order but it did not
	// reach the expected state within the polling budget. Everything created
	// in the same call is rolled back.
	ErrVerificationTimeout = errors.New("order verification timed out")

	// ErrReplacementFailed means the replacement protective order failed
	// verification. The old order is left intact and the ledger untouched.
	ErrReplacementFailed = errors.New("protective order replacement failed")

	// ErrNoOpenPosition means a reduce-only request found no live exchange
	// position to close.
	ErrNoOpenPosition = errors.New("no open exchange position")
)

// SizingError reports invalid sizing inputs. It is raised before any exchange
// call, so it never implies side effects.
type SizingError struct {
	Mode   SizingMode
	Reason string
}

func (e *SizingError) Error() string {
	return fmt.Sprintf("sizing (%s): %s", e.Mode, e.Reason)
}
