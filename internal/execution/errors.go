package execution

import (
	"errors"
	"fmt"
	"strings"

	"folio_pilot/internal/gateway"
)

// Error kinds surfaced to callers of the execution engine. All are wrapped
// with %w so errors.Is works through the chain.
var (
	// ErrInsufficientPosition is a local precondition failure: the ledger
	// shows fewer shares than the sell requests. Never retried, and no
	// brokerage call is issued.
	ErrInsufficientPosition = errors.New("insufficient position")

	// ErrInsufficientBuyingPower is the broker refusing a buy for lack of
	// funds. Not retryable.
	ErrInsufficientBuyingPower = errors.New("insufficient buying power")

	// ErrRateLimited surfaces only after the gateway exhausts its retry
	// budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrWashTrade is a wash-trade rejection that survived best-effort
	// conflict resolution. Retry later, after open orders settle.
	ErrWashTrade = errors.New("order rejected: wash trade")

	// ErrOrderRejected covers every other broker-side rejection.
	ErrOrderRejected = errors.New("order rejected")
)

// mapOrderError translates a gateway/broker failure into the execution
// error taxonomy.
func mapOrderError(err error) error {
	if err == nil {
		return nil
	}
	switch gateway.Classify(err) {
	case gateway.KindTransient:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case gateway.KindConflict:
		return fmt.Errorf("%w: %v", ErrWashTrade, err)
	case gateway.KindValidation:
		if strings.Contains(strings.ToLower(err.Error()), "buying power") {
			return fmt.Errorf("%w: %v", ErrInsufficientBuyingPower, err)
		}
		return fmt.Errorf("%w: %v", ErrOrderRejected, err)
	default:
		return fmt.Errorf("%w: %v", ErrOrderRejected, err)
	}
}
