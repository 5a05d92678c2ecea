package gateway

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// Kind classifies a brokerage call failure for retry and propagation policy.
type Kind int

const (
	KindOK Kind = iota
	// KindTransient covers rate limits, broker 5xx and network failures.
	// The gateway retries these with backoff before surfacing them.
	KindTransient
	// KindValidation covers precondition failures (broker 422/403). Never
	// retried: the request will fail identically on every attempt.
	KindValidation
	// KindConflict is a wash-trade rejection. Surfaced so the caller can run
	// its conflict-resolution protocol; retrying blindly would loop.
	KindConflict
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	default:
		return "other"
	}
}

// Classify maps an error from the Alpaca SDK (or the network layer below it)
// onto the retry taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return KindOK
	}

	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return KindTransient
		case apiErr.StatusCode >= 500:
			return KindTransient
		case apiErr.StatusCode == 403 && strings.Contains(strings.ToLower(apiErr.Message), "wash"):
			return KindConflict
		case apiErr.StatusCode == 422 || apiErr.StatusCode == 403:
			return KindValidation
		default:
			return KindOther
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	return KindOther
}
