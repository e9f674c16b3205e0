package engine

import (
	"errors"
	"fmt"

	"signal-core/pkg/binance/futures"
)

// Failure kinds surfaced to the webhook caller. Malformed signals are
// classified upstream by the signal package before any exchange call.
var (
	// ErrOrderRejected means the exchange declined an order. It aborts
	// only the specific action that failed, never sibling actions.
	ErrOrderRejected = errors.New("order rejected")

	// ErrAuth means signing or credentials failed. Fatal for the current
	// operation; the stream supervisor keeps running.
	ErrAuth = errors.New("authentication failed")

	// ErrTransient covers timeouts and connection errors. Order placement
	// is never silently retried on these: a retried market order risks
	// duplicate execution.
	ErrTransient = errors.New("transient network error")
)

// Binance error codes for bad API keys / signatures.
const (
	codeRejectedMBXKey   = -2014
	codeInvalidAPIKey    = -2015
	codeInvalidSignature = -1022
)

// classify maps a raw client error onto the engine's failure taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *futures.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatus == 401 || apiErr.HTTPStatus == 403,
			apiErr.Code == codeRejectedMBXKey,
			apiErr.Code == codeInvalidAPIKey,
			apiErr.Code == codeInvalidSignature:
			return fmt.Errorf("%w: %v", ErrAuth, err)
		case apiErr.HTTPStatus >= 500:
			return fmt.Errorf("%w: %v", ErrTransient, err)
		default:
			return fmt.Errorf("%w: %v", ErrOrderRejected, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
