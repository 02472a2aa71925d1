package business

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/antinvestor/daraja-api/service/coreapi"
)

var (
	ErrServiceDisabled = errors.New("push payments are administratively disabled")

	ErrRequestDoesNotExist = errors.New("specified payment request does not exist")

	// ErrDuplicateDelivery is internal only: an already-seen webhook
	// delivery, always resolved as a silent no-op at the boundary.
	ErrDuplicateDelivery = errors.New("duplicate callback delivery")

	// ErrUnmatchedCallback is internal only: a webhook that correlates to
	// no known request. Persisted for audit, never surfaced to the provider.
	ErrUnmatchedCallback = errors.New("callback could not be matched to a payment request")

	// ErrReconciliationConflict is internal only: a ledger confirmation
	// contradicting an already failed or expired request.
	ErrReconciliationConflict = errors.New("ledger confirmation contradicts terminal payment request")
)

// ValidationError rejects malformed initiation input before any external call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProviderError is a failed gateway call, mapped from the provider's answer.
type ProviderError struct {
	Code        string
	Message     string
	RateLimited bool
	Temporary   bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error: code=%s message=%s", e.Code, e.Message)
}

// MapProviderError translates gateway failures into the domain taxonomy so
// the rest of the engine never handles provider specifics directly.
func MapProviderError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *coreapi.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Code:        apiErr.Code,
			Message:     apiErr.Message,
			RateLimited: apiErr.RateLimited(),
			Temporary:   apiErr.Temporary(),
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{Code: "timeout", Message: err.Error(), Temporary: true}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Code: "timeout", Message: err.Error(), Temporary: true}
	}

	return &ProviderError{Code: "unavailable", Message: err.Error(), Temporary: true}
}
