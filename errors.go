package registrar

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned for an empty token. No network call is made.
	ErrInvalidToken = errors.New("invalid device token")

	// ErrRejected is returned when the server refuses the token (4xx) or the
	// endpoint configuration is unusable. It is never retried.
	ErrRejected = errors.New("token registration rejected")

	// ErrTransientFailureExhausted is returned once the retry budget is spent.
	ErrTransientFailureExhausted = errors.New("token registration failed after retries")

	// ErrSuperseded is returned by a submission cancelled because a newer
	// token arrived.
	ErrSuperseded = errors.New("token superseded by a newer token")

	// ErrNoRecord is returned by stores (and Resume) when nothing was persisted.
	ErrNoRecord = errors.New("no registration record")
)

// APIError represents a non-2xx HTTP response from the registration endpoint.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
	URL        string
	Method     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, e.Status, e.Body)
}

// Temporary reports whether the response is a server-side (5xx) failure.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500
}

// EndpointError reports a registration endpoint that cannot be used.
type EndpointError struct {
	Endpoint string
	Reason   string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("invalid registration endpoint %q: %s", e.Endpoint, e.Reason)
}

// IsTransient reports whether a failed attempt is worth retrying.
// Transport errors and 5xx responses are transient; 4xx responses,
// endpoint misconfiguration and context cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var endpointErr *EndpointError
	if errors.As(err, &endpointErr) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}
