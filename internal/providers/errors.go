package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrProviderNotFound      = errors.New("provider not found")
	ErrCredentialMissing     = errors.New("credential missing")
	ErrUpstreamHTTP          = errors.New("upstream http error")
	ErrUpstreamTimeout       = errors.New("upstream timeout")
	ErrEmptyResponse         = errors.New("empty response")
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
)

// maxErrorBody bounds how much of an upstream error body is kept
const maxErrorBody = 2048

// UpstreamHTTPError is returned when a provider answers with a non-2xx status
type UpstreamHTTPError struct {
	Provider string
	Status   int
	Body     string
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("provider %s returned status %d: %s", e.Provider, e.Status, e.Body)
}

// Is lets errors.Is(err, ErrUpstreamHTTP) match any status.
func (e *UpstreamHTTPError) Is(target error) bool {
	return target == ErrUpstreamHTTP
}

// NewUpstreamHTTPError truncates the body to a loggable size.
func NewUpstreamHTTPError(provider string, status int, body string) *UpstreamHTTPError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &UpstreamHTTPError{Provider: provider, Status: status, Body: body}
}

// CredentialMissing reports an absent credential without touching the network
func CredentialMissing(provider, ref string) error {
	return fmt.Errorf("provider %s: %w (%s)", provider, ErrCredentialMissing, ref)
}

// EmptyResponse reports a successful call that produced no usable text
func EmptyResponse(provider string) error {
	return fmt.Errorf("provider %s: %w", provider, ErrEmptyResponse)
}

// TransportError normalizes a failed call. Deadline and network timeouts
// become ErrUpstreamTimeout; cancellation keeps context.Canceled visible.
func TransportError(ctx context.Context, provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("provider %s: %w", provider, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("provider %s: %w: %v", provider, ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("provider %s call failed: %w", provider, err)
}

// Classify maps an error to a stable label used in logs and spans
func Classify(err error) string {
	var httpErr *UpstreamHTTPError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCredentialMissing):
		return "credential_missing"
	case errors.As(err, &httpErr):
		return "upstream_http"
	case errors.Is(err, ErrUpstreamTimeout):
		return "upstream_timeout"
	case errors.Is(err, ErrEmptyResponse):
		return "empty_response"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrProviderNotFound):
		return "provider_not_found"
	default:
		return "transport"
	}
}
