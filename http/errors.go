package http

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TransportError reports a non-2xx response or an undecodable body from
// the vendor API or a signed media URL.
type TransportError struct {
	// URL is the request URL without its query string.
	URL string
	// StatusCode is the HTTP status code, or 0 when the body could not be decoded.
	StatusCode int
	// Messages are the API's own error descriptions, when it sent any.
	Messages []string
	// Err is the underlying decode error, if any.
	Err error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, "http error: status %d", e.StatusCode)
	} else {
		b.WriteString("http error: malformed response")
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " from %s", e.URL)
	}
	if len(e.Messages) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Messages, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthError reports a 401 or 403 from the vendor API. The stored bearer
// token is missing, expired or revoked; retrying cannot help.
type AuthError struct {
	StatusCode int
	Messages   []string
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("unauthorized (status %d): run `hsdl login` first", e.StatusCode)
	if len(e.Messages) > 0 {
		msg += ": " + strings.Join(e.Messages, "; ")
	}
	return msg
}

// Is lets errors.Is(err, ErrUnauthorized) match any *AuthError.
func (e *AuthError) Is(target error) bool {
	return target == ErrUnauthorized
}

// RateLimitError indicates the server rate limited the request.
type RateLimitError struct {
	// StatusCode is the HTTP status code (429 or 503)
	StatusCode int
	// RetryAfter indicates how long to wait before retrying
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (status %d): retry after %v", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (status %d)", e.StatusCode)
}

// Sentinel errors for HTTP operations.
var (
	// ErrUnauthorized matches every *AuthError.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrCircuitOpen is returned once too many consecutive requests to a host
	// have failed.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// IsFatal reports whether err should stop a whole multi-item run rather
// than just the current item.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrCircuitOpen)
}
