package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TransportError means no HTTP response was obtained: network failure, timeout,
// cancellation or an open circuit breaker.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a timeout
func (e *TransportError) Timeout() bool {
	var netErr net.Error
	if errors.As(e.Err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// VendorStatusError is a non-2xx response. The vendor's body is kept for logging.
type VendorStatusError struct {
	StatusCode int
	Body       map[string]any
	RawBody    string
}

func (e *VendorStatusError) Error() string {
	if e.Body != nil {
		if errs, ok := e.Body["errors"]; ok {
			return fmt.Sprintf("vendor returned status %d: %v", e.StatusCode, errs)
		}
	}
	return fmt.Sprintf("vendor returned status %d: %s", e.StatusCode, e.RawBody)
}

// DecodeResponseError is a 2xx response whose body is not a JSON object
type DecodeResponseError struct {
	StatusCode int
	RawBody    string
	Err        error
}

func (e *DecodeResponseError) Error() string {
	return fmt.Sprintf("decode vendor response (status %d): %v", e.StatusCode, e.Err)
}

func (e *DecodeResponseError) Unwrap() error {
	return e.Err
}

// CountsAgainstBreaker reports whether err says the vendor is unhealthy.
// Client-side rejections (4xx other than 429) and undecodable bodies do not count.
func CountsAgainstBreaker(err error) bool {
	var statusErr *VendorStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError || statusErr.StatusCode == http.StatusTooManyRequests
	}
	var decodeErr *DecodeResponseError
	return !errors.As(err, &decodeErr)
}
