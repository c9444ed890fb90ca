package transfer

import (
	"errors"
	"fmt"
)

// ErrFetchFailed classifies every failed asset transfer seen by the requester.
var ErrFetchFailed = errors.New("asset fetch failed")

// FetchError is returned by Client.Download when the transfer does not complete.
type FetchError struct {
	URL    string // asset URL that was requested
	Reason string // message reported by the serving side, or why the session ended
	Err    error  // underlying error, if any
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %s", e.URL, e.Reason)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// ProtocolError represents a malformed or out-of-order frame on a transfer session.
type ProtocolError struct {
	Frame  string // frame type that violated the protocol
	Reason string // human-readable explanation
	Err    error  // underlying error, if any
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("invalid %s frame: %s", e.Frame, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NetworkError represents HTTP failures while fetching a resource, including
// non-2xx responses and connection errors.
type NetworkError struct {
	Operation  string // the operation that failed, e.g. "fetch_asset"
	StatusCode int    // HTTP status code, 0 for non-HTTP errors
	APIMessage string // status text or network error message
	Err        error  // underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.APIMessage)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.APIMessage)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AuthenticationError represents 401 and 403 responses, typically an expired
// signed URL or missing session cookies.
type AuthenticationError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed during %s (HTTP %d)", e.Operation, e.StatusCode)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}
