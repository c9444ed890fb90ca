package download

import (
	"errors"
	"fmt"
)

var (
	// ErrDownloadTimeout is returned when no matching download completed in time.
	ErrDownloadTimeout = errors.New("download timeout")
	// ErrDownloadInterrupted is returned when the browser reports the download as interrupted.
	ErrDownloadInterrupted = errors.New("download interrupted")
	// ErrDownloadFailed covers the remaining correlation failures.
	ErrDownloadFailed = errors.New("download failed")
)

// Reasons carried by downloadError notifications.
const (
	ReasonTimeout     = "timeout"
	ReasonInterrupted = "interrupted"
	ReasonNotFound    = "not_found"
	ReasonSearch      = "search_failed"
	ReasonMonitor     = "monitor_failed"
)

// Error is a correlation failure reported by the background watcher or the
// correlator itself.
type Error struct {
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.sentinel(), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

func (e *Error) sentinel() error {
	switch e.Reason {
	case ReasonTimeout:
		return ErrDownloadTimeout
	case ReasonInterrupted:
		return ErrDownloadInterrupted
	default:
		return ErrDownloadFailed
	}
}
