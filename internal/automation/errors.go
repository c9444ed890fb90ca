package automation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrElementTimeout is returned when an awaited element never appeared.
	ErrElementTimeout = errors.New("element wait timed out")
	// ErrTriggerNotFound is returned when no strategy located the export control.
	ErrTriggerNotFound = errors.New("export trigger not found")
)

// ElementTimeoutError names the selector that was awaited.
type ElementTimeoutError struct {
	Selector string
	Waited   time.Duration
}

func (e *ElementTimeoutError) Error() string {
	return fmt.Sprintf("element %s did not appear within %s", e.Selector, e.Waited)
}

func (e *ElementTimeoutError) Is(target error) bool {
	return target == ErrElementTimeout
}

// TriggerError lists every strategy attempted and a summary of the page structure.
type TriggerError struct {
	Attempts    []string
	Diagnostics string
}

func (e *TriggerError) Error() string {
	msg := fmt.Sprintf("export menu item not found (tried: %s)", strings.Join(e.Attempts, ", "))
	if e.Diagnostics != "" {
		msg += "; page: " + e.Diagnostics
	}

	return msg
}

func (e *TriggerError) Is(target error) bool {
	return target == ErrTriggerNotFound
}
