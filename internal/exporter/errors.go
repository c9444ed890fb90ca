package exporter

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyInProgress = errors.New("export already in progress")
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrContentTooShort   = errors.New("exported content too short")
	ErrContentIsMarkup   = errors.New("exported content is an HTML page")
)

// MinContentLength is the shortest text accepted as a real export.
const MinContentLength = 50

const previewLength = 100

// StageError records the state a run failed in.
type StageError struct {
	State State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FormatError is returned when the downloaded file is not markdown.
type FormatError struct {
	Filename string
	Guidance string
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("unsupported export format: %s", e.Filename)
	if e.Guidance != "" {
		msg += " (" + e.Guidance + ")"
	}

	return msg
}

func (e *FormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

// ContentError is returned when the downloaded text is not a usable document.
type ContentError struct {
	Reason  error
	Length  int
	Preview string
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("%v (length %d): %q", e.Reason, e.Length, e.Preview)
}

func (e *ContentError) Unwrap() error {
	return e.Reason
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > previewLength {
		return string(r[:previewLength])
	}

	return s
}
