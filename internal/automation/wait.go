package automation

import (
	"context"
	"time"
)

// DefaultElementTimeout bounds WaitFor when the caller does not choose one.
const DefaultElementTimeout = 10 * time.Second

// recheckInterval re-queries the page between change notifications, so a
// missed or coalesced notification cannot stall a wait.
var recheckInterval = 250 * time.Millisecond

// WaitFor returns the first element matching selector. It resolves at once
// when the element is present, otherwise on the first page change after which
// it is present, and fails with *ElementTimeoutError after timeout.
func WaitFor(ctx context.Context, page Page, selector string, timeout time.Duration) (Element, error) {
	if el, ok, err := page.Query(ctx, selector); err != nil || ok {
		return el, err
	}

	if timeout <= 0 {
		timeout = DefaultElementTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	changes, stop := page.Changes(waitCtx)
	defer stop()

	recheck := time.NewTicker(recheckInterval)
	defer recheck.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			return nil, &ElementTimeoutError{Selector: selector, Waited: timeout}
		case <-changes:
		case <-recheck.C:
		}

		el, ok, err := page.Query(waitCtx, selector)
		if err != nil {
			if ctx.Err() == nil && waitCtx.Err() != nil {
				return nil, &ElementTimeoutError{Selector: selector, Waited: timeout}
			}

			return nil, err
		}

		if ok {
			return el, nil
		}
	}
}

// Sleep pauses for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
