// Package automation drives the Yuque document UI through a small page
// abstraction: element lookup, waiting for elements to appear, locating the
// export trigger and reading embedded video cards.
package automation

import "context"

// Element is a handle to a DOM element.
type Element interface {
	Click(ctx context.Context) error
	Hover(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	// Attr returns the element's property when it is a non-empty string,
	// falling back to the attribute. ok is false when neither is set.
	Attr(ctx context.Context, name string) (value string, ok bool, err error)
	// Query returns the first descendant matching selector.
	Query(ctx context.Context, selector string) (Element, bool, error)
	// Closest returns the nearest ancestor-or-self matching selector.
	Closest(ctx context.Context, selector string) (Element, bool, error)
	// Describe returns a short markup excerpt for diagnostics.
	Describe(ctx context.Context) string
}

// Page is the document an export runs against.
type Page interface {
	Query(ctx context.Context, selector string) (Element, bool, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// Changes notifies about DOM mutations until stop is called or ctx ends.
	// Notifications may be coalesced.
	Changes(ctx context.Context) (changes <-chan struct{}, stop func())
}
