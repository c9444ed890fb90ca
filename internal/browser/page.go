package browser

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/go-rod/rod"
	"github.com/italolelis/yuque_exporter/internal/automation"
	"github.com/italolelis/yuque_exporter/internal/logctx"
)

const (
	changePollInterval = 100 * time.Millisecond
	describeLimit      = 200
)

const observeMutationsJS = `() => {
	if (window.__yqMutations === undefined) {
		window.__yqMutations = 0;
		new MutationObserver(() => { window.__yqMutations++; })
			.observe(document.documentElement, { childList: true, subtree: true, attributes: true });
	}
	return window.__yqMutations;
}`

// Page adapts a rod page to automation.Page. Lookups never wait.
type Page struct {
	page *rod.Page
}

var _ automation.Page = (*Page)(nil)

func (p *Page) Query(ctx context.Context, selector string) (automation.Element, bool, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, false, err
	}

	if len(els) == 0 {
		return nil, false, nil
	}

	return &Element{el: els[0]}, true, nil
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]automation.Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}

	out := make([]automation.Element, len(els))
	for i, el := range els {
		out[i] = &Element{el: el}
	}

	return out, nil
}

// Changes polls a mutation counter kept by an injected MutationObserver.
func (p *Page) Changes(ctx context.Context) (<-chan struct{}, func()) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logctx.LoggerFromContext(ctx).Error("panic in mutation poller", "panic", r, "stack", string(debug.Stack()))
			}
		}()

		page := p.page.Context(ctx)

		last := -1

		ticker := time.NewTicker(changePollInterval)
		defer ticker.Stop()

		for {
			res, err := page.Eval(observeMutationsJS)
			if err == nil {
				n := res.Value.Int()
				if last >= 0 && n != last {
					select {
					case ch <- struct{}{}:
					default:
					}
				}

				last = n
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return ch, func() {
		cancel()
		<-done
	}
}

// Element adapts a rod element to automation.Element.
type Element struct {
	el *rod.Element
}

var _ automation.Element = (*Element)(nil)

func (e *Element) Click(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => this.click()`)

	return err
}

// Hover dispatches the pointer events that reveal hover-only controls.
func (e *Element) Hover(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => {
		for (const type of ['mouseenter', 'mouseover']) {
			this.dispatchEvent(new MouseEvent(type, { bubbles: true, cancelable: true, view: window }));
		}
	}`)

	return err
}

func (e *Element) Text(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(`() => this.textContent || ''`)
	if err != nil {
		return "", err
	}

	return res.Value.Str(), nil
}

func (e *Element) Attr(ctx context.Context, name string) (string, bool, error) {
	res, err := e.el.Context(ctx).Eval(`(name) => {
		const prop = this[name];
		if (typeof prop === 'string' && prop !== '') return prop;
		return this.getAttribute(name);
	}`, name)
	if err != nil {
		return "", false, err
	}

	if res.Value.Nil() {
		return "", false, nil
	}

	return res.Value.Str(), true, nil
}

func (e *Element) Query(ctx context.Context, selector string) (automation.Element, bool, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, false, err
	}

	if len(els) == 0 {
		return nil, false, nil
	}

	return &Element{el: els[0]}, true, nil
}

func (e *Element) Closest(ctx context.Context, selector string) (automation.Element, bool, error) {
	el, err := e.el.Context(ctx).ElementByJS(rod.Eval(`(s) => this.closest(s)`, selector))
	if err != nil {
		var notFound *rod.ElementNotFoundError
		if errors.As(err, &notFound) {
			return nil, false, nil
		}

		return nil, false, err
	}

	return &Element{el: el}, true, nil
}

func (e *Element) Describe(ctx context.Context) string {
	html, err := e.el.Context(ctx).HTML()
	if err != nil {
		return "<unavailable>"
	}

	if len(html) > describeLimit {
		html = html[:describeLimit] + "..."
	}

	return html
}
