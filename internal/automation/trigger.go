package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/italolelis/yuque_exporter/internal/logctx"
)

// Delays are the settle pauses the UI needs between interactions.
type Delays struct {
	AfterHover        time.Duration
	AfterMenuOpen     time.Duration
	AfterExportClick  time.Duration
	AfterFormatSelect time.Duration
	AfterMonitorStart time.Duration
}

// DefaultDelays match what the Yuque UI needs to render menus and dialogs.
func DefaultDelays() Delays {
	return Delays{
		AfterHover:        400 * time.Millisecond,
		AfterMenuOpen:     500 * time.Millisecond,
		AfterExportClick:  800 * time.Millisecond,
		AfterFormatSelect: 500 * time.Millisecond,
		AfterMonitorStart: 200 * time.Millisecond,
	}
}

type strategy struct {
	name string
	find func(ctx context.Context) (Element, bool, error)
}

// Trigger locates the export menu item using an ordered chain of strategies.
type Trigger struct {
	page   Page
	sel    Selectors
	delays Delays
}

func NewTrigger(page Page, sel Selectors, delays Delays) *Trigger {
	return &Trigger{page: page, sel: sel, delays: delays}
}

// Find returns the export menu item from the first strategy that succeeds.
func (t *Trigger) Find(ctx context.Context) (Element, error) {
	logger := logctx.LoggerFromContext(ctx)

	strategies := []strategy{
		{"menu", t.exportMenuItem},
		{"catalog_overflow", t.viaCatalogOverflow},
		{"header_button", t.viaHeaderButton},
		{"menu_text", t.byMenuText},
	}

	attempts := make([]string, 0, len(strategies))

	for _, s := range strategies {
		attempts = append(attempts, s.name)

		el, ok, err := s.find(ctx)
		if err != nil {
			return nil, fmt.Errorf("export trigger strategy %s: %w", s.name, err)
		}

		if ok {
			logger.InfoContext(ctx, "export trigger found", "strategy", s.name, "element", el.Describe(ctx))

			return el, nil
		}

		logger.DebugContext(ctx, "export trigger strategy found nothing", "strategy", s.name)
	}

	return nil, &TriggerError{Attempts: attempts, Diagnostics: Diagnose(ctx, t.page, t.sel)}
}

func (t *Trigger) exportMenuItem(ctx context.Context) (Element, bool, error) {
	icon, ok, err := t.page.Query(ctx, t.sel.ExportMenuIcon)
	if err != nil || !ok {
		return nil, false, err
	}

	return icon.Closest(ctx, t.sel.MenuItem)
}

// openMenu clicks el, waits for the menu to render and looks for the export item.
func (t *Trigger) openMenu(ctx context.Context, el Element) (Element, bool, error) {
	if err := el.Click(ctx); err != nil {
		return nil, false, err
	}

	if err := Sleep(ctx, t.delays.AfterMenuOpen); err != nil {
		return nil, false, err
	}

	return t.exportMenuItem(ctx)
}

func (t *Trigger) viaCatalogOverflow(ctx context.Context) (Element, bool, error) {
	item, ok, err := t.page.Query(ctx, t.sel.SelectedCatalogItem)
	if err != nil || !ok {
		return nil, false, err
	}

	if err := item.Hover(ctx); err != nil {
		return nil, false, err
	}

	if err := Sleep(ctx, t.delays.AfterHover); err != nil {
		return nil, false, err
	}

	more, ok, err := t.moreButton(ctx, item)
	if err != nil || !ok {
		return nil, false, err
	}

	return t.openMenu(ctx, more)
}

// moreButton looks for the overflow button inside the item, then its row,
// then anywhere in the catalog.
func (t *Trigger) moreButton(ctx context.Context, item Element) (Element, bool, error) {
	lookups := []func() (Element, bool, error){
		func() (Element, bool, error) { return closestFrom(ctx, item, t.sel.MoreIcon, t.sel.MoreButton) },
		func() (Element, bool, error) {
			row, ok, err := item.Closest(ctx, t.sel.CatalogRow)
			if err != nil || !ok {
				return nil, false, err
			}

			return closestFrom(ctx, row, t.sel.MoreIcon, t.sel.MoreButton)
		},
		func() (Element, bool, error) {
			icon, ok, err := t.page.Query(ctx, t.sel.AltMoreIcon)
			if err != nil || !ok {
				return nil, false, err
			}

			return icon.Closest(ctx, t.sel.MoreButton)
		},
	}

	for _, lookup := range lookups {
		el, ok, err := lookup()
		if err != nil || ok {
			return el, ok, err
		}
	}

	return nil, false, nil
}

func (t *Trigger) viaHeaderButton(ctx context.Context) (Element, bool, error) {
	btn, ok, err := func() (Element, bool, error) {
		icon, ok, err := t.page.Query(ctx, t.sel.HeaderExportIcon)
		if err != nil || !ok {
			return nil, false, err
		}

		return icon.Closest(ctx, t.sel.Button)
	}()
	if err != nil {
		return nil, false, err
	}

	if !ok {
		if btn, ok, err = t.page.Query(ctx, t.sel.HeaderExportButton); err != nil || !ok {
			return nil, false, err
		}
	}

	if marked, err := t.isOwnControl(ctx, btn); err != nil || marked {
		return nil, false, err
	}

	return t.openMenu(ctx, btn)
}

func (t *Trigger) byMenuText(ctx context.Context) (Element, bool, error) {
	items, err := t.page.QueryAll(ctx, t.sel.MenuItem)
	if err != nil {
		return nil, false, err
	}

	for _, item := range items {
		text, err := item.Text(ctx)
		if err != nil {
			return nil, false, err
		}

		if !t.isExportText(strings.TrimSpace(text)) {
			continue
		}

		if marked, err := t.isOwnControl(ctx, item); err != nil {
			return nil, false, err
		} else if !marked {
			return item, true, nil
		}
	}

	return nil, false, nil
}

func (t *Trigger) isExportText(text string) bool {
	for _, want := range t.sel.ExportMenuTexts {
		if text == want {
			return true
		}
	}

	return false
}

// isOwnControl reports whether el carries the marker of controls this tool injects.
func (t *Trigger) isOwnControl(ctx context.Context, el Element) (bool, error) {
	if t.sel.PluginMarker == "" {
		return false, nil
	}

	_, ok, err := el.Attr(ctx, t.sel.PluginMarker)

	return ok, err
}

// IsOwnControl reports whether el carries the plugin marker attribute.
func IsOwnControl(ctx context.Context, el Element, sel Selectors) (bool, error) {
	return (&Trigger{sel: sel}).isOwnControl(ctx, el)
}

func closestFrom(ctx context.Context, root Element, selector, ancestor string) (Element, bool, error) {
	el, ok, err := root.Query(ctx, selector)
	if err != nil || !ok {
		return nil, false, err
	}

	return el.Closest(ctx, ancestor)
}

// Diagnose summarizes the page structure relevant to locating the export trigger.
func Diagnose(ctx context.Context, page Page, sel Selectors) string {
	count := func(selector string) string {
		if selector == "" {
			return "0"
		}

		els, err := page.QueryAll(ctx, selector)
		if err != nil {
			return "?"
		}

		return fmt.Sprint(len(els))
	}

	return fmt.Sprintf("catalog_items=%s selected=%s menus=%s export_icons=%s more_icons=%s",
		count(sel.CatalogItems),
		count(sel.SelectedCatalogItem),
		count(sel.Menus),
		count(sel.ExportMenuIcon),
		count(sel.MoreIcon),
	)
}
