// Package automationtest provides an in-memory DOM for testing code that
// drives an automation.Page.
package automationtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/italolelis/yuque_exporter/internal/automation"
)

// Node is a fake DOM element. A node matches a selector when the selector
// string was listed when the node was created.
type Node struct {
	page     *Page
	name     string
	text     string
	attrs    map[string]string
	matches  map[string]bool
	parent   *Node
	children []*Node

	clicks  int
	hovers  int
	onClick func()
}

var _ automation.Element = (*Node)(nil)

// Add appends children and notifies change watchers.
func (n *Node) Add(children ...*Node) *Node {
	n.page.mu.Lock()
	for _, c := range children {
		c.parent = n
		n.children = append(n.children, c)
	}
	n.page.mu.Unlock()

	n.page.changed()

	return n
}

func (n *Node) WithText(t string) *Node {
	n.text = t

	return n
}

func (n *Node) WithAttr(k, v string) *Node {
	n.attrs[k] = v

	return n
}

// OnClick sets a handler run on every click, typically to mutate the page.
func (n *Node) OnClick(fn func()) *Node {
	n.onClick = fn

	return n
}

func (n *Node) Clicks() int {
	n.page.mu.Lock()
	defer n.page.mu.Unlock()

	return n.clicks
}

func (n *Node) Hovers() int {
	n.page.mu.Lock()
	defer n.page.mu.Unlock()

	return n.hovers
}

func (n *Node) Click(context.Context) error {
	n.page.mu.Lock()
	n.clicks++
	fn := n.onClick
	n.page.mu.Unlock()

	if fn != nil {
		fn()
	}

	return nil
}

func (n *Node) Hover(context.Context) error {
	n.page.mu.Lock()
	n.hovers++
	n.page.mu.Unlock()

	return nil
}

func (n *Node) Text(context.Context) (string, error) { return n.text, nil }

func (n *Node) Attr(_ context.Context, name string) (string, bool, error) {
	v, ok := n.attrs[name]

	return v, ok, nil
}

func (n *Node) Query(_ context.Context, selector string) (automation.Element, bool, error) {
	n.page.mu.Lock()
	defer n.page.mu.Unlock()

	if found := n.find(selector); found != nil {
		return found, true, nil
	}

	return nil, false, nil
}

func (n *Node) Closest(_ context.Context, selector string) (automation.Element, bool, error) {
	n.page.mu.Lock()
	defer n.page.mu.Unlock()

	for cur := n; cur != nil; cur = cur.parent {
		if cur.matches[selector] {
			return cur, true, nil
		}
	}

	return nil, false, nil
}

func (n *Node) Describe(context.Context) string { return fmt.Sprintf("<%s>", n.name) }

func (n *Node) find(selector string) *Node {
	for _, c := range n.children {
		if c.matches[selector] {
			return c
		}

		if found := c.find(selector); found != nil {
			return found
		}
	}

	return nil
}

func (n *Node) findAll(selector string, out []automation.Element) []automation.Element {
	for _, c := range n.children {
		if c.matches[selector] {
			out = append(out, c)
		}

		out = c.findAll(selector, out)
	}

	return out
}

// Page is a fake document rooted at Body.
type Page struct {
	Body *Node

	mu       sync.Mutex
	watchers map[int]chan struct{}
	nextID   int
}

var _ automation.Page = (*Page)(nil)

func NewPage() *Page {
	p := &Page{watchers: map[int]chan struct{}{}}
	p.Body = p.El("body")

	return p
}

// El creates a detached node matching the given selectors.
func (p *Page) El(name string, selectors ...string) *Node {
	n := &Node{page: p, name: name, attrs: map[string]string{}, matches: map[string]bool{}}
	for _, s := range selectors {
		n.matches[s] = true
	}

	return n
}

// Watchers returns the number of active change subscriptions.
func (p *Page) Watchers() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.watchers)
}

func (p *Page) changed() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ch := range p.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (p *Page) Query(ctx context.Context, selector string) (automation.Element, bool, error) {
	return p.Body.Query(ctx, selector)
}

func (p *Page) QueryAll(_ context.Context, selector string) ([]automation.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.Body.findAll(selector, nil), nil
}

func (p *Page) Changes(context.Context) (<-chan struct{}, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan struct{}, 1)
	p.watchers[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.watchers, id)
			p.mu.Unlock()
		})
	}
}
