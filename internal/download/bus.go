package download

import (
	"context"
	"errors"
	"sync"
)

// Message actions exchanged between the orchestrator and the background watcher.
const (
	ActionStartMonitor = "startDownloadMonitor"
	ActionStopMonitor  = "stopDownloadMonitor"
	ActionComplete     = "downloadComplete"
	ActionError        = "downloadError"
)

// ErrNoHandler is returned by Bus.Send when nothing serves requests.
var ErrNoHandler = errors.New("no message handler registered")

// Request is a command sent to the background side.
type Request struct {
	Action string `json:"action"`
}

// Ack acknowledges a Request.
type Ack struct {
	Success bool `json:"success"`
}

// Notification is pushed from the background side to every listener.
type Notification struct {
	Action   string      `json:"action"`
	Download *Descriptor `json:"download,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Handler serves requests on the background side.
type Handler func(ctx context.Context, req Request) (Ack, error)

// Bus is the in-process message channel between the orchestrator and the
// background watcher: requests go one way, notifications fan out the other.
type Bus struct {
	mu        sync.RWMutex
	handler   Handler
	listeners map[int]func(Notification)
	nextID    int
}

func NewBus() *Bus {
	return &Bus{listeners: map[int]func(Notification){}}
}

// Serve installs the request handler.
func (b *Bus) Serve(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handler = h
}

func (b *Bus) Send(ctx context.Context, req Request) (Ack, error) {
	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()

	if h == nil {
		return Ack{}, ErrNoHandler
	}

	return h(ctx, req)
}

// Listen registers fn for every notification. The returned func removes it.
func (b *Bus) Listen(fn func(Notification)) (remove func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Notify delivers n to a snapshot of the current listeners.
func (b *Bus) Notify(n Notification) {
	b.mu.RLock()
	fns := make([]func(Notification), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(n)
	}
}

// Listeners returns the number of registered listeners.
func (b *Bus) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.listeners)
}
