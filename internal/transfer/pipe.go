package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"

	"github.com/italolelis/yuque_exporter/internal/logctx"
)

// ErrClosed is returned when using a port after it was closed locally.
var ErrClosed = errors.New("port closed")

// Port is one end of a named, bidirectional, ordered frame channel.
type Port interface {
	Name() string
	// Send JSON-encodes v and delivers it to the peer.
	Send(ctx context.Context, v any) error
	// Recv returns the next frame, or io.EOF once the peer has closed and no frames remain.
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens sessions on named channels.
type Dialer interface {
	Open(ctx context.Context, name string) (Port, error)
}

type pipeEnd struct {
	name       string
	in         <-chan []byte
	out        chan<- []byte
	closed     chan struct{}
	peerClosed <-chan struct{}
	once       *sync.Once
}

// Pipe returns two connected in-process ports. Frames are delivered in order
// with a one-frame buffer, so a fast sender is paced by its receiver.
func Pipe(name string) (Port, Port) {
	ab := make(chan []byte, 1)
	ba := make(chan []byte, 1)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})

	a := &pipeEnd{name: name, in: ba, out: ab, closed: aClosed, peerClosed: bClosed, once: &sync.Once{}}
	b := &pipeEnd{name: name, in: ab, out: ba, closed: bClosed, peerClosed: aClosed, once: &sync.Once{}}

	return a, b
}

func (p *pipeEnd) Name() string {
	return p.name
}

func (p *pipeEnd) Send(ctx context.Context, v any) error {
	frame, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	select {
	case <-p.closed:
		return ErrClosed
	case <-p.peerClosed:
		return io.ErrClosedPipe
	default:
	}

	select {
	case p.out <- frame:
		return nil
	case <-p.closed:
		return ErrClosed
	case <-p.peerClosed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Recv(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.closed:
		return nil, ErrClosed
	case <-p.peerClosed:
		select {
		case frame := <-p.in:
			return frame, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.closed) })

	return nil
}

// SessionHandler serves one session on the privileged side. The port is closed when it returns.
type SessionHandler func(ctx context.Context, port Port)

// Hub is an in-process Dialer that hands the far end of every opened session
// to the handler registered for its name.
type Hub struct {
	mu       sync.RWMutex
	handlers map[string]SessionHandler
	wg       sync.WaitGroup
}

func NewHub() *Hub {
	return &Hub{handlers: map[string]SessionHandler{}}
}

// Handle registers fn for sessions opened on name, replacing any previous handler.
func (h *Hub) Handle(name string, fn SessionHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handlers[name] = fn
}

// Open starts a session. The handler runs on its own goroutine bound to ctx.
func (h *Hub) Open(ctx context.Context, name string) (Port, error) {
	h.mu.RLock()
	fn, ok := h.handlers[name]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no handler for channel %q", name)
	}

	client, server := Pipe(name)

	h.wg.Add(1)

	go func() {
		defer h.wg.Done()
		defer server.Close()
		defer func() {
			if r := recover(); r != nil {
				logctx.LoggerFromContext(ctx).ErrorContext(ctx, "transfer session panic",
					"channel", name,
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()

		fn(ctx, server)
	}()

	return client, nil
}

// Wait blocks until every session handler has returned.
func (h *Hub) Wait() {
	h.wg.Wait()
}
