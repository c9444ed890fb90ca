package download

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/italolelis/yuque_exporter/internal/logctx"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultTimeout      = 60 * time.Second
)

// BackgroundOption configures a Background.
type BackgroundOption func(*Background)

func WithFilter(f Filter) BackgroundOption {
	return func(b *Background) { b.filter = f }
}

func WithPollInterval(d time.Duration) BackgroundOption {
	return func(b *Background) { b.poll = d }
}

func WithTimeout(d time.Duration) BackgroundOption {
	return func(b *Background) { b.timeout = d }
}

// Background owns the download watcher. It holds at most one registration on
// the Source; starting a monitor replaces any previous one.
type Background struct {
	src     Source
	bus     *Bus
	filter  Filter
	poll    time.Duration
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	watcher *watcher
}

type watcher struct {
	remove  func()
	expire  *time.Timer
	matched bool
	// cancel stops the poll loop once a download matched.
	cancel context.CancelFunc
}

// NewBackground creates the watcher service and registers it as the bus handler.
// ctx bounds every poll loop it starts.
func NewBackground(ctx context.Context, src Source, bus *Bus, opts ...BackgroundOption) *Background {
	b := &Background{
		src:     src,
		bus:     bus,
		filter:  DefaultFilter(),
		poll:    DefaultPollInterval,
		timeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(b)
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	bus.Serve(b.handle)

	return b
}

// Close stops the watcher and waits for poll loops to exit.
func (b *Background) Close() {
	b.stopMonitor()
	b.cancel()
	b.wg.Wait()
}

// Watching reports whether a watcher is registered on the source and still
// waiting for a matching download.
func (b *Background) Watching() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.watcher != nil && !b.watcher.matched
}

// Polling reports whether a matched download is still being polled.
func (b *Background) Polling() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.watcher != nil && b.watcher.matched
}

func (b *Background) handle(ctx context.Context, req Request) (Ack, error) {
	switch req.Action {
	case ActionStartMonitor:
		b.startMonitor(ctx)

		return Ack{Success: true}, nil
	case ActionStopMonitor:
		b.stopMonitor()

		return Ack{Success: true}, nil
	default:
		return Ack{}, fmt.Errorf("unknown action %q", req.Action)
	}
}

// startMonitor replaces any previous watcher, including one still polling a
// matched download.
func (b *Background) startMonitor(ctx context.Context) {
	b.stopMonitor()

	w := &watcher{}

	b.mu.Lock()
	b.watcher = w
	w.remove = b.src.OnCreated(func(d Descriptor) { b.onCreated(w, d) })
	w.expire = time.AfterFunc(b.timeout, func() { b.expire(w) })
	b.mu.Unlock()

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "download monitor started")
}

func (b *Background) stopMonitor() {
	b.mu.Lock()
	w := b.watcher
	b.watcher = nil
	b.mu.Unlock()

	if w != nil {
		w.release()
	}
}

// unsubscribe stops watching for new downloads.
func (w *watcher) unsubscribe() {
	if w.remove != nil {
		w.remove()
	}

	if w.expire != nil {
		w.expire.Stop()
	}
}

// release unsubscribes and stops the poll loop of a matched download.
func (w *watcher) release() {
	w.unsubscribe()

	if w.cancel != nil {
		w.cancel()
	}
}

// expire fires when no matching download appeared within the timeout.
func (b *Background) expire(w *watcher) {
	b.mu.Lock()
	if b.watcher != w || w.matched {
		b.mu.Unlock()

		return
	}

	b.watcher = nil
	b.mu.Unlock()

	w.release()
	b.bus.Notify(Notification{
		Action: ActionError,
		Reason: ReasonTimeout,
		Error:  fmt.Sprintf("no download started within %s", b.timeout),
	})
}

func (b *Background) onCreated(w *watcher, d Descriptor) {
	b.mu.Lock()
	if b.watcher != w || w.matched || !b.filter.Match(d) {
		b.mu.Unlock()

		return
	}

	// The watcher stays current while polling, so a stop request or the next
	// monitor cancels the poll loop.
	ctx, cancel := context.WithCancel(b.ctx)
	w.matched = true
	w.cancel = cancel
	b.mu.Unlock()

	w.unsubscribe()

	logger := logctx.LoggerFromContext(b.ctx)
	logger.InfoContext(b.ctx, "export download detected", "download_id", d.ID, "filename", d.Filename)

	b.wg.Add(1)

	go func() {
		defer b.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(b.ctx, "download poller panic",
					"download_id", d.ID,
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()

		b.waitForCompletion(ctx, w, d.ID)
	}()
}

// finish delivers the outcome of w's download unless w was stopped or replaced.
func (b *Background) finish(w *watcher, n Notification) {
	b.mu.Lock()
	if b.watcher != w {
		b.mu.Unlock()

		return
	}

	b.watcher = nil
	b.mu.Unlock()

	b.bus.Notify(n)
}

func (b *Background) waitForCompletion(ctx context.Context, w *watcher, id string) {
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	deadline := time.NewTimer(b.timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			b.finish(w, Notification{
				Action: ActionError,
				Reason: ReasonTimeout,
				Error:  fmt.Sprintf("download did not complete within %s", b.timeout),
			})

			return
		case <-ticker.C:
			d, ok, err := b.src.Search(ctx, id)
			if ctx.Err() != nil {
				return
			}

			if err != nil {
				b.finish(w, Notification{Action: ActionError, Reason: ReasonSearch, Error: err.Error()})

				return
			}

			if !ok {
				b.finish(w, Notification{Action: ActionError, Reason: ReasonNotFound, Error: "download not found: " + id})

				return
			}

			switch d.State {
			case StateComplete:
				b.finish(w, Notification{Action: ActionComplete, Download: &d})

				return
			case StateInterrupted:
				b.finish(w, Notification{Action: ActionError, Reason: ReasonInterrupted, Error: d.Error})

				return
			}
		}
	}
}
