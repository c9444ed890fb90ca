package download

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/italolelis/yuque_exporter/internal/logctx"
)

// Pending is the one-shot result of a Monitor call.
type Pending struct {
	done chan struct{}
	once sync.Once
	d    Descriptor
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// resolve records the first outcome; later calls are ignored.
func (p *Pending) resolve(d Descriptor, err error) bool {
	resolved := false

	p.once.Do(func() {
		p.d, p.err = d, err
		close(p.done)
		resolved = true
	})

	return resolved
}

// Done is closed once the result is known.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks for the result or ctx.
func (p *Pending) Wait(ctx context.Context) (Descriptor, error) {
	select {
	case <-p.done:
		return p.d, p.err
	case <-ctx.Done():
		return Descriptor{}, ctx.Err()
	}
}

// Correlator is the orchestrator side of download monitoring.
type Correlator struct {
	bus     *Bus
	timeout time.Duration
}

func NewCorrelator(bus *Bus, timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Correlator{bus: bus, timeout: timeout}
}

// Monitor asks the background watcher to catch the next export download. It
// must be called before the action that starts the download. The returned
// Pending resolves once; the listener and the watcher are released on every
// outcome, including ctx cancellation.
func (c *Correlator) Monitor(ctx context.Context) *Pending {
	logger := logctx.LoggerFromContext(ctx)
	p := newPending()

	remove := c.bus.Listen(func(n Notification) {
		switch n.Action {
		case ActionComplete:
			if n.Download == nil {
				p.resolve(Descriptor{}, &Error{Reason: ReasonNotFound, Message: "completion without descriptor"})

				return
			}

			p.resolve(*n.Download, nil)
		case ActionError:
			p.resolve(Descriptor{}, &Error{Reason: n.Reason, Message: n.Error})
		}
	})

	stop := func(reason string) {
		if _, err := c.bus.Send(context.WithoutCancel(ctx), Request{Action: ActionStopMonitor}); err != nil {
			logger.WarnContext(ctx, "failed to stop download monitor", "reason", reason, "err", err)
		}
	}

	timer := time.AfterFunc(c.timeout, func() {
		if p.resolve(Descriptor{}, &Error{Reason: ReasonTimeout, Message: fmt.Sprintf("no export download within %s", c.timeout)}) {
			stop("timeout")
		}
	})

	go func() {
		select {
		case <-p.done:
		case <-ctx.Done():
			if p.resolve(Descriptor{}, ctx.Err()) {
				stop("cancelled")
			}
		}

		remove()
		timer.Stop()
	}()

	ack, err := c.bus.Send(ctx, Request{Action: ActionStartMonitor})
	if err == nil && !ack.Success {
		err = fmt.Errorf("background refused to start monitor")
	}

	if err != nil {
		p.resolve(Descriptor{}, &Error{Reason: ReasonMonitor, Message: err.Error(), Err: err})
	}

	return p
}
