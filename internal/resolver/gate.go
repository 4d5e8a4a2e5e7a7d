package resolver

import (
	"context"
	"time"
)

// gate is the single admission point for outbound lookups.
//
// One goroutine owns lastDispatch and releases tickets in arrival order,
// keeping at least interval between two releases. Only dispatch is serialized;
// the released caller performs its network call outside the gate.
type gate struct {
	interval time.Duration
	tickets  chan chan struct{}
	done     chan struct{}
}

func newGate(ctx context.Context, interval time.Duration) *gate {
	if interval < 0 {
		interval = 0
	}
	g := &gate{
		interval: interval,
		tickets:  make(chan chan struct{}),
		done:     make(chan struct{}),
	}
	go g.loop(ctx)
	return g
}

func (g *gate) loop(ctx context.Context) {
	defer close(g.done)

	var lastDispatch time.Time
	for {
		var ready chan struct{}
		select {
		case <-ctx.Done():
			return
		case ready = <-g.tickets:
		}

		if !lastDispatch.IsZero() && g.interval > 0 {
			if wait := g.interval - time.Since(lastDispatch); wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return
				}
			}
		}
		lastDispatch = time.Now()
		close(ready)
	}
}

// admit blocks until the caller may dispatch. Senders blocked on the
// unbuffered tickets channel are served in FIFO order.
func (g *gate) admit(ctx context.Context) error {
	ready := make(chan struct{})
	select {
	case g.tickets <- ready:
	case <-ctx.Done():
		return ctx.Err()
	case <-g.done:
		return ErrClosed
	}
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-g.done:
		return ErrClosed
	}
}

// wait blocks until the gate goroutine has exited.
func (g *gate) wait() { <-g.done }
