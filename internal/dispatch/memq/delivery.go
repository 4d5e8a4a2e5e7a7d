package memq

import (
	"sync/atomic"
	"time"

	"nounsbot/internal/dispatch"
)

// delivery is one hand-off of an item to a BatchHandler.
type delivery struct {
	q        *Queue
	it       *item
	attempts int
	settled  atomic.Bool
}

var _ dispatch.Message = (*delivery)(nil)

func (d *delivery) Envelope() dispatch.Envelope { return d.it.env }
func (d *delivery) Attempts() int               { return d.attempts }

// markSettled reports whether this call was the one that settled d.
func (d *delivery) markSettled() bool { return d.settled.CompareAndSwap(false, true) }

func (d *delivery) Ack() error {
	if !d.markSettled() {
		return ErrAlreadySettled
	}
	return nil
}

func (d *delivery) Retry(delay time.Duration) error {
	if !d.markSettled() {
		return ErrAlreadySettled
	}
	d.q.requeueAfter(d.it, delay)
	return nil
}

func (d *delivery) DeadLetter(reason string) error {
	if !d.markSettled() {
		return ErrAlreadySettled
	}
	d.q.deadLetter(d.it, d.attempts, reason)
	return nil
}
