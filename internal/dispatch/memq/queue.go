// Package memq is an in-process queue transport for the dispatcher.
//
// It keeps the transport contract of the JetStream transport (batch size
// limit, per-message attempts counter, delayed redelivery, duplicate window,
// dead letters) without any broker. Messages do not survive a restart.
package memq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"nounsbot/internal/dispatch"
	"nounsbot/internal/observability"
	logx "nounsbot/pkg/logx"
)

var (
	ErrClosed         = errors.New("memq: closed")
	ErrAlreadySettled = errors.New("memq: delivery already settled")
)

const (
	DefaultMaxBatch    = 100
	DefaultBatchSize   = 10
	DefaultDedupWindow = 2 * time.Minute
)

type Options struct {
	// MaxBatchSize bounds SendBatch; larger batches are rejected.
	MaxBatchSize int
	// BatchSize bounds how many messages one delivery batch carries.
	BatchSize int
	// DedupWindow suppresses re-enqueues of an identical envelope.
	// Negative disables suppression.
	DedupWindow time.Duration

	Logger  logx.Logger
	Metrics *observability.Metrics
}

// DeadLetter is a message that left the queue without being acked.
type DeadLetter struct {
	Envelope dispatch.Envelope
	Attempts int
	Reason   string
	At       time.Time
}

type item struct {
	env      dispatch.Envelope
	attempts int
}

type Queue struct {
	opts    Options
	log     logx.Logger
	metrics *observability.Metrics

	notify chan struct{}

	mu     sync.Mutex
	ready  []*item
	timers map[*time.Timer]struct{}
	dedup  map[string]time.Time
	dead   []DeadLetter
	closed bool
	// inflight counts taken deliveries whose batch has not returned yet.
	inflight int
}

func New(opts Options) *Queue {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxBatch
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize > opts.MaxBatchSize {
		opts.BatchSize = opts.MaxBatchSize
	}
	if opts.DedupWindow == 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.Logger.IsZero() {
		opts.Logger = logx.Nop()
	}
	return &Queue{
		opts:    opts,
		log:     opts.Logger.Component("memq"),
		metrics: opts.Metrics,
		notify:  make(chan struct{}, 1),
		timers:  map[*time.Timer]struct{}{},
		dedup:   map[string]time.Time{},
	}
}

// SendBatch enqueues envs. Envelopes seen within the dedup window are
// dropped silently.
func (q *Queue) SendBatch(ctx context.Context, envs []dispatch.Envelope) error {
	err := q.sendBatch(envs)
	q.metrics.Enqueue(ctx, "memory", len(envs), err)
	return err
}

func (q *Queue) sendBatch(envs []dispatch.Envelope) error {
	if len(envs) > q.opts.MaxBatchSize {
		return fmt.Errorf("%w: %d > %d", dispatch.ErrBatchTooLarge, len(envs), q.opts.MaxBatchSize)
	}
	for _, env := range envs {
		if env.Type == "" {
			return dispatch.ErrEmptyType
		}
	}

	now := time.Now()
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.pruneDedupLocked(now)
	added, skipped := 0, 0
	for _, env := range envs {
		if q.opts.DedupWindow > 0 {
			k := env.Key()
			if until, ok := q.dedup[k]; ok && now.Before(until) {
				skipped++
				continue
			}
			q.dedup[k] = now.Add(q.opts.DedupWindow)
		}
		q.ready = append(q.ready, &item{env: env})
		added++
	}
	q.mu.Unlock()

	if skipped > 0 {
		q.log.Debug("duplicate envelopes suppressed", logx.Int("skipped", skipped))
	}
	if added > 0 {
		q.signal()
	}
	return nil
}

func (q *Queue) pruneDedupLocked(now time.Time) {
	for k, until := range q.dedup {
		if !now.Before(until) {
			delete(q.dedup, k)
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Run delivers batches to h until ctx is done. Deliveries that h leaves
// unsettled are requeued.
func (q *Queue) Run(ctx context.Context, h dispatch.BatchHandler) error {
	for {
		batch := q.take()
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-q.notify:
				continue
			}
		}

		msgs := make([]dispatch.Message, len(batch))
		for i, d := range batch {
			msgs[i] = d
		}
		h.HandleBatch(ctx, msgs)

		for _, d := range batch {
			if d.markSettled() {
				q.log.Warn("delivery left unsettled; requeueing", logx.String("type", d.it.env.Type))
				q.requeue(d.it)
			}
		}
		q.mu.Lock()
		q.inflight -= len(batch)
		q.mu.Unlock()
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (q *Queue) take() []*delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.ready)
	if n > q.opts.BatchSize {
		n = q.opts.BatchSize
	}
	if n == 0 {
		return nil
	}
	out := make([]*delivery, n)
	for i, it := range q.ready[:n] {
		it.attempts++
		out[i] = &delivery{q: q, it: it, attempts: it.attempts}
	}
	q.ready = append([]*item(nil), q.ready[n:]...)
	q.inflight += n
	return out
}

func (q *Queue) requeue(it *item) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.ready = append(q.ready, it)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) requeueAfter(it *item, delay time.Duration) {
	if delay <= 0 {
		q.requeue(it)
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		// Move from timers to ready under one lock so Pending never dips to zero.
		q.mu.Lock()
		delete(q.timers, t)
		if q.closed {
			q.mu.Unlock()
			return
		}
		q.ready = append(q.ready, it)
		q.mu.Unlock()
		q.signal()
	})
	q.timers[t] = struct{}{}
}

func (q *Queue) deadLetter(it *item, attempts int, reason string) {
	q.mu.Lock()
	q.dead = append(q.dead, DeadLetter{Envelope: it.env, Attempts: attempts, Reason: reason, At: time.Now()})
	q.mu.Unlock()
}

// Len reports ready plus delayed messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.timers)
}

// Pending is Len plus deliveries currently being handled. Zero means every
// accepted message has been acked or dead-lettered.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.timers) + q.inflight
}

func (q *Queue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

// Close rejects further sends and drops delayed redeliveries.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	if n := len(q.ready) + len(q.timers); n > 0 {
		q.log.Warn("queue closed with pending messages", logx.Int("pending", n))
	}
	q.timers = map[*time.Timer]struct{}{}
}
