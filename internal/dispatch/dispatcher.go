package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"nounsbot/internal/observability"
	logx "nounsbot/pkg/logx"
)

// Options configures a Dispatcher.
//
// BaseDelay and MaxDelay fall back to DefaultBaseDelay and DefaultMaxDelay
// when zero. MaxAttempts 0 disables the dead-letter ceiling.
type Options struct {
	BaseDelay      float64
	MaxDelay       time.Duration
	MaxAttempts    int
	HandlerTimeout time.Duration

	Logger  logx.Logger
	Metrics *observability.Metrics
}

func (o Options) withDefaults() Options {
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxAttempts < 0 {
		o.MaxAttempts = 0
	}
	if o.HandlerTimeout < 0 {
		o.HandlerTimeout = 0
	}
	if o.Logger.IsZero() {
		o.Logger = logx.Nop()
	}
	return o
}

// Outcome is how a delivery was settled.
type Outcome string

const (
	OutcomeAcked        Outcome = "acked"
	OutcomeRetried      Outcome = "retried"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeUnknownType  Outcome = "unknown_type"
	OutcomeReleased     Outcome = "released"
)

type Dispatcher struct {
	opts    Options
	log     logx.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	handlers map[string]Handler
}

func New(opts Options) *Dispatcher {
	opts = opts.withDefaults()
	return &Dispatcher{
		opts:     opts,
		log:      opts.Logger.Component("dispatch"),
		metrics:  opts.Metrics,
		handlers: map[string]Handler{},
	}
}

// Register binds h to envelopes of type typ, replacing any previous handler.
func (d *Dispatcher) Register(typ string, h Handler) error {
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return ErrEmptyType
	}
	if h == nil {
		return fmt.Errorf("dispatch: nil handler for %q", typ)
	}
	d.mu.Lock()
	d.handlers[typ] = h
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) handler(typ string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[typ]
	return h, ok
}

// RetryDelay is the backoff applied to a failed delivery.
func (d *Dispatcher) RetryDelay(attempts int) time.Duration {
	return Backoff(d.opts.BaseDelay, attempts, d.opts.MaxDelay)
}

// HandleBatch settles every message in msgs, in order. It never returns an
// error: handler failures become retries or dead letters, settlement errors
// are logged and left to the transport's own redelivery.
//
// Once ctx is done the remaining messages are released for immediate
// redelivery without running their handlers.
func (d *Dispatcher) HandleBatch(ctx context.Context, msgs []Message) {
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if ctx.Err() != nil {
			d.settle(ctx, m, OutcomeReleased, m.Envelope().Type, 0, nil)
			continue
		}
		d.Handle(ctx, m)
	}
}

// Handle processes and settles a single delivery and reports the outcome.
func (d *Dispatcher) Handle(ctx context.Context, m Message) Outcome {
	env := m.Envelope()
	start := time.Now()

	h, ok := d.handler(env.Type)
	if !ok {
		d.log.Warn("no handler for message type; dropping", logx.String("type", env.Type), logx.Int("attempts", m.Attempts()))
		d.settle(ctx, m, OutcomeUnknownType, env.Type, time.Since(start), nil)
		return OutcomeUnknownType
	}

	if p, ok := m.(ProgressReporter); ok {
		if err := p.InProgress(); err != nil {
			d.log.Debug("ack deadline not extended", logx.String("type", env.Type), logx.Err(err))
		}
	}
	err := d.invoke(ctx, h, env)
	took := time.Since(start)
	if err == nil {
		d.settle(ctx, m, OutcomeAcked, env.Type, took, nil)
		return OutcomeAcked
	}

	attempts := m.Attempts()
	if IsPermanent(err) || (d.opts.MaxAttempts > 0 && attempts >= d.opts.MaxAttempts) {
		d.settle(ctx, m, OutcomeDeadLettered, env.Type, took, err)
		return OutcomeDeadLettered
	}
	d.settle(ctx, m, OutcomeRetried, env.Type, took, err)
	return OutcomeRetried
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, env Envelope) (err error) {
	runCtx := ctx
	if d.opts.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.opts.HandlerTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			d.log.Error("handler panic", logx.String("type", env.Type), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return h.Handle(runCtx, env.Data)
}

func (d *Dispatcher) settle(ctx context.Context, m Message, outcome Outcome, typ string, took time.Duration, cause error) {
	attempts := m.Attempts()
	log := d.log.With(logx.String("type", typ), logx.Int("attempts", attempts))

	var err error
	switch outcome {
	case OutcomeAcked, OutcomeUnknownType:
		err = m.Ack()
	case OutcomeRetried:
		delay := d.RetryDelay(attempts)
		log.Warn("handler failed; retry scheduled", logx.Duration("delay", delay), logx.Err(cause))
		err = m.Retry(delay)
	case OutcomeReleased:
		err = m.Retry(0)
	case OutcomeDeadLettered:
		reason := "handler failed"
		if cause != nil {
			reason = cause.Error()
		}
		log.Error("handler failed; dead-lettering", logx.Bool("permanent", IsPermanent(cause)), logx.Err(cause))
		err = m.DeadLetter(reason)
	}
	if err != nil {
		log.Error("settle failed", logx.String("outcome", string(outcome)), logx.Err(err))
	}
	d.metrics.Delivery(ctx, typ, string(outcome), took)
}
