package jsq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"nounsbot/internal/dispatch"
	logx "nounsbot/pkg/logx"
)

// Headers set on dead-lettered messages.
const (
	HeaderReason   = "Nounsbot-Dlq-Reason"
	HeaderAttempts = "Nounsbot-Dlq-Attempts"
	HeaderSubject  = "Nounsbot-Dlq-Subject"
)

// natsMsg is the slice of jetstream.Msg a delivery needs.
type natsMsg interface {
	Data() []byte
	Subject() string
	Metadata() (*jetstream.MsgMetadata, error)
	Ack() error
	InProgress() error
	NakWithDelay(delay time.Duration) error
	TermWithReason(reason string) error
}

type Consumer struct {
	cons       jetstream.Consumer
	js         publisher
	dlqSubject string
	batch      int
	maxWait    time.Duration
	log        logx.Logger
}

func NewConsumer(c *Client, cons jetstream.Consumer) *Consumer {
	return &Consumer{
		cons:       cons,
		js:         c.js,
		dlqSubject: c.cfg.DLQSubject,
		batch:      c.cfg.FetchBatch,
		maxWait:    c.cfg.FetchMaxWait,
		log:        c.log,
	}
}

// Run fetches batches and hands them to h until ctx is done.
func (c *Consumer) Run(ctx context.Context, h dispatch.BatchHandler) error {
	c.log.Info("dispatch consumer started", logx.Int("batch", c.batch))
	for {
		if ctx.Err() != nil {
			return nil
		}
		batch, err := c.cons.Fetch(c.batch, jetstream.FetchMaxWait(c.maxWait))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, nats.ErrTimeout) {
				c.log.Error("fetch failed", logx.Err(err))
				sleepCtx(ctx, time.Second)
			}
			continue
		}

		var msgs []natsMsg
		for m := range batch.Messages() {
			msgs = append(msgs, m)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
			c.log.Warn("fetch batch error", logx.Err(err))
		}
		if len(msgs) > 0 {
			c.deliver(ctx, h, msgs)
		}
	}
}

// deliver wraps raw messages and passes them to h. Undecodable bodies are
// dead-lettered without reaching the handler.
func (c *Consumer) deliver(ctx context.Context, h dispatch.BatchHandler, raw []natsMsg) {
	out := make([]dispatch.Message, 0, len(raw))
	for _, m := range raw {
		d, err := c.wrap(m)
		if err != nil {
			c.log.Error("undecodable message; dead-lettering", logx.String("subject", m.Subject()), logx.Err(err))
			if dlErr := d.DeadLetter(err.Error()); dlErr != nil {
				c.log.Error("dead-letter failed", logx.Err(dlErr))
			}
			continue
		}
		out = append(out, d)
	}
	if len(out) > 0 {
		h.HandleBatch(ctx, out)
	}
}

func (c *Consumer) wrap(m natsMsg) (*delivery, error) {
	d := &delivery{msg: m, js: c.js, dlqSubject: c.dlqSubject, attempts: 1}
	if md, err := m.Metadata(); err == nil && md != nil && md.NumDelivered > 0 {
		d.attempts = int(md.NumDelivered)
	}
	if err := json.Unmarshal(m.Data(), &d.env); err != nil {
		return d, fmt.Errorf("jsq: decode envelope: %w", err)
	}
	return d, nil
}

// delivery adapts a JetStream message to dispatch.Message.
type delivery struct {
	msg        natsMsg
	js         publisher
	dlqSubject string
	env        dispatch.Envelope
	attempts   int
}

var (
	_ dispatch.Message          = (*delivery)(nil)
	_ dispatch.ProgressReporter = (*delivery)(nil)
)

func (d *delivery) Envelope() dispatch.Envelope { return d.env }
func (d *delivery) Attempts() int               { return d.attempts }
func (d *delivery) Ack() error                  { return d.msg.Ack() }
func (d *delivery) InProgress() error           { return d.msg.InProgress() }

func (d *delivery) Retry(delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	return d.msg.NakWithDelay(delay)
}

// DeadLetter copies the message to the DLQ subject and terminates it. If the
// copy fails the message is left unsettled so it is redelivered after AckWait.
func (d *delivery) DeadLetter(reason string) error {
	out := &nats.Msg{Subject: d.dlqSubject, Data: d.msg.Data(), Header: nats.Header{}}
	out.Header.Set(HeaderReason, reason)
	out.Header.Set(HeaderAttempts, strconv.Itoa(d.attempts))
	out.Header.Set(HeaderSubject, d.msg.Subject())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := d.js.PublishMsg(ctx, out); err != nil {
		return fmt.Errorf("jsq: publish dead letter: %w", err)
	}
	return d.msg.TermWithReason(reason)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
