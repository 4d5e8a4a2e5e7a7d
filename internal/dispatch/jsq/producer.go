package jsq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"nounsbot/internal/dispatch"
	"nounsbot/internal/observability"
	logx "nounsbot/pkg/logx"
)

// publisher is the slice of jetstream.JetStream the transport publishes with.
type publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

var ErrPartialPublish = errors.New("jsq: partial batch publish")

type Producer struct {
	js       publisher
	subject  string
	maxBatch int
	log      logx.Logger
	metrics  *observability.Metrics
}

func NewProducer(c *Client, metrics *observability.Metrics) *Producer {
	return newProducer(c.js, c.cfg, c.log, metrics)
}

func newProducer(js publisher, cfg Config, log logx.Logger, metrics *observability.Metrics) *Producer {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Producer{js: js, subject: cfg.Subject, maxBatch: cfg.MaxBatchSize, log: log, metrics: metrics}
}

// SendBatch publishes each envelope with its content key as the JetStream
// message id, so re-enqueues inside the duplicate window are dropped by the
// server. Publishing continues past individual failures.
func (p *Producer) SendBatch(ctx context.Context, envs []dispatch.Envelope) error {
	err := p.sendBatch(ctx, envs)
	p.metrics.Enqueue(ctx, "jetstream", len(envs), err)
	return err
}

func (p *Producer) sendBatch(ctx context.Context, envs []dispatch.Envelope) error {
	if len(envs) > p.maxBatch {
		return fmt.Errorf("%w: %d > %d", dispatch.ErrBatchTooLarge, len(envs), p.maxBatch)
	}
	failed := 0
	var firstErr error
	for _, env := range envs {
		if err := p.publish(ctx, env); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			p.log.Error("publish failed", logx.String("type", env.Type), logx.Err(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d failed: %w", ErrPartialPublish, failed, len(envs), firstErr)
	}
	return nil
}

func (p *Producer) publish(ctx context.Context, env dispatch.Envelope) error {
	if env.Type == "" {
		return dispatch.ErrEmptyType
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("jsq: encode envelope: %w", err)
	}
	ack, err := p.js.PublishMsg(ctx, &nats.Msg{Subject: p.subject, Data: data}, jetstream.WithMsgID(env.Key()))
	if err != nil {
		return fmt.Errorf("jsq: publish: %w", err)
	}
	if ack != nil && ack.Duplicate {
		p.log.Debug("duplicate envelope dropped by server", logx.String("type", env.Type))
	}
	return nil
}
