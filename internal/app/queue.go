package app

import (
	"context"
	"fmt"

	"nounsbot/internal/config"
	"nounsbot/internal/dispatch"
	"nounsbot/internal/dispatch/jsq"
	"nounsbot/internal/dispatch/memq"
	"nounsbot/internal/observability"
	logx "nounsbot/pkg/logx"
)

// queue is a transport that both accepts and delivers envelopes.
type queue interface {
	dispatch.Producer
	Run(ctx context.Context, h dispatch.BatchHandler) error
	Close()
}

type jetstreamQueue struct {
	*jsq.Producer
	client   *jsq.Client
	consumer *jsq.Consumer
}

func (q *jetstreamQueue) Run(ctx context.Context, h dispatch.BatchHandler) error {
	return q.consumer.Run(ctx, h)
}

func (q *jetstreamQueue) Close() { q.client.Close() }

func openQueue(ctx context.Context, cfg *config.Config, log logx.Logger, metrics *observability.Metrics) (queue, error) {
	switch driver := queueDriver(cfg); driver {
	case "memory":
		opts, err := mapMemQueue(cfg, log.Component("memq"), metrics)
		if err != nil {
			return nil, err
		}
		return memq.New(opts), nil
	case "jetstream":
		jc, err := mapJetStream(cfg)
		if err != nil {
			return nil, err
		}
		client, err := jsq.Connect(jc, log)
		if err != nil {
			return nil, err
		}
		cons, err := client.EnsureStreams(ctx)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &jetstreamQueue{
			Producer: jsq.NewProducer(client, metrics),
			client:   client,
			consumer: jsq.NewConsumer(client, cons),
		}, nil
	default:
		return nil, fmt.Errorf("unknown queue.driver: %s", driver)
	}
}
