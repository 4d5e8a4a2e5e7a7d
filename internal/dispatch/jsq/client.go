package jsq

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	logx "nounsbot/pkg/logx"
)

// Client wraps the NATS connection and its JetStream context.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
	cfg  Config
	log  logx.Logger
}

func Connect(cfg Config, log logx.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.Component("jsq")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected from nats", logx.Err(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected to nats", logx.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("nats connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error("nats error", logx.Err(err))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("jsq: connect: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jsq: jetstream context: %w", err)
	}
	log.Info("connected to nats", logx.String("url", conn.ConnectedUrl()))
	return &Client{conn: conn, js: js, cfg: cfg, log: log}, nil
}

func (c *Client) JetStream() jetstream.JetStream { return c.js }
func (c *Client) Config() Config                 { return c.cfg }

// Close drains the connection, letting in-flight acks reach the server.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}

// EnsureStreams creates or updates the work stream, the DLQ stream and the
// durable dispatch consumer.
func (c *Client) EnsureStreams(ctx context.Context) (jetstream.Consumer, error) {
	storage := jetstream.FileStorage
	if strings.EqualFold(c.cfg.Storage, "memory") {
		storage = jetstream.MemoryStorage
	}

	work, err := c.ensureStream(ctx, jetstream.StreamConfig{
		Name:       c.cfg.Stream,
		Subjects:   []string{c.cfg.Subject},
		Storage:    storage,
		MaxAge:     c.cfg.MaxAge,
		Retention:  jetstream.WorkQueuePolicy,
		Discard:    jetstream.DiscardOld,
		Duplicates: c.cfg.DuplicateWindow,
	})
	if err != nil {
		return nil, err
	}
	if _, err := c.ensureStream(ctx, jetstream.StreamConfig{
		Name:      c.cfg.DLQStream,
		Subjects:  []string{c.cfg.DLQSubject},
		Storage:   storage,
		MaxAge:    c.cfg.DLQMaxAge,
		Retention: jetstream.LimitsPolicy,
		Discard:   jetstream.DiscardOld,
	}); err != nil {
		return nil, err
	}

	cons, err := work.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       c.cfg.Consumer,
		FilterSubject: c.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		MaxAckPending: c.cfg.MaxAckPending,
		MaxDeliver:    -1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("jsq: ensure consumer %s: %w", c.cfg.Consumer, err)
	}
	return cons, nil
}

func (c *Client) ensureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	if _, err := c.js.Stream(ctx, cfg.Name); err == nil {
		s, err := c.js.UpdateStream(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("jsq: update stream %s: %w", cfg.Name, err)
		}
		c.log.Debug("stream updated", logx.String("stream", cfg.Name))
		return s, nil
	}
	s, err := c.js.CreateStream(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("jsq: create stream %s: %w", cfg.Name, err)
	}
	c.log.Info("stream created", logx.String("stream", cfg.Name), logx.Any("subjects", cfg.Subjects))
	return s, nil
}
