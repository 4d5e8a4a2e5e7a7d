package jsq

import "time"

// DefaultFetchBatch keeps one fetch small enough to drain within AckWait at
// the default send rate.
const DefaultFetchBatch = 10

// Config holds connection, stream and consumer settings.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration

	Stream          string
	Subject         string
	Storage         string // file | memory
	MaxAge          time.Duration
	DuplicateWindow time.Duration

	DLQStream  string
	DLQSubject string
	DLQMaxAge  time.Duration

	Consumer      string
	AckWait       time.Duration
	MaxAckPending int

	// MaxBatchSize bounds SendBatch. FetchBatch bounds one consumer fetch.
	MaxBatchSize int
	FetchBatch   int
	FetchMaxWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = "nats://127.0.0.1:4222"
	}
	if c.Name == "" {
		c.Name = "nounsbot"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 60
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Stream == "" {
		c.Stream = "NOUNSBOT_DISPATCH"
	}
	if c.Subject == "" {
		c.Subject = "nounsbot.dispatch"
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 7 * 24 * time.Hour
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = 2 * time.Minute
	}
	if c.DLQStream == "" {
		c.DLQStream = "NOUNSBOT_DLQ"
	}
	if c.DLQSubject == "" {
		c.DLQSubject = "dlq.nounsbot.dispatch"
	}
	if c.DLQMaxAge <= 0 {
		c.DLQMaxAge = 30 * 24 * time.Hour
	}
	if c.Consumer == "" {
		c.Consumer = "nounsbot-dispatch"
	}
	if c.AckWait <= 0 {
		c.AckWait = 60 * time.Second
	}
	if c.MaxAckPending <= 0 {
		c.MaxAckPending = 1000
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 100
	}
	if c.FetchBatch <= 0 {
		c.FetchBatch = DefaultFetchBatch
	}
	if c.FetchBatch > c.MaxBatchSize {
		c.FetchBatch = c.MaxBatchSize
	}
	if c.FetchMaxWait <= 0 {
		c.FetchMaxWait = 5 * time.Second
	}
	return c
}
