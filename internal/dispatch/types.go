package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"
)

// Envelope is the wire body of a queue message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope marshals v as the envelope payload.
func NewEnvelope(typ string, v any) (Envelope, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("dispatch: encode %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Data: b}, nil
}

// Key identifies the envelope's content. Transports use it to collapse
// duplicate enqueues.
func (e Envelope) Key() string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(e.Type))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(e.Data)
	return e.Type + "-" + strconv.FormatUint(h.Sum64(), 16)
}

// Message is one delivery of an envelope, owned by the transport.
//
// Exactly one of Ack, Retry or DeadLetter is called per delivery.
type Message interface {
	Envelope() Envelope
	// Attempts is the transport's delivery counter, starting at 1.
	Attempts() int
	Ack() error
	Retry(delay time.Duration) error
	DeadLetter(reason string) error
}

// ProgressReporter is implemented by messages whose transport redelivers
// once an ack deadline passes. The dispatcher calls InProgress right before
// the handler runs so a message waiting behind others in its batch is not
// redelivered while it is being handled.
type ProgressReporter interface {
	InProgress() error
}

// Handler performs the side effect for one message type.
type Handler interface {
	Handle(ctx context.Context, data json.RawMessage) error
}

type HandlerFunc func(ctx context.Context, data json.RawMessage) error

func (f HandlerFunc) Handle(ctx context.Context, data json.RawMessage) error { return f(ctx, data) }

// Producer enqueues envelopes. Implementations reject batches larger than
// their maximum instead of splitting them.
type Producer interface {
	SendBatch(ctx context.Context, envs []Envelope) error
}

// BatchHandler consumes delivered batches. *Dispatcher implements it.
type BatchHandler interface {
	HandleBatch(ctx context.Context, msgs []Message)
}
