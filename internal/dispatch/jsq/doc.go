// Package jsq is the NATS JetStream transport for the dispatcher.
//
// Envelopes are published as JSON to a work stream; a durable, explicit-ack
// pull consumer fetches them in batches. Delivery settlement maps onto
// JetStream acks:
//
//	Ack        -> Ack
//	Retry(d)   -> NakWithDelay(d)
//	DeadLetter -> publish to the DLQ subject, then Term
//
// The attempts counter is the consumer's NumDelivered. MaxDeliver is left
// unlimited; the dispatcher owns the dead-letter ceiling.
package jsq
