// Package dispatch consumes delivered queue messages and settles each one.
//
// A Dispatcher routes every message to the handler registered for its
// envelope type and then acks it, schedules a redelivery with exponential
// backoff, or dead-letters it. Outcomes are independent per message: one
// failing handler never stops its siblings in the same batch.
//
// Backoff is computed from the attempts counter the transport reports:
//
//	delay = BaseDelay ^ attempts  (seconds, capped at MaxDelay)
//
// The dispatcher keeps no state between deliveries. Transports live in the
// subpackages memq (in-process) and jsq (NATS JetStream).
package dispatch
