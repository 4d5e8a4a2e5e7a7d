// Package resolver maps wallet addresses to Farcaster FIDs through a
// rate-limited remote lookup service.
//
// # Guarantees
//
// A Resolver gives three guarantees to its callers:
//   - Outbound lookups are spaced by at least MinRequestInterval, system-wide,
//     no matter how many goroutines call Lookup. Dispatch order follows
//     admission order (FIFO); response order does not.
//   - Concurrent lookups for the same normalized address share one remote
//     call. Found and NotFound results are cached for the resolver's lifetime;
//     failures are evicted so a later Lookup starts fresh.
//   - A rate-limit response is retried after RateLimitRetryDelay, up to
//     MaxRateLimitRetries total attempts, before the failure is surfaced.
//
// # Outcomes
//
// "No FID linked" is an expected answer, reported as a Result with Status
// NotFound and a nil error. Everything else that goes wrong is a
// *LookupError; errors.Is(err, ErrRateLimited) tells rate-limit exhaustion
// apart from other failures.
//
// Addresses are normalized (trimmed, lower-cased) inside the resolver. Callers
// pass whatever they have.
package resolver
