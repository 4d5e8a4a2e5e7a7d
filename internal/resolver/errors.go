package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrRateLimited = errors.New("resolver: rate limited")
	ErrNoIdentity  = errors.New("resolver: no identity linked")
	ErrTimeout     = errors.New("resolver: lookup call timed out")
	ErrClosed      = errors.New("resolver: closed")
	ErrEmptyKey    = errors.New("resolver: empty address")
)

// Message prefixes the identity service uses in its error payloads.
const (
	RateLimitPrefix  = "Farcaster client rate limit exceeded"
	NoIdentityPrefix = "No FID has connected"
)

// LookupError is returned when a lookup fails for any reason other than
// "no identity linked".
type LookupError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("resolver: lookup %s failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

type errClass int

const (
	classOK errClass = iota
	classRateLimited
	classNoIdentity
	classTimeout
	classOther
)

func (c errClass) String() string {
	switch c {
	case classOK:
		return "ok"
	case classRateLimited:
		return "rate_limited"
	case classNoIdentity:
		return "no_identity"
	case classTimeout:
		return "timeout"
	default:
		return "error"
	}
}

// messager is implemented by transport errors that carry the service's
// error-message list (warpcast.APIError).
type messager interface {
	Messages() []string
}

// statusCoder is implemented by transport errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

// classify maps a transport error onto the resolver's retry taxonomy.
// parentDone reports whether the resolver's own context has ended, in which
// case a deadline is not a per-call timeout.
func classify(err error, parentDone bool) errClass {
	if err == nil {
		return classOK
	}
	if errors.Is(err, ErrRateLimited) {
		return classRateLimited
	}
	if errors.Is(err, ErrNoIdentity) {
		return classNoIdentity
	}

	var msgs []string
	var m messager
	if errors.As(err, &m) {
		msgs = m.Messages()
	}
	msgs = append(msgs, err.Error())
	for _, s := range msgs {
		s = strings.TrimSpace(s)
		switch {
		case strings.HasPrefix(s, RateLimitPrefix):
			return classRateLimited
		case strings.HasPrefix(s, NoIdentityPrefix):
			return classNoIdentity
		}
	}

	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() == http.StatusTooManyRequests {
		return classRateLimited
	}
	if !parentDone && errors.Is(err, context.DeadlineExceeded) {
		return classTimeout
	}
	return classOther
}

func wrapRateLimited(err error) error {
	if err == nil || errors.Is(err, ErrRateLimited) {
		return ErrRateLimited
	}
	return fmt.Errorf("%w: %w", ErrRateLimited, err)
}

func wrapTimeout(err error) error {
	return fmt.Errorf("%w: %w", ErrTimeout, err)
}
