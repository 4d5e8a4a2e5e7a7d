package warpcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNoToken       = errors.New("warpcast: missing credentials")
	ErrSendRefused   = errors.New("warpcast: direct cast not accepted")
	ErrUpdateRefused = errors.New("warpcast: starter pack update not accepted")
)

// rateLimitMessage prefixes the error Warpcast returns when it throttles a
// client. It is not always paired with a 429 status.
const rateLimitMessage = "Farcaster client rate limit exceeded"

// APIError is a non-2xx response. Messages holds the service's error list.
type APIError struct {
	Status int
	Msgs   []string
}

func (e *APIError) Error() string {
	if len(e.Msgs) == 0 {
		return fmt.Sprintf("warpcast: http %d", e.Status)
	}
	return fmt.Sprintf("warpcast: http %d: %s", e.Status, strings.Join(e.Msgs, "; "))
}

func (e *APIError) Messages() []string { return e.Msgs }
func (e *APIError) StatusCode() int    { return e.Status }

// RateLimited reports a 429 or a throttling message under any status.
func (e *APIError) RateLimited() bool {
	if e.Status == http.StatusTooManyRequests {
		return true
	}
	for _, m := range e.Msgs {
		if strings.HasPrefix(m, rateLimitMessage) {
			return true
		}
	}
	return false
}

// Temporary reports whether a retry could succeed.
func (e *APIError) Temporary() bool {
	return e.RateLimited() || e.Status >= 500
}

type errorBody struct {
	Errors []*struct {
		Message *string `json:"message"`
	} `json:"errors"`
}

func parseAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		for _, it := range eb.Errors {
			if it != nil && it.Message != nil && *it.Message != "" {
				e.Msgs = append(e.Msgs, *it.Message)
			}
		}
	}
	if len(e.Msgs) == 0 {
		if s := strings.TrimSpace(string(body)); s != "" && len(s) <= 512 {
			e.Msgs = []string{s}
		}
	}
	return e
}
