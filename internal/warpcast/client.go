package warpcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "nounsbot/pkg/logx"
)

const DefaultBaseURL = "https://api.warpcast.com"

type Config struct {
	BaseURL     string
	AccessToken string
	APIKey      string
	Timeout     time.Duration

	// SendRatePerSec and SendBurst shape the direct-cast token bucket.
	SendRatePerSec float64
	SendBurst      int
}

type Client struct {
	base    string
	token   string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.SendRatePerSec <= 0 {
		cfg.SendRatePerSec = 1
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AccessToken,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), cfg.SendBurst),
		log:     log.Component("warpcast"),
	}
}

// User is the subset of the Warpcast user object the bot reads.
type User struct {
	FID         int64  `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

type userResult struct {
	Result struct {
		User User `json:"user"`
	} `json:"result"`
}

// UserByVerification returns the user that verified address.
func (c *Client) UserByVerification(ctx context.Context, address string) (User, error) {
	q := url.Values{"address": {address}}
	var out userResult
	if err := c.do(ctx, http.MethodGet, "/v2/user-by-verification?"+q.Encode(), c.token, nil, &out); err != nil {
		return User{}, err
	}
	return out.Result.User, nil
}

// Me returns the user that owns the access token.
func (c *Client) Me(ctx context.Context) (User, error) {
	var out userResult
	if err := c.do(ctx, http.MethodGet, "/v2/me", c.token, nil, &out); err != nil {
		return User{}, err
	}
	return out.Result.User, nil
}

// LookupFID adapts UserByVerification to the resolver's transport contract.
// A response without an FID is reported as not found.
func (c *Client) LookupFID(ctx context.Context, address string) (int64, bool, error) {
	u, err := c.UserByVerification(ctx, address)
	if err != nil {
		return 0, false, err
	}
	if u.FID <= 0 {
		return 0, false, nil
	}
	return u.FID, true, nil
}

// DirectCast is the body of a direct-cast request.
type DirectCast struct {
	RecipientFID   int64  `json:"recipientFid"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type successResult struct {
	Result struct {
		Success bool `json:"success"`
	} `json:"result"`
}

// SendDirectCast waits for a send token and delivers dc. A 2xx response
// that does not report success returns ErrSendRefused.
func (c *Client) SendDirectCast(ctx context.Context, dc DirectCast) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var out successResult
	if err := c.do(ctx, http.MethodPut, "/v2/ext-send-direct-cast", c.apiKey, dc, &out); err != nil {
		return err
	}
	if !out.Result.Success {
		return ErrSendRefused
	}
	c.log.Debug("direct cast sent", logx.Int64("recipient", dc.RecipientFID))
	return nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	if bearer == "" {
		return ErrNoToken
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("warpcast: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("warpcast: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("warpcast: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("warpcast: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, data)
	}
	// Some error payloads arrive with a 200.
	if hasErrors(data) {
		return parseAPIError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("warpcast: decode response: %w", err)
	}
	return nil
}

func hasErrors(data []byte) bool {
	var eb errorBody
	return json.Unmarshal(data, &eb) == nil && len(eb.Errors) > 0
}
