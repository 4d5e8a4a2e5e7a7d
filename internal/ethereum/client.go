// Package ethereum is a minimal JSON-RPC client for block number and block
// time queries. Several endpoints can be configured; each call tries them
// in order until one answers.
package ethereum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	logx "nounsbot/pkg/logx"
)

// SlotTime is the post-merge block interval used to estimate future blocks.
const SlotTime = 12 * time.Second

var (
	ErrNoEndpoints  = errors.New("ethereum: no rpc endpoints configured")
	ErrBlockMissing = errors.New("ethereum: block not found")
)

type Config struct {
	URLs    []string
	Timeout time.Duration
}

type Client struct {
	urls []string
	http *http.Client
	log  logx.Logger
	id   atomic.Uint64
}

func New(cfg Config, log logx.Logger) *Client {
	urls := make([]string, 0, len(cfg.URLs))
	for _, u := range cfg.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{urls: urls, http: &http.Client{Timeout: cfg.Timeout}, log: log.Component("ethereum")}
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("ethereum: rpc error %d: %s", e.Code, e.Message) }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var hex string
	if err := c.call(ctx, "eth_blockNumber", nil, &hex); err != nil {
		return 0, err
	}
	return parseQuantity(hex)
}

// BlockTime returns the timestamp of a mined block.
func (c *Client) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	var block *struct {
		Timestamp string `json:"timestamp"`
	}
	if err := c.call(ctx, "eth_getBlockByNumber", []any{"0x" + strconv.FormatUint(number, 16), false}, &block); err != nil {
		return time.Time{}, err
	}
	if block == nil {
		return time.Time{}, fmt.Errorf("%w: %d", ErrBlockMissing, number)
	}
	ts, err := parseQuantity(block.Timestamp)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(ts), 0).UTC(), nil
}

// EstimateBlockTime returns the timestamp of number when it is mined, or an
// estimate from the latest block and SlotTime when it is still ahead.
func (c *Client) EstimateBlockTime(ctx context.Context, number uint64) (time.Time, error) {
	latest, err := c.BlockNumber(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if number <= latest {
		return c.BlockTime(ctx, number)
	}
	head, err := c.BlockTime(ctx, latest)
	if err != nil {
		return time.Time{}, err
	}
	return head.Add(time.Duration(number-latest) * SlotTime), nil
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	if len(c.urls) == 0 {
		return ErrNoEndpoints
	}
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.id.Add(1), Method: method, Params: params})
	if err != nil {
		return err
	}

	var errs []error
	for _, u := range c.urls {
		err := c.post(ctx, u, body, out)
		if err == nil {
			return nil
		}
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) || ctx.Err() != nil {
			return err
		}
		c.log.Warn("rpc endpoint failed; trying next", logx.String("method", method), logx.Err(err))
		errs = append(errs, err)
	}
	return fmt.Errorf("ethereum: %s: all endpoints failed: %w", method, errors.Join(errs...))
}

func (c *Client) post(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	var rr rpcResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rr.Error != nil {
		return rr.Error
	}
	return json.Unmarshal(rr.Result, out)
}

func parseQuantity(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("ethereum: empty quantity")
	}
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("ethereum: bad quantity %q: %w", s, err)
	}
	return n, nil
}
