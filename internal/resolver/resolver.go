package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"nounsbot/internal/observability"
	logx "nounsbot/pkg/logx"
)

// Status tags a successful lookup.
type Status int

const (
	NotFound Status = iota
	Found
)

func (s Status) String() string {
	if s == Found {
		return "found"
	}
	return "not_found"
}

// Result is the outcome of a lookup that did not fail.
type Result struct {
	Status Status
	FID    int64
}

func (r Result) Found() bool { return r.Status == Found }

// Transport performs one remote identity lookup.
//
// found=false with a nil error means the service answered without an FID.
type Transport interface {
	LookupFID(ctx context.Context, address string) (fid int64, found bool, err error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, address string) (int64, bool, error)

func (f TransportFunc) LookupFID(ctx context.Context, address string) (int64, bool, error) {
	return f(ctx, address)
}

// Options configures a Resolver.
//
// Defaults (when fields are zero):
//   - MaxRateLimitRetries: 1 (a rate limit is surfaced immediately)
//   - CallTimeout: 0 (no per-call timeout beyond the transport's)
//   - MaxTimeoutRetries: 0
type Options struct {
	MinRequestInterval  time.Duration
	RateLimitRetryDelay time.Duration
	// MaxRateLimitRetries is the total number of attempts made while the
	// service keeps answering "rate limited".
	MaxRateLimitRetries int

	CallTimeout       time.Duration
	MaxTimeoutRetries int

	Logger  logx.Logger
	Metrics *observability.Metrics
}

func (o Options) withDefaults() Options {
	if o.MinRequestInterval < 0 {
		o.MinRequestInterval = 0
	}
	if o.RateLimitRetryDelay < 0 {
		o.RateLimitRetryDelay = 0
	}
	if o.MaxRateLimitRetries < 1 {
		o.MaxRateLimitRetries = 1
	}
	if o.CallTimeout < 0 {
		o.CallTimeout = 0
	}
	if o.MaxTimeoutRetries < 0 {
		o.MaxTimeoutRetries = 0
	}
	if o.Logger.IsZero() {
		o.Logger = logx.Nop()
	}
	return o
}

// call is a lookup shared by every caller of the same key.
// res/err are written once, before done is closed.
type call struct {
	done chan struct{}
	res  Result
	err  error
}

// Resolver is safe for concurrent use. It must be closed to release its
// pacing goroutine.
type Resolver struct {
	transport Transport
	opts      Options
	log       logx.Logger
	metrics   *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	gate   *gate
	wg     sync.WaitGroup

	mu     sync.Mutex
	calls  map[string]*call
	closed bool
}

func New(transport Transport, opts Options) *Resolver {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		transport: transport,
		opts:      opts,
		log:       opts.Logger.Component("resolver"),
		metrics:   opts.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		gate:      newGate(ctx, opts.MinRequestInterval),
		calls:     map[string]*call{},
	}
}

// Normalize returns the cache key for an address.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Lookup resolves address to an FID.
//
// Cancelling ctx only stops this caller from waiting; the shared lookup keeps
// running for other callers and for the cache.
func (r *Resolver) Lookup(ctx context.Context, address string) (Result, error) {
	key := Normalize(address)
	if key == "" {
		return Result{}, ErrEmptyKey
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Result{}, ErrClosed
	}
	c, ok := r.calls[key]
	if !ok {
		c = &call{done: make(chan struct{})}
		r.calls[key] = c
		r.wg.Add(1)
		go r.run(key, c)
	}
	r.mu.Unlock()

	select {
	case <-c.done:
		return c.res, c.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// LookupMany resolves addresses concurrently and returns the FIDs that were
// found, keyed by normalized address. NotFound addresses are omitted and
// per-address failures are logged, not returned; the only error is ctx's.
func (r *Resolver) LookupMany(ctx context.Context, addresses []string, concurrency int) (map[string]int64, error) {
	var (
		mu  sync.Mutex
		out = make(map[string]int64, len(addresses))
	)

	g := new(errgroup.Group)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for _, addr := range addresses {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := r.Lookup(ctx, addr)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Warn("lookup failed", logx.String("address", Normalize(addr)), logx.Err(err))
				}
				return nil
			}
			if res.Found() {
				mu.Lock()
				out[Normalize(addr)] = res.FID
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// Forget drops a cached result. In-flight lookups are left alone.
func (r *Resolver) Forget(address string) {
	key := Normalize(address)
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[key]
	if !ok {
		return
	}
	select {
	case <-c.done:
		delete(r.calls, key)
	default:
	}
}

// Close stops the pacing gate and waits for in-flight lookups to finish.
// Waiting callers receive an error.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	r.gate.wait()
}

func (r *Resolver) run(key string, c *call) {
	defer r.wg.Done()

	res, err := r.resolve(key)

	r.mu.Lock()
	if err != nil && r.calls[key] == c {
		// Evict so a later Lookup retries instead of reading a poisoned entry.
		delete(r.calls, key)
	}
	c.res, c.err = res, err
	close(c.done)
	r.mu.Unlock()

	switch {
	case err != nil:
		r.metrics.LookupResult(r.ctx, "error")
	default:
		r.metrics.LookupResult(r.ctx, res.Status.String())
	}
}

// resolve runs the bounded attempt loop for one key.
func (r *Resolver) resolve(key string) (Result, error) {
	ctx := r.ctx
	var rateLimited, timeouts int

	for attempt := 1; ; attempt++ {
		admitStart := time.Now()
		if err := r.gate.admit(ctx); err != nil {
			if ctx.Err() != nil {
				err = ErrClosed
			}
			return Result{}, &LookupError{Key: key, Attempts: attempt - 1, Err: err}
		}
		r.metrics.GateWaited(ctx, time.Since(admitStart))

		fid, found, err := r.dispatch(ctx, key)
		class := classify(err, ctx.Err() != nil)
		r.metrics.LookupCall(ctx, class.String())

		switch class {
		case classOK:
			if !found || fid <= 0 {
				r.log.Debug("no fid for address", logx.String("address", key))
				return Result{Status: NotFound}, nil
			}
			return Result{Status: Found, FID: fid}, nil

		case classNoIdentity:
			r.log.Debug("no fid for address", logx.String("address", key))
			return Result{Status: NotFound}, nil

		case classRateLimited:
			rateLimited++
			if rateLimited >= r.opts.MaxRateLimitRetries {
				return Result{}, &LookupError{Key: key, Attempts: attempt, Err: wrapRateLimited(err)}
			}
			r.log.Debug("rate limited; retrying",
				logx.String("address", key),
				logx.Int("attempt", attempt),
				logx.Duration("delay", r.opts.RateLimitRetryDelay),
			)
			if err := sleep(ctx, r.opts.RateLimitRetryDelay); err != nil {
				return Result{}, &LookupError{Key: key, Attempts: attempt, Err: ErrClosed}
			}

		case classTimeout:
			timeouts++
			if timeouts > r.opts.MaxTimeoutRetries {
				return Result{}, &LookupError{Key: key, Attempts: attempt, Err: wrapTimeout(err)}
			}
			r.log.Debug("lookup timed out; retrying", logx.String("address", key), logx.Int("attempt", attempt))

		default:
			return Result{}, &LookupError{Key: key, Attempts: attempt, Err: err}
		}
	}
}

func (r *Resolver) dispatch(ctx context.Context, key string) (int64, bool, error) {
	if r.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.CallTimeout)
		defer cancel()
	}
	return r.transport.LookupFID(ctx, key)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
