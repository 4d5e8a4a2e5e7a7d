package app

import (
	"fmt"
	"strings"
	"time"

	"nounsbot/internal/config"
	"nounsbot/internal/dispatch"
	"nounsbot/internal/dispatch/jsq"
	"nounsbot/internal/dispatch/memq"
	"nounsbot/internal/ethereum"
	"nounsbot/internal/jobs"
	"nounsbot/internal/lilnouns"
	"nounsbot/internal/observability"
	"nounsbot/internal/resolver"
	"nounsbot/internal/scheduler"
	"nounsbot/internal/storage"
	"nounsbot/internal/warpcast"
	logx "nounsbot/pkg/logx"
)

// Operational defaults applied when the config leaves a value empty.
const (
	defaultMinRequestInterval  = 100 * time.Millisecond
	defaultRateLimitRetryDelay = 60 * time.Second
	defaultMaxRateLimitRetries = 3
	defaultConcurrency         = 4
	defaultMaxAttempts         = 10
	defaultJobSchedule         = "@hourly"
	defaultStarterPackSchedule = "@every 12h"
	defaultJobTimeout          = 10 * time.Minute
	defaultVotersTimeout       = 30 * time.Minute
	defaultBusyTimeout         = time.Second
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorage falls back to an in-memory store: the jobs always need one.
func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil || strings.TrimSpace(sc.Driver) == "" || strings.EqualFold(strings.TrimSpace(sc.Driver), "none") {
		return storage.Config{Driver: "memory"}, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		RedisURL:    strings.TrimSpace(sc.RedisURL),
		KeyPrefix:   sc.KeyPrefix,
	}, nil
}

func mapWarpcast(cfg *config.Config) (warpcast.Config, error) {
	w := cfg.Warpcast
	timeout, err := config.ParseDurationField("warpcast.timeout", w.Timeout)
	if err != nil {
		return warpcast.Config{}, err
	}
	return warpcast.Config{
		BaseURL:        w.BaseURL,
		AccessToken:    w.AccessToken,
		APIKey:         w.APIKey,
		Timeout:        timeout,
		SendRatePerSec: w.SendRatePerSec,
		SendBurst:      w.SendBurst,
	}, nil
}

func mapResolver(cfg *config.Config, log logx.Logger, metrics *observability.Metrics) (resolver.Options, error) {
	r := cfg.Resolver
	interval, err := config.ParseDurationOrDefault("resolver.min_request_interval", r.MinRequestInterval, defaultMinRequestInterval)
	if err != nil {
		return resolver.Options{}, err
	}
	retryDelay, err := config.ParseDurationOrDefault("resolver.rate_limit_retry_delay", r.RateLimitRetryDelay, defaultRateLimitRetryDelay)
	if err != nil {
		return resolver.Options{}, err
	}
	callTimeout, err := config.ParseDurationField("resolver.call_timeout", r.CallTimeout)
	if err != nil {
		return resolver.Options{}, err
	}
	retries := r.MaxRateLimitRetries
	if retries == 0 {
		retries = defaultMaxRateLimitRetries
	}
	return resolver.Options{
		MinRequestInterval:  interval,
		RateLimitRetryDelay: retryDelay,
		MaxRateLimitRetries: retries,
		CallTimeout:         callTimeout,
		MaxTimeoutRetries:   r.MaxTimeoutRetries,
		Logger:              log,
		Metrics:             metrics,
	}, nil
}

func resolverConcurrency(cfg *config.Config) int {
	if n := cfg.Resolver.Concurrency; n > 0 {
		return n
	}
	return defaultConcurrency
}

// mapDispatch translates max_attempts: 0 means the default, -1 unlimited.
func mapDispatch(cfg *config.Config, log logx.Logger, metrics *observability.Metrics) (dispatch.Options, error) {
	d := cfg.Dispatch
	maxDelay, err := config.ParseDurationOrDefault("dispatch.max_delay", d.MaxDelay, dispatch.DefaultMaxDelay)
	if err != nil {
		return dispatch.Options{}, err
	}
	handlerTimeout, err := config.ParseDurationField("dispatch.handler_timeout", d.HandlerTimeout)
	if err != nil {
		return dispatch.Options{}, err
	}
	attempts := d.MaxAttempts
	switch {
	case attempts == 0:
		attempts = defaultMaxAttempts
	case attempts < 0:
		attempts = 0
	}
	return dispatch.Options{
		BaseDelay:      d.BaseDelay,
		MaxDelay:       maxDelay,
		MaxAttempts:    attempts,
		HandlerTimeout: handlerTimeout,
		Logger:         log,
		Metrics:        metrics,
	}, nil
}

func queueDriver(cfg *config.Config) string {
	switch d := strings.ToLower(strings.TrimSpace(cfg.Queue.Driver)); d {
	case "", "memory":
		return "memory"
	case "nats":
		return "jetstream"
	default:
		return d
	}
}

func mapMemQueue(cfg *config.Config, log logx.Logger, metrics *observability.Metrics) (memq.Options, error) {
	q := cfg.Queue
	dedup, err := config.ParseDurationOrDefault("queue.dedup_window", q.DedupWindow, memq.DefaultDedupWindow)
	if err != nil {
		return memq.Options{}, err
	}
	return memq.Options{
		MaxBatchSize: q.MaxBatchSize,
		BatchSize:    q.BatchSize,
		DedupWindow:  dedup,
		Logger:       log,
		Metrics:      metrics,
	}, nil
}

func mapJetStream(cfg *config.Config) (jsq.Config, error) {
	n := cfg.Queue.NATS
	if n == nil {
		return jsq.Config{}, fmt.Errorf("queue.nats is required when queue.driver=jetstream")
	}
	var out jsq.Config
	for _, f := range []struct {
		path, raw string
		dst       *time.Duration
	}{
		{"queue.nats.max_age", n.MaxAge, &out.MaxAge},
		{"queue.nats.duplicate_window", n.DuplicateWindow, &out.DuplicateWindow},
		{"queue.nats.ack_wait", n.AckWait, &out.AckWait},
		{"queue.nats.fetch_max_wait", n.FetchMaxWait, &out.FetchMaxWait},
	} {
		d, err := config.ParseDurationField(f.path, f.raw)
		if err != nil {
			return jsq.Config{}, err
		}
		*f.dst = d
	}
	out.URL = strings.TrimSpace(n.URL)
	out.Name = n.Name
	out.Stream = n.Stream
	out.Subject = n.Subject
	out.Storage = n.Storage
	out.DLQStream = n.DLQStream
	out.DLQSubject = n.DLQSubject
	out.Consumer = n.Consumer
	out.MaxAckPending = n.MaxAckPending
	out.MaxBatchSize = cfg.Queue.MaxBatchSize
	out.FetchBatch = n.FetchBatch
	return out, nil
}

func mapSubgraph(cfg *config.Config) (lilnouns.Config, error) {
	timeout, err := config.ParseDurationField("subgraph.timeout", cfg.Subgraph.Timeout)
	if err != nil {
		return lilnouns.Config{}, err
	}
	return lilnouns.Config{
		URL:      cfg.Subgraph.URL,
		PageSize: cfg.Subgraph.PageSize,
		Timeout:  timeout,
		MaxPages: cfg.Subgraph.MaxPages,
	}, nil
}

func mapEthereum(cfg *config.Config) (ethereum.Config, error) {
	timeout, err := config.ParseDurationField("ethereum.timeout", cfg.Ethereum.Timeout)
	if err != nil {
		return ethereum.Config{}, err
	}
	return ethereum.Config{URLs: cfg.Ethereum.RPCURLs, Timeout: timeout}, nil
}

func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	def, err := config.ParseDurationOrDefault("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, defaultJobTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Timezone:       cfg.Scheduler.Timezone,
		DefaultTimeout: def,
	}, nil
}

func mapServer(cfg *config.Config) observability.ServerConfig {
	m := cfg.Metrics
	return observability.ServerConfig{
		Enabled:       m.Enabled,
		Addr:          m.Addr,
		Path:          m.Path,
		Token:         m.Token,
		AllowInsecure: m.AllowInsecure,
		Pprof:         m.Pprof,
	}
}

// mapEvents returns nil when the config does not override the built-in list.
func mapEvents(cfg *config.Config) ([]jobs.Event, error) {
	if len(cfg.Jobs.EventList) == 0 {
		return nil, nil
	}
	out := make([]jobs.Event, 0, len(cfg.Jobs.EventList))
	for i, ev := range cfg.Jobs.EventList {
		day, err := config.ParseWeekday(ev.Weekday)
		if err != nil {
			return nil, fmt.Errorf("jobs.event_list[%d].weekday: %w", i, err)
		}
		h, m, err := config.ParseClock(ev.At)
		if err != nil {
			return nil, fmt.Errorf("jobs.event_list[%d].at: %w", i, err)
		}
		name := strings.TrimSpace(ev.Name)
		if name == "" {
			name = fmt.Sprintf("event-%d", i)
		}
		out = append(out, jobs.Event{
			Name:    name,
			Weekday: day,
			Hour:    h,
			Minute:  m,
			Message: ev.Message,
			Link:    ev.Link,
		})
	}
	return out, nil
}

// jobSpec is one scheduled job resolved from config.
type jobSpec struct {
	name     string
	enabled  bool
	schedule string
	timeout  time.Duration
}

func mapJobSpec(name string, jc config.JobConfig, defTimeout time.Duration) (jobSpec, error) {
	timeout, err := config.ParseDurationOrDefault("jobs."+name+".timeout", jc.Timeout, defTimeout)
	if err != nil {
		return jobSpec{}, err
	}
	schedule := strings.TrimSpace(jc.Schedule)
	if schedule == "" {
		schedule = defaultSchedule(name)
	}
	return jobSpec{name: name, enabled: jc.IsEnabled(), schedule: schedule, timeout: timeout}, nil
}

func defaultSchedule(job string) string {
	if job == "starter_pack" {
		return defaultStarterPackSchedule
	}
	return defaultJobSchedule
}
