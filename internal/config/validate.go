package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validate checks everything that can be checked without dialing out:
// durations, enums, bounds and the event list. It is run on Load and
// before every hot reload is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		check(err)
	}
	nonNeg := func(path string, v int) {
		if v < 0 {
			check(fmt.Errorf("%s must be >= 0", path))
		}
	}

	dur("warpcast.timeout", cfg.Warpcast.Timeout)
	if cfg.Warpcast.SendRatePerSec < 0 {
		check(fmt.Errorf("warpcast.send_rate_per_sec must be >= 0"))
	}
	nonNeg("warpcast.send_burst", cfg.Warpcast.SendBurst)

	dur("resolver.min_request_interval", cfg.Resolver.MinRequestInterval)
	dur("resolver.rate_limit_retry_delay", cfg.Resolver.RateLimitRetryDelay)
	dur("resolver.call_timeout", cfg.Resolver.CallTimeout)
	nonNeg("resolver.max_rate_limit_retries", cfg.Resolver.MaxRateLimitRetries)
	nonNeg("resolver.max_timeout_retries", cfg.Resolver.MaxTimeoutRetries)
	nonNeg("resolver.concurrency", cfg.Resolver.Concurrency)

	if b := cfg.Dispatch.BaseDelay; b != 0 && b < 1 {
		check(fmt.Errorf("dispatch.base_delay must be >= 1"))
	}
	dur("dispatch.max_delay", cfg.Dispatch.MaxDelay)
	dur("dispatch.handler_timeout", cfg.Dispatch.HandlerTimeout)
	if cfg.Dispatch.MaxAttempts < -1 {
		check(fmt.Errorf("dispatch.max_attempts must be >= -1"))
	}

	check(validateQueue(cfg.Queue))
	check(validateStorage(cfg.Storage))

	nonNeg("subgraph.page_size", cfg.Subgraph.PageSize)
	nonNeg("subgraph.max_pages", cfg.Subgraph.MaxPages)
	dur("subgraph.timeout", cfg.Subgraph.Timeout)
	dur("ethereum.timeout", cfg.Ethereum.Timeout)

	for name, j := range cfg.Jobs.ByName() {
		dur("jobs."+name+".timeout", j.Timeout)
	}
	dur("jobs.accounts_ttl", cfg.Jobs.AccountsTTL)
	dur("jobs.events_window", cfg.Jobs.EventsWindow)
	if u := cfg.Jobs.ProposalURL; u != "" && strings.Count(u, "%s") != 1 {
		check(fmt.Errorf("jobs.proposal_url must contain %%s exactly once"))
	}
	for i, ev := range cfg.Jobs.EventList {
		path := fmt.Sprintf("jobs.event_list[%d]", i)
		if strings.TrimSpace(ev.Message) == "" {
			check(fmt.Errorf("%s.message required", path))
		}
		if _, err := ParseWeekday(ev.Weekday); err != nil {
			check(fmt.Errorf("%s.weekday: %w", path, err))
		}
		if _, _, err := ParseClock(ev.At); err != nil {
			check(fmt.Errorf("%s.at: %w", path, err))
		}
	}

	dur("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout)
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			check(fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}
	if p := strings.TrimSpace(cfg.Metrics.Path); p != "" && !strings.HasPrefix(p, "/") {
		check(fmt.Errorf("metrics.path must start with /"))
	}
	if p := strings.TrimSpace(cfg.Metrics.Path); p == "/healthz" || strings.HasPrefix(p, "/debug/pprof") {
		check(fmt.Errorf("metrics.path %q collides with a built-in route", p))
	}

	return errors.Join(errs...)
}

func validateQueue(q QueueConfig) error {
	if q.MaxBatchSize < 0 || q.BatchSize < 0 {
		return fmt.Errorf("queue batch sizes must be >= 0")
	}
	if _, err := ParseDurationField("queue.dedup_window", q.DedupWindow); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(q.Driver)) {
	case "", "memory":
		return nil
	case "jetstream", "nats":
	default:
		return fmt.Errorf("unknown queue.driver: %s", q.Driver)
	}
	n := q.NATS
	if n == nil || strings.TrimSpace(n.URL) == "" {
		return fmt.Errorf("queue.nats.url (or NATS_URL) is required when queue.driver=jetstream")
	}
	for path, raw := range map[string]string{
		"queue.nats.max_age":          n.MaxAge,
		"queue.nats.duplicate_window": n.DuplicateWindow,
		"queue.nats.ack_wait":         n.AckWait,
		"queue.nats.fetch_max_wait":   n.FetchMaxWait,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	switch strings.ToLower(strings.TrimSpace(n.Storage)) {
	case "", "file", "memory":
	default:
		return fmt.Errorf("unknown queue.nats.storage: %s", n.Storage)
	}
	return nil
}

func validateStorage(s *StorageConfig) error {
	if s == nil {
		return nil
	}
	if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case "", "none", "memory", "file":
		return nil
	case "sqlite", "sqlite3":
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		return nil
	case "redis":
		if strings.TrimSpace(s.RedisURL) == "" {
			return fmt.Errorf("storage.redis_url (or REDIS_URL) is required when storage.driver=redis")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage.driver: %s", s.Driver)
	}
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("invalid weekday %q", s)
	}
	return d, nil
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
