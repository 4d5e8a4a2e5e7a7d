package config

// Config is the on-disk bot configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m"). Empty or
// zero durations fall back to the package defaults noted on each field.
// Secrets are normally supplied through the environment, see Secrets.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Warpcast  WarpcastConfig  `json:"warpcast"`
	Resolver  ResolverConfig  `json:"resolver"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Queue     QueueConfig     `json:"queue"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Subgraph  SubgraphConfig  `json:"subgraph"`
	Ethereum  EthereumConfig  `json:"ethereum"`
	Jobs      JobsConfig      `json:"jobs"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// WarpcastConfig controls the Warpcast API client.
//
// Defaults:
//   - base_url: "https://api.warpcast.com"
//   - timeout: "15s"
//   - send_rate_per_sec: 1, send_burst: 1
type WarpcastConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	// AccessToken and APIKey are accepted here for local runs; prefer
	// WARPCAST_ACCESS_TOKEN / WARPCAST_API_KEY. Never logged.
	AccessToken    string  `json:"access_token,omitempty"`
	APIKey         string  `json:"api_key,omitempty"`
	Timeout        string  `json:"timeout,omitempty"`
	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty"`
	SendBurst      int     `json:"send_burst,omitempty"`
}

// ResolverConfig controls the address to FID resolver.
//
// Defaults:
//   - min_request_interval: "100ms"
//   - rate_limit_retry_delay: "60s"
//   - max_rate_limit_retries: 3
//   - call_timeout: "0s" (disabled), max_timeout_retries: 0
//   - concurrency: 8 (voter job fan-out)
type ResolverConfig struct {
	MinRequestInterval  string `json:"min_request_interval,omitempty"`
	RateLimitRetryDelay string `json:"rate_limit_retry_delay,omitempty"`
	MaxRateLimitRetries int    `json:"max_rate_limit_retries,omitempty"`
	CallTimeout         string `json:"call_timeout,omitempty"`
	MaxTimeoutRetries   int    `json:"max_timeout_retries,omitempty"`
	Concurrency         int    `json:"concurrency,omitempty"`
}

// DispatchConfig controls redelivery of failed messages.
//
// Defaults:
//   - base_delay: 2 (delay = base_delay ^ attempts seconds)
//   - max_delay: "12h"
//   - max_attempts: 10 (use -1 for unlimited)
//   - handler_timeout: "30s"
type DispatchConfig struct {
	BaseDelay      float64 `json:"base_delay,omitempty"`
	MaxDelay       string  `json:"max_delay,omitempty"`
	MaxAttempts    int     `json:"max_attempts,omitempty"`
	HandlerTimeout string  `json:"handler_timeout,omitempty"`
}

// QueueConfig selects the message transport.
//
// Example:
//
//	"queue": { "driver": "jetstream", "nats": { "url": "nats://127.0.0.1:4222" } }
type QueueConfig struct {
	Driver       string      `json:"driver"` // memory | jetstream
	MaxBatchSize int         `json:"max_batch_size,omitempty"`
	BatchSize    int         `json:"batch_size,omitempty"`
	DedupWindow  string      `json:"dedup_window,omitempty"`
	NATS         *NATSConfig `json:"nats,omitempty"`
}

type NATSConfig struct {
	URL             string `json:"url,omitempty"`
	Name            string `json:"name,omitempty"`
	Stream          string `json:"stream,omitempty"`
	Subject         string `json:"subject,omitempty"`
	Storage         string `json:"storage,omitempty"` // file | memory
	MaxAge          string `json:"max_age,omitempty"`
	DuplicateWindow string `json:"duplicate_window,omitempty"`
	DLQStream       string `json:"dlq_stream,omitempty"`
	DLQSubject      string `json:"dlq_subject,omitempty"`
	Consumer        string `json:"consumer,omitempty"`
	AckWait         string `json:"ack_wait,omitempty"`
	MaxAckPending   int    `json:"max_ack_pending,omitempty"`
	FetchBatch      int    `json:"fetch_batch,omitempty"`
	FetchMaxWait    string `json:"fetch_max_wait,omitempty"`
}

// StorageConfig controls the key-value cache used by the jobs.
// Nil means an in-memory store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./nounsbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // memory | file | sqlite | redis
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	RedisURL    string `json:"redis_url,omitempty"`
	KeyPrefix   string `json:"key_prefix,omitempty"`
}

type SubgraphConfig struct {
	URL      string `json:"url,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	MaxPages int    `json:"max_pages,omitempty"`
}

type EthereumConfig struct {
	RPCURLs []string `json:"rpc_urls,omitempty"`
	Timeout string   `json:"timeout,omitempty"`
}

// JobsConfig controls the periodic jobs. Empty schedules default to "@hourly".
type JobsConfig struct {
	Voters      JobConfig `json:"voters"`
	Reminder    JobConfig `json:"reminder"`
	Events      JobConfig `json:"events"`
	StarterPack JobConfig `json:"starter_pack"`

	// AccountsTTL is how long subgraph account/delegate lists are cached (default "24h").
	AccountsTTL string `json:"accounts_ttl,omitempty"`
	// EventsWindow is how far ahead a community event is announced (default "2h").
	EventsWindow string `json:"events_window,omitempty"`
	// ProposalURL is an optional link template; "%s" is replaced with the
	// proposal id and the link is appended to reminders.
	ProposalURL string `json:"proposal_url,omitempty"`
	// Events overrides the built-in weekly community events.
	EventList []EventConfig `json:"event_list,omitempty"`
	// StarterPackPrefix selects the bot's pack to sync with the voter list
	// (default "Lil-Legends").
	StarterPackPrefix string `json:"starter_pack_prefix,omitempty"`
}

// ByName returns every job's config keyed by its config name.
func (j JobsConfig) ByName() map[string]JobConfig {
	return map[string]JobConfig{
		"voters":       j.Voters,
		"reminder":     j.Reminder,
		"events":       j.Events,
		"starter_pack": j.StarterPack,
	}
}

// JobConfig toggles one job. Enabled is a pointer so an omitted flag means enabled.
type JobConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

func (j JobConfig) IsEnabled() bool { return j.Enabled == nil || *j.Enabled }

// EventConfig describes a weekly community event in UTC.
type EventConfig struct {
	Name    string `json:"name"`
	Weekday string `json:"weekday"` // "tuesday", "thu", ...
	At      string `json:"at"`      // "HH:MM"
	Message string `json:"message"`
	Link    string `json:"link"`
}

type SchedulerConfig struct {
	Enabled        bool   `json:"enabled"`
	Timezone       string `json:"timezone,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

// MetricsConfig controls the diagnostics HTTP server (Prometheus metrics,
// /healthz and optional pprof). Changes apply without a restart.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Path          string `json:"path,omitempty"` // default: "/metrics"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
