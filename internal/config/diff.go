package config

import (
	"reflect"
	"sort"
	"strings"

	logx "nounsbot/pkg/logx"
)

// restartSections cannot be applied live; the app warns instead.
var restartSections = map[string]bool{
	"warpcast": true,
	"queue":    true,
	"storage":  true,
	"subgraph": true,
	"ethereum": true,
	"resolver": true,
	"dispatch": true,
}

// NeedsRestart reports whether a changed section only takes effect after a restart.
func NeedsRestart(section string) bool { return restartSections[section] }

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for logging. Secrets (tokens, API keys, URLs that may
// carry credentials) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	ow, nw := oldCfg.Warpcast, newCfg.Warpcast
	if !reflect.DeepEqual(ow, nw) {
		changed = append(changed, "warpcast")
		attrs = append(attrs,
			logx.String("warpcast.base_url", strings.TrimSpace(nw.BaseURL)),
			logx.Bool("warpcast.token_set", strings.TrimSpace(nw.AccessToken) != ""),
			logx.Bool("warpcast.token_changed", ow.AccessToken != nw.AccessToken),
			logx.Float64("warpcast.send_rate_per_sec", nw.SendRatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Resolver, newCfg.Resolver) {
		changed = append(changed, "resolver")
	}
	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Float64("dispatch.base_delay", newCfg.Dispatch.BaseDelay),
			logx.Int("dispatch.max_attempts", newCfg.Dispatch.MaxAttempts),
		)
	}
	if !reflect.DeepEqual(oldCfg.Queue, newCfg.Queue) {
		changed = append(changed, "queue")
		attrs = append(attrs, logx.String("queue.driver", strings.TrimSpace(newCfg.Queue.Driver)))
	}
	if storageShape(oldCfg.Storage) != storageShape(newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", storageShape(newCfg.Storage).driver))
	}
	if !reflect.DeepEqual(oldCfg.Subgraph, newCfg.Subgraph) {
		changed = append(changed, "subgraph")
	}
	if !reflect.DeepEqual(oldCfg.Ethereum, newCfg.Ethereum) {
		changed = append(changed, "ethereum")
		attrs = append(attrs, logx.Int("ethereum.rpc_count", len(newCfg.Ethereum.RPCURLs)))
	}
	if !reflect.DeepEqual(oldCfg.Jobs, newCfg.Jobs) {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Bool("jobs.voters", newCfg.Jobs.Voters.IsEnabled()),
			logx.Bool("jobs.reminder", newCfg.Jobs.Reminder.IsEnabled()),
			logx.Bool("jobs.events", newCfg.Jobs.Events.IsEnabled()),
			logx.Bool("jobs.starter_pack", newCfg.Jobs.StarterPack.IsEnabled()),
		)
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}
	om, nm := oldCfg.Metrics, newCfg.Metrics
	if !reflect.DeepEqual(om, nm) {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", nm.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(nm.Addr)),
			logx.Bool("metrics.pprof", nm.Pprof),
			logx.Bool("metrics.token_changed", om.Token != nm.Token),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

type storageSummary struct {
	driver   string
	pathSet  bool
	redisSet bool
	busy     string
}

func storageShape(s *StorageConfig) storageSummary {
	if s == nil {
		return storageSummary{}
	}
	return storageSummary{
		driver:   strings.ToLower(strings.TrimSpace(s.Driver)),
		pathSet:  strings.TrimSpace(s.Path) != "",
		redisSet: strings.TrimSpace(s.RedisURL) != "",
		busy:     strings.TrimSpace(s.BusyTimeout),
	}
}
