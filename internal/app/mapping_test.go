package app

import (
	"strings"
	"testing"
	"time"

	"nounsbot/internal/config"
	"nounsbot/internal/dispatch"
	logx "nounsbot/pkg/logx"
)

func TestMapDispatchMaxAttempts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want int
	}{
		{0, defaultMaxAttempts},
		{-1, 0},
		{3, 3},
	}
	for _, tt := range tests {
		cfg := &config.Config{Dispatch: config.DispatchConfig{MaxAttempts: tt.in}}
		opts, err := mapDispatch(cfg, logx.Nop(), nil)
		if err != nil {
			t.Fatalf("mapDispatch(%d): %v", tt.in, err)
		}
		if opts.MaxAttempts != tt.want {
			t.Fatalf("mapDispatch(%d).MaxAttempts = %d, want %d", tt.in, opts.MaxAttempts, tt.want)
		}
		if opts.MaxDelay != dispatch.DefaultMaxDelay {
			t.Fatalf("MaxDelay = %v", opts.MaxDelay)
		}
	}
}

func TestMapResolverDefaults(t *testing.T) {
	t.Parallel()
	opts, err := mapResolver(&config.Config{}, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("mapResolver: %v", err)
	}
	if opts.MinRequestInterval != 100*time.Millisecond || opts.RateLimitRetryDelay != time.Minute || opts.MaxRateLimitRetries != 3 {
		t.Fatalf("defaults = %+v", opts)
	}
	if got := resolverConcurrency(&config.Config{}); got != defaultConcurrency {
		t.Fatalf("concurrency = %d", got)
	}
}

func TestMapStorageFallsBackToMemory(t *testing.T) {
	t.Parallel()
	sc, err := mapStorage(&config.Config{Storage: &config.StorageConfig{Driver: "none"}})
	if err != nil || sc.Driver != "memory" {
		t.Fatalf("mapStorage = %+v, %v", sc, err)
	}
	sc, err = mapStorage(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: " bot.db "}})
	if err != nil || sc.Driver != "sqlite" || sc.Path != "bot.db" || sc.BusyTimeout != defaultBusyTimeout {
		t.Fatalf("mapStorage = %+v, %v", sc, err)
	}
}

func TestMapJetStream(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Queue: config.QueueConfig{
		Driver:       "nats",
		MaxBatchSize: 50,
		NATS:         &config.NATSConfig{URL: " nats://q:4222 ", AckWait: "30s", Stream: "S"},
	}}
	if d := queueDriver(cfg); d != "jetstream" {
		t.Fatalf("queueDriver = %q", d)
	}
	jc, err := mapJetStream(cfg)
	if err != nil {
		t.Fatalf("mapJetStream: %v", err)
	}
	if jc.URL != "nats://q:4222" || jc.AckWait != 30*time.Second || jc.Stream != "S" || jc.MaxBatchSize != 50 {
		t.Fatalf("jetstream config = %+v", jc)
	}
	if _, err := mapJetStream(&config.Config{}); err == nil {
		t.Fatal("mapJetStream accepted a missing nats section")
	}
}

func TestMapEvents(t *testing.T) {
	t.Parallel()
	if evs, err := mapEvents(&config.Config{}); err != nil || evs != nil {
		t.Fatalf("mapEvents(empty) = %v, %v", evs, err)
	}
	cfg := &config.Config{Jobs: config.JobsConfig{EventList: []config.EventConfig{
		{Weekday: "wed", At: "18:30", Message: "Builders call", Link: "https://example.com"},
	}}}
	evs, err := mapEvents(cfg)
	if err != nil || len(evs) != 1 {
		t.Fatalf("mapEvents = %v, %v", evs, err)
	}
	ev := evs[0]
	if ev.Name != "event-0" || ev.Weekday != time.Wednesday || ev.Hour != 18 || ev.Minute != 30 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestMapJobSpec(t *testing.T) {
	t.Parallel()
	off := false
	spec, err := mapJobSpec("events", config.JobConfig{Enabled: &off, Timeout: "90s"}, time.Minute)
	if err != nil {
		t.Fatalf("mapJobSpec: %v", err)
	}
	if spec.enabled || spec.schedule != defaultJobSchedule || spec.timeout != 90*time.Second {
		t.Fatalf("spec = %+v", spec)
	}

	packs, err := mapJobSpec("starter_pack", config.JobConfig{}, time.Minute)
	if err != nil {
		t.Fatalf("mapJobSpec: %v", err)
	}
	if !packs.enabled || packs.schedule != "@every 12h" || packs.timeout != time.Minute {
		t.Fatalf("starter pack spec = %+v", packs)
	}
}

func TestCheckMappings(t *testing.T) {
	t.Parallel()
	if err := checkMappings(&config.Config{}); err != nil {
		t.Fatalf("checkMappings(zero): %v", err)
	}
	bad := &config.Config{Jobs: config.JobsConfig{Reminder: config.JobConfig{Schedule: "every: soon"}}}
	err := checkMappings(bad)
	if err == nil || !strings.Contains(err.Error(), "jobs.reminder.schedule") {
		t.Fatalf("checkMappings err = %v", err)
	}
	bad = &config.Config{Jobs: config.JobsConfig{StarterPack: config.JobConfig{Schedule: "every: twice"}}}
	if err := checkMappings(bad); err == nil || !strings.Contains(err.Error(), "jobs.starter_pack.schedule") {
		t.Fatalf("checkMappings err = %v", err)
	}
}
