package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "nounsbot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		kind    Kind
		spec    string
		wantErr bool
	}{
		{raw: "0 * * * *", kind: KindCron, spec: "0 * * * *"},
		{raw: "@hourly", kind: KindCron, spec: "@hourly"},
		{raw: "cron:@daily", kind: KindCron, spec: "@daily"},
		{raw: "55m", kind: KindInterval, spec: "@every 55m0s"},
		{raw: "02:30", kind: KindInterval, spec: "@every 2h30m0s"},
		{raw: "every: 1h", kind: KindInterval, spec: "@every 1h0m0s"},
		{raw: "interval:00:05", kind: KindInterval, spec: "@every 5m0s"},
		{raw: "", wantErr: true},
		{raw: "cron:", wantErr: true},
		{raw: "0s", wantErr: true},
		{raw: "01:75", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			p, err := ParseSchedule(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseSchedule(%q) = %+v, want error", tt.raw, p)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tt.raw, err)
			}
			if p.Kind != tt.kind || p.Spec() != tt.spec {
				t.Fatalf("ParseSchedule(%q) = kind %v spec %q, want kind %v spec %q", tt.raw, p.Kind, p.Spec(), tt.kind, tt.spec)
			}
		})
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	noop := func(context.Context) error { return nil }
	if err := s.Add("", "@hourly", 0, noop); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := s.Add("x", "@hourly", 0, nil); err == nil {
		t.Fatal("expected error for nil job")
	}
	if err := s.Add("x", "61 * * * *", 0, noop); err == nil {
		t.Fatal("expected error for invalid cron")
	}
}

func TestRunNowRecordsOutcome(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	boom := errors.New("boom")
	if err := s.Add("voters", "@hourly", 0, func(context.Context) error { return boom }); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.RunNow(context.Background(), "voters"); !errors.Is(err, boom) {
		t.Fatalf("RunNow err = %v, want boom", err)
	}
	snap := s.Snapshot()
	if len(snap.Jobs) != 1 || snap.Jobs[0].Runs != 1 || snap.Jobs[0].LastErr != "boom" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if err := s.RunNow(context.Background(), "missing"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("RunNow(missing) err = %v, want ErrUnknownJob", err)
	}
}

func TestRunNowRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	_ = s.Add("panicky", "@hourly", 0, func(context.Context) error { panic("kaboom") })
	err := s.RunNow(context.Background(), "panicky")
	if err == nil || err.Error() != "panic: kaboom" {
		t.Fatalf("err = %v, want panic: kaboom", err)
	}
}

func TestRunNowAppliesTimeout(t *testing.T) {
	t.Parallel()
	s := New(Config{DefaultTimeout: 20 * time.Millisecond}, logx.Nop(), nil)
	_ = s.Add("slow", "@hourly", 0, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := s.RunNow(context.Background(), "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	started := make(chan struct{})
	release := make(chan struct{})
	_ = s.Add("reminder", "@hourly", 0, func(context.Context) error {
		close(started)
		<-release
		return nil
	})

	errCh := make(chan error, 1)
	go func() { errCh <- s.RunNow(context.Background(), "reminder") }()
	<-started
	if err := s.RunNow(context.Background(), "reminder"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second run err = %v, want ErrAlreadyRunning", err)
	}
	close(release)
	if err := <-errCh; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestStartRegistersAndStopCancels(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop(), nil)
	_ = s.Add("events", "0 * * * *", time.Minute, func(context.Context) error { return nil })
	_ = s.Add("voters", "1h", time.Minute, func(context.Context) error { return nil })

	s.Start(context.Background())
	snap := s.Snapshot()
	if !snap.Started || len(snap.Jobs) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	for _, j := range snap.Jobs {
		if j.Next.IsZero() {
			t.Fatalf("job %s has no next run", j.Name)
		}
	}

	if !s.Remove("events") || s.Remove("events") {
		t.Fatal("Remove should report true once")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if s.Snapshot().Started {
		t.Fatal("scheduler still started after Stop")
	}
}

func TestDisabledSchedulerDoesNotStart(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, logx.Nop(), nil)
	s.Start(context.Background())
	if s.Snapshot().Started {
		t.Fatal("disabled scheduler started")
	}
	s.Stop(context.Background())
}
