package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"nounsbot/internal/observability"
	logx "nounsbot/pkg/logx"
)

var (
	ErrUnknownJob     = errors.New("scheduler: unknown job")
	ErrAlreadyRunning = errors.New("scheduler: job already running")
)

// Config controls the scheduler.
type Config struct {
	Enabled bool
	// Timezone is an IANA name; empty means UTC.
	Timezone string
	// DefaultTimeout applies to jobs registered without their own timeout.
	DefaultTimeout time.Duration
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

type jobDef struct {
	name    string
	parsed  Parsed
	timeout time.Duration
	job     Job
	entryID cron.EntryID

	running atomic.Bool

	mu      sync.Mutex
	lastRun time.Time
	lastDur time.Duration
	lastErr error
	runs    int
}

// JobInfo describes one registered job for Snapshot.
type JobInfo struct {
	Name     string
	Spec     string
	Timeout  time.Duration
	Next     time.Time
	Prev     time.Time
	Running  bool
	Runs     int
	LastRun  time.Time
	LastTook time.Duration
	LastErr  string
}

type Snapshot struct {
	Enabled  bool
	Started  bool
	Timezone string
	Jobs     []JobInfo
}

type Service struct {
	mu sync.Mutex

	cfg     Config
	log     logx.Logger
	metrics *observability.Metrics

	parser cron.Parser
	c      *cron.Cron
	loc    *time.Location
	defs   map[string]*jobDef

	// defaultTimeout mirrors cfg.DefaultTimeout for running jobs, which must
	// not take mu while Apply waits for them.
	defaultTimeout atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, log logx.Logger, metrics *observability.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:     cfg,
		log:     log.Component("scheduler"),
		metrics: metrics,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   map[string]*jobDef{},
	}
	s.defaultTimeout.Store(int64(cfg.DefaultTimeout))
	return s
}

// Add registers job under name, replacing any previous job with that name.
// A zero timeout falls back to Config.DefaultTimeout.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("scheduler: name required")
	}
	if job == nil {
		return errors.New("scheduler: job required")
	}
	p, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("scheduler: %s: %w", name, err)
	}
	if p.Kind == KindCron {
		if _, err := s.parser.Parse(p.Cron); err != nil {
			return fmt.Errorf("scheduler: %s: %w", name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &jobDef{name: name, parsed: p, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c != nil {
		s.registerLocked(d)
	}
	s.log.Debug("job registered", logx.String("job", name), logx.String("spec", p.Spec()), logx.Duration("timeout", timeout))
	return nil
}

// Remove unregisters a job. It reports whether something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

// Start begins triggering. Jobs run under a context derived from ctx.
// Start is a no-op when the scheduler is disabled or already started.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.startLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

func (s *Service) startLocked() {
	s.loc = s.location()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
}

// Stop stops triggering and cancels running jobs. It waits for them to
// return until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.cancel
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop timed out; jobs still running")
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Apply swaps the config. A timezone change re-registers every job.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	s.defaultTimeout.Store(int64(cfg.DefaultTimeout))
	if s.c == nil || oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	<-s.c.Stop().Done()
	s.startLocked()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

// RunNow runs a registered job synchronously, outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	d, ok := s.defs[strings.TrimSpace(name)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, d)
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := s.loc
	if loc == nil {
		loc = s.location()
	}
	out := Snapshot{Enabled: s.cfg.Enabled, Started: s.c != nil, Timezone: loc.String()}
	for _, d := range s.defs {
		info := JobInfo{Name: d.name, Spec: d.parsed.Spec(), Timeout: d.timeout, Running: d.running.Load()}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		d.mu.Lock()
		info.Runs, info.LastRun, info.LastTook = d.runs, d.lastRun, d.lastDur
		if d.lastErr != nil {
			info.LastErr = d.lastErr.Error()
		}
		d.mu.Unlock()
		out.Jobs = append(out.Jobs, info)
	}
	sort.Slice(out.Jobs, func(i, j int) bool { return out.Jobs[i].Name < out.Jobs[j].Name })
	return out
}

func (s *Service) registerLocked(d *jobDef) {
	ctx := s.ctx
	run := cron.FuncJob(func() {
		if err := s.execute(ctx, d); errors.Is(err, ErrAlreadyRunning) {
			s.log.Warn("previous run still in progress; skipping", logx.String("job", d.name))
		}
	})

	if d.parsed.Kind == KindInterval {
		sched, jitter := intervalWithSpread(d.parsed.Every, time.Now().In(s.loc), d.name)
		d.entryID = s.c.Schedule(sched, run)
		s.log.Debug("interval job scheduled", logx.String("job", d.name), logx.Duration("startup_spread", jitter))
		return
	}
	id, err := s.c.AddJob(d.parsed.Cron, run)
	if err != nil {
		s.log.Error("job register failed", logx.String("job", d.name), logx.String("spec", d.parsed.Cron), logx.Err(err))
		return
	}
	d.entryID = id
}

// execute runs d once with timeout, panic recovery and the overlap guard.
func (s *Service) execute(ctx context.Context, d *jobDef) (err error) {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	timeout := d.timeout
	if timeout <= 0 {
		timeout = time.Duration(s.defaultTimeout.Load())
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("job panic", logx.String("job", d.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = d.job(runCtx)
	}()
	took := time.Since(start)

	d.mu.Lock()
	d.runs++
	d.lastRun, d.lastDur, d.lastErr = start, took, err
	d.mu.Unlock()

	s.metrics.JobRun(ctx, d.name, err)
	if err != nil {
		s.log.Warn("job failed", logx.String("job", d.name), logx.Duration("took", took), logx.Err(err))
	} else {
		s.log.Debug("job done", logx.String("job", d.name), logx.Duration("took", took))
	}
	return err
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}
