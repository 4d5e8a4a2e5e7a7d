package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nounsbot/internal/config"
	"nounsbot/internal/dispatch"
	"nounsbot/internal/ethereum"
	"nounsbot/internal/jobs"
	"nounsbot/internal/lilnouns"
	"nounsbot/internal/observability"
	"nounsbot/internal/resolver"
	"nounsbot/internal/runtime/supervisor"
	"nounsbot/internal/scheduler"
	"nounsbot/internal/storage"
	"nounsbot/internal/warpcast"
	logx "nounsbot/pkg/logx"
)

const serviceName = "nounsbot"

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	obs     *observability.Module
	metrics *observability.Metrics
	http    *observability.Server

	store    storage.Store
	warpcast *warpcast.Client
	subgraph *lilnouns.Client
	chain    *ethereum.Client
	resolver *resolver.Resolver
	disp     *dispatch.Dispatcher
	queue    queue
	sched    *scheduler.Service

	oneShot bool
}

type Option func(*App)

// OneShot leaves the schedule, warmup and config watch off so jobs only run
// through RunJob.
func OneShot() Option { return func(a *App) { a.oneShot = true } }

// New loads the config and builds every component. Nothing dials out until
// Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := checkMappings(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.NewService(mapLogging(cfg))
	a := &App{cfgm: cfgm, log: log.Component("app"), logs: logSvc}
	for _, o := range opts {
		o(a)
	}
	ok := false
	defer func() {
		if !ok {
			a.closeAll(context.Background())
		}
	}()

	a.obs, err = observability.New(serviceName)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	a.metrics, err = observability.NewMetrics(a.obs.Meter())
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	a.http = observability.NewServer(mapServer(cfg), a.obs.MetricsHandler(), log)

	sc, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.log.Info("storage enabled", logx.String("driver", sc.Driver))

	wcfg, err := mapWarpcast(cfg)
	if err != nil {
		return nil, err
	}
	a.warpcast = warpcast.New(wcfg, log)

	sgcfg, err := mapSubgraph(cfg)
	if err != nil {
		return nil, err
	}
	a.subgraph = lilnouns.New(sgcfg, log)

	ecfg, err := mapEthereum(cfg)
	if err != nil {
		return nil, err
	}
	a.chain = ethereum.New(ecfg, log)

	ropts, err := mapResolver(cfg, log.Component("resolver"), a.metrics)
	if err != nil {
		return nil, err
	}
	a.resolver = resolver.New(a.warpcast, ropts)

	dopts, err := mapDispatch(cfg, log.Component("dispatch"), a.metrics)
	if err != nil {
		return nil, err
	}
	a.disp = dispatch.New(dopts)
	if err := a.disp.Register(jobs.TypeDirectCast, &jobs.DirectCastHandler{
		Sender: a.warpcast,
		Log:    log.Component("direct-cast"),
	}); err != nil {
		return nil, err
	}

	schedCfg, err := mapScheduler(cfg)
	if err != nil {
		return nil, err
	}
	a.sched = scheduler.New(schedCfg, log, a.metrics)

	ok = true
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// RunJob runs a registered job once, outside its schedule. In one-shot mode
// it also waits, up to drainTimeout, for an in-memory queue to deliver what
// the job enqueued.
func (a *App) RunJob(ctx context.Context, name string) error {
	if err := a.sched.RunNow(ctx, name); err != nil {
		return err
	}
	if !a.oneShot {
		return nil
	}
	return a.drain(ctx)
}

const drainTimeout = 2 * time.Minute

func (a *App) drain(ctx context.Context) error {
	p, ok := a.queue.(interface{ Pending() int })
	if !ok {
		// Durable transports keep undelivered messages for the next run.
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		n := p.Pending()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d deliveries still pending: %w", n, ctx.Err())
		case <-tick.C:
		}
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.Component("config"))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return checkMappings(cfg)
	})

	cfg := a.cfgm.Get()
	q, err := openQueue(ctx, cfg, a.log, a.metrics)
	if err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	a.queue = q
	a.log.Info("queue ready", logx.String("driver", queueDriver(cfg)))

	if err := a.registerJobs(cfg); err != nil {
		return err
	}

	a.sup.GoRestart("dispatch.consume", supervisor.RestartPolicy{MinBackoff: time.Second, MaxBackoff: time.Minute},
		func(c context.Context) error { return a.queue.Run(c, a.disp) })

	a.http.Start(a.sup.Context())
	if a.oneShot {
		a.log.Info("app started (one-shot)")
		return nil
	}
	a.sched.Start(a.sup.Context())

	// Build the voter list right away instead of waiting for the first tick.
	if cfg.Scheduler.Enabled && cfg.Jobs.Voters.IsEnabled() {
		a.sup.Go0("jobs.warmup", func(c context.Context) {
			if err := a.sched.RunNow(c, "voters"); err != nil && c.Err() == nil {
				a.log.Warn("voter warmup failed", logx.Err(err))
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// registerJobs (re)builds the scheduled jobs from cfg. Disabled jobs are
// removed.
func (a *App) registerJobs(cfg *config.Config) error {
	ttl, err := config.ParseDurationOrDefault("jobs.accounts_ttl", cfg.Jobs.AccountsTTL, jobs.DefaultListTTL)
	if err != nil {
		return err
	}
	window, err := config.ParseDurationOrDefault("jobs.events_window", cfg.Jobs.EventsWindow, jobs.DefaultEventsWindow)
	if err != nil {
		return err
	}
	events, err := mapEvents(cfg)
	if err != nil {
		return err
	}
	conc := resolverConcurrency(cfg)
	jlog := a.log.Component("jobs")

	voters := &jobs.VotersJob{
		Store:       a.store,
		Subgraph:    a.subgraph,
		Resolver:    a.resolver,
		TTL:         ttl,
		Concurrency: conc,
		Log:         jlog,
	}
	reminder := &jobs.ReminderJob{
		Store:       a.store,
		Subgraph:    a.subgraph,
		Chain:       a.chain,
		Identity:    a.warpcast,
		Resolver:    a.resolver,
		Producer:    a.queue,
		ProposalURL: strings.TrimSpace(cfg.Jobs.ProposalURL),
		Concurrency: conc,
		Log:         jlog,
	}
	announcer := &jobs.EventsJob{
		Store:    a.store,
		Identity: a.warpcast,
		Producer: a.queue,
		Events:   events,
		Window:   window,
		Log:      jlog,
	}
	packs := &jobs.StarterPackJob{
		Store:    a.store,
		Identity: a.warpcast,
		Packs:    a.warpcast,
		Prefix:   strings.TrimSpace(cfg.Jobs.StarterPackPrefix),
		Log:      jlog,
	}

	defs := []struct {
		cfg     config.JobConfig
		name    string
		timeout time.Duration
		run     scheduler.Job
	}{
		{cfg.Jobs.Voters, "voters", defaultVotersTimeout, voters.Run},
		{cfg.Jobs.Reminder, "reminder", 0, reminder.Run},
		{cfg.Jobs.Events, "events", 0, announcer.Run},
		{cfg.Jobs.StarterPack, "starter_pack", 0, packs.Run},
	}
	var errs []error
	for _, d := range defs {
		spec, err := mapJobSpec(d.name, d.cfg, d.timeout)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !spec.enabled {
			if a.sched.Remove(spec.name) {
				a.log.Info("job disabled", logx.String("job", spec.name))
			}
			continue
		}
		if err := a.sched.Add(spec.name, spec.schedule, spec.timeout, d.run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// reloadLoop applies published configs. Sections that need a restart are
// only reported.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		var newCfg *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			newCfg = c
		}
		// Coalesce bursts: keep only the latest config.
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					newCfg = newer
				}
			default:
				break drain
			}
		}

		sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
		lastApplied = newCfg
		if len(sections) == 0 {
			a.log.Info("config reloaded (no changes)")
			continue
		}
		for _, s := range sections {
			if config.NeedsRestart(s) {
				a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
			}
		}

		a.logs.Apply(mapLogging(newCfg))
		a.applyScheduler(ctx, newCfg)
		if err := a.registerJobs(newCfg); err != nil {
			a.log.Warn("job update incomplete", logx.Err(err))
		}
		a.http.Reconfigure(ctx, mapServer(newCfg))

		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	}
}

func (a *App) applyScheduler(ctx context.Context, cfg *config.Config) {
	sc, err := mapScheduler(cfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		return
	}
	wasStarted := a.sched.Snapshot().Started
	a.sched.Apply(sc)
	switch {
	case wasStarted && !sc.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !wasStarted && sc.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		// Cancel first so background loops start unwinding immediately.
		a.sup.Cancel()
		a.step(ctx, "scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
		a.step(ctx, "supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}
	a.closeAll(ctx)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// closeAll releases everything New and Start opened. Nil components are
// skipped so it also serves as New's failure path.
func (a *App) closeAll(ctx context.Context) {
	a.step(ctx, "http", 2*time.Second, func(c context.Context) error {
		if a.http == nil {
			return nil
		}
		return a.http.Stop(c)
	})
	a.step(ctx, "queue", 3*time.Second, func(context.Context) error {
		if a.queue != nil {
			a.queue.Close()
		}
		return nil
	})
	a.step(ctx, "resolver", 2*time.Second, func(context.Context) error {
		if a.resolver != nil {
			a.resolver.Close()
		}
		return nil
	})
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})
	a.step(ctx, "metrics", time.Second, func(c context.Context) error {
		if a.obs == nil {
			return nil
		}
		return a.obs.Shutdown(c)
	})
}

// step runs one shutdown step bounded by max so a stuck component cannot
// stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped; deadline passed", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}
		}()
	}
}

// checkMappings runs every config-to-component mapping so a reload that
// would fail to apply is rejected before it is committed.
func checkMappings(cfg *config.Config) error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	nop := logx.Nop()
	_, err := mapStorage(cfg)
	add(err)
	_, err = mapWarpcast(cfg)
	add(err)
	_, err = mapResolver(cfg, nop, nil)
	add(err)
	_, err = mapDispatch(cfg, nop, nil)
	add(err)
	switch queueDriver(cfg) {
	case "memory":
		_, err = mapMemQueue(cfg, nop, nil)
	case "jetstream":
		_, err = mapJetStream(cfg)
	}
	add(err)
	_, err = mapSubgraph(cfg)
	add(err)
	_, err = mapEthereum(cfg)
	add(err)
	_, err = mapScheduler(cfg)
	add(err)
	_, err = mapEvents(cfg)
	add(err)
	for name, jc := range cfg.Jobs.ByName() {
		spec, err := mapJobSpec(name, jc, 0)
		if err != nil {
			add(err)
			continue
		}
		if _, err := scheduler.ParseSchedule(spec.schedule); err != nil {
			add(fmt.Errorf("jobs.%s.schedule: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
