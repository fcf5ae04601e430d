package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kvmdash/internal/actionlog"
	"kvmdash/internal/clock"
	"kvmdash/internal/config"
	"kvmdash/internal/dashboard"
	"kvmdash/internal/device"
	"kvmdash/internal/eventbus"
	"kvmdash/internal/httpapi"
	"kvmdash/internal/icons"
	"kvmdash/internal/observability/metrics"
	"kvmdash/internal/runtime/supervisor"
	"kvmdash/internal/schedule"
	"kvmdash/internal/storage"
	"kvmdash/internal/task/checker"
	"kvmdash/internal/task/executor"
	"kvmdash/internal/task/followup"
	"kvmdash/internal/task/scheduler"
	"kvmdash/internal/uptime"
	logx "kvmdash/pkg/logx"
)

const (
	jobUptime       = "uptime.refresh"
	jobIconsCleanup = "icons.cleanup"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	durs config.Durations

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	kv      storage.KV
	metrics *metrics.Metrics
	clock   clock.Clock

	docs      *dashboard.Documents
	schedules *schedule.Store
	calc      *schedule.Calculator
	actions   *actionlog.Log
	dev       *device.Client
	chains    *followup.Runner
	checker   *checker.Checker
	jobs      *scheduler.Service
	icons     *icons.Store
	uptime    *uptime.Tracker
	http      *httpapi.Server

	sup    *supervisor.Supervisor
	failed chan error
}

// New loads the config at cfgPath (defaults when empty) and builds every
// component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	var (
		cfgm *config.ConfigManager
		cfg  = config.Default()
		err  error
	)
	if strings.TrimSpace(cfgPath) != "" {
		cfgm = config.NewConfigManager(cfgPath, logx.Nop())
		if cfg, err = cfgm.Load(); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	durs, err := cfg.Durations()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	if cfgm != nil {
		cfgm.SetLogger(log)
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	kv, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	clk := clock.Real()
	m := metrics.New()
	bus := eventbus.New()
	calc := schedule.NewCalculator(loc)
	docs := dashboard.New(kv, log)
	schedules := schedule.NewStore(kv, log)
	actions := actionlog.New(kv, docs, clk, log)
	dev := device.New(mapDeviceConfig(cfg, durs), log, m)
	exec := executor.New(dev, docs, actions, log)
	chains := followup.New(exec, clk, log, m)
	iconStore := icons.New(nil, cfg.Icons.Dir, log)
	up := uptime.New(kv, docs, dev, clk, log)

	a := &App{
		cfgm:      cfgm,
		cfg:       cfg,
		durs:      durs,
		log:       log.With(logx.String("comp", "app")),
		logs:      logSvc,
		bus:       bus,
		kv:        kv,
		metrics:   m,
		clock:     clk,
		docs:      docs,
		schedules: schedules,
		calc:      calc,
		actions:   actions,
		dev:       dev,
		chains:    chains,
		icons:     iconStore,
		uptime:    up,
		jobs:      scheduler.New(loc, log),
		failed:    make(chan error, 1),
	}
	a.checker = checker.New(durs.PollInterval, checker.Deps{
		Store:    schedules,
		Calc:     calc,
		Executor: exec,
		Chains:   chains,
		Clock:    clk,
		Bus:      bus,
		Metrics:  m,
		Log:      log,
	})
	a.http = httpapi.New(httpapi.Options{
		Addr:         cfg.HTTP.Addr,
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		Debug:        cfg.HTTP.Debug,
		Pprof:        cfg.HTTP.Pprof,
		ReadTimeout:  durs.HTTPRead,
		WriteTimeout: durs.HTTPWrite,
	}, httpapi.Deps{
		Docs:      docs,
		Schedules: schedules,
		Calc:      calc,
		Actions:   actions,
		Icons:     iconStore,
		Uptime:    up,
		Bus:       bus,
		Metrics:   m,
		Clock:     clk,
		Health:    a.Health,
		Log:       log,
	})
	if err := a.registerJobs(cfg, durs); err != nil {
		_ = kv.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) Schedules() *schedule.Store        { return a.schedules }
func (a *App) Calculator() *schedule.Calculator { return a.calc }
func (a *App) Logger() logx.Logger              { return a.log }

// Failed receives the error that made a core component give up (e.g. the
// HTTP listener could not bind).
func (a *App) Failed() <-chan error { return a.failed }

func (a *App) fail(err error) {
	select {
	case a.failed <- err:
	default:
	}
}

func (a *App) registerJobs(cfg *config.Config, durs config.Durations) error {
	err := a.jobs.Add(jobUptime, durs.UptimeInterval.String(), durs.UptimeInterval, func(ctx context.Context) error {
		_, err := a.uptime.Refresh(ctx)
		return err
	})
	if err != nil {
		return err
	}
	spec := strings.TrimSpace(cfg.Icons.CleanupSpec)
	if spec == "" {
		a.jobs.Remove(jobIconsCleanup)
		return nil
	}
	return a.jobs.Add(jobIconsCleanup, spec, time.Minute, func(ctx context.Context) error {
		doc, err := a.docs.Config(ctx)
		if err != nil {
			return err
		}
		res, err := a.icons.Cleanup(ctx, doc)
		if err == nil && len(res.Deleted) > 0 {
			a.log.Info("periodic icon cleanup", logx.Int("deleted", len(res.Deleted)))
		}
		return err
	})
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	run := a.sup.Context()

	a.jobs.Start(run)
	a.sup.GoRestart("checker", a.checker.Run, time.Second, 30*time.Second)
	a.sup.Go("http", func(c context.Context) error {
		err := a.http.Serve(c, a.durs.Shutdown)
		if err != nil {
			a.fail(fmt.Errorf("http: %w", err))
		}
		return err
	})

	events, unsub := a.bus.Subscribe(64, eventbus.ScheduleFired, eventbus.ConfigReloaded)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	if a.cfgm != nil {
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			if spec := strings.TrimSpace(cfg.Icons.CleanupSpec); spec != "" {
				if _, err := scheduler.ParseSpec(spec); err != nil {
					return fmt.Errorf("icons.cleanup_spec: %w", err)
				}
			}
			_, err := mapStorageConfig(cfg)
			return err
		})
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			for {
				select {
				case <-c.Done():
					return nil
				case next, ok := <-sub:
					if !ok {
						return nil
					}
					a.apply(next)
				}
			}
		})
		a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	}

	a.log.Info("app started",
		logx.String("http", a.cfg.HTTP.Addr),
		logx.Duration("poll", a.durs.PollInterval),
		logx.String("tz", a.calc.Location().String()),
	)
	return nil
}

// apply hot-swaps the parts of the service that support it and warns about
// the rest.
func (a *App) apply(next *config.Config) {
	prev := a.cfg
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	durs, err := next.Durations()
	if err != nil {
		a.log.Warn("config reload rejected", logx.Err(err))
		return
	}

	a.logs.Apply(mapLogConfig(next))
	a.dev.Apply(mapDeviceConfig(next, durs))

	if loc, err := next.Location(); err == nil {
		a.jobs.SetLocation(loc)
		if loc.String() != a.calc.Location().String() {
			a.log.Warn("scheduler.timezone changed; restart required for user schedules")
		}
	}
	if durs.PollInterval != a.durs.PollInterval {
		a.log.Warn("scheduler.poll_interval changed; restart required")
	}
	dir := next.Icons.Dir
	if strings.TrimSpace(dir) == "" {
		dir = icons.DefaultDir
	}
	a.icons.SetDir(dir)
	if err := a.registerJobs(next, durs); err != nil {
		a.log.Warn("maintenance jobs not updated", logx.Err(err))
	}
	for _, s := range sections {
		if s == "storage" || s == "http" {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	a.cfg = next
	a.durs.DeviceTimeout = durs.DeviceTimeout
	a.durs.UptimeInterval = durs.UptimeInterval
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Health is served on /healthz.
func (a *App) Health() map[string]any {
	out := map[string]any{
		"jobs":   a.jobs.Snapshot(),
		"chains": a.chains.InFlight(),
	}
	if a.sup != nil {
		out["supervisor"] = a.sup.Snapshot()
	}
	return out
}

// Stop shuts everything down. Each step is bounded so one slow component
// cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(sctx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step slow", logx.String("name", name), logx.Duration("took", took))
		}
	}

	step("jobs", 2*time.Second, func(c context.Context) error { a.jobs.Stop(c); return nil })
	step("supervisor", a.durs.Shutdown, func(c context.Context) error {
		err := a.sup.Stop(c)
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
	// follow-up chains are not cancelled; whatever is still pending is logged
	step("chains", time.Second, a.chains.Shutdown)

	err := a.close()
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

func (a *App) close() error {
	if a.kv == nil {
		return nil
	}
	err := a.kv.Close()
	a.kv = nil
	return err
}
