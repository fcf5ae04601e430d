// Package checker is the schedule checker loop: it polls the schedule store,
// fires what is due, and advances or removes the fired records.
//
// A pass commits its store changes first and only then talks to the device,
// so the store's critical section never spans a network call and a retried
// transaction can never fire twice.
package checker

import (
	"context"
	"time"

	"kvmdash/internal/clock"
	"kvmdash/internal/eventbus"
	"kvmdash/internal/observability/metrics"
	"kvmdash/internal/schedule"
	"kvmdash/internal/task/executor"
	logx "kvmdash/pkg/logx"
)

const DefaultPollInterval = 5 * time.Second

type Store interface {
	Update(ctx context.Context, fn func(list []schedule.Schedule) ([]schedule.Schedule, bool, error)) error
}

type Executor interface {
	Execute(ctx context.Context, r executor.Request) error
}

type Chains interface {
	Start(s schedule.Schedule) (id string, ok bool)
}

type Deps struct {
	Store    Store
	Calc     *schedule.Calculator
	Executor Executor
	Chains   Chains
	Clock    clock.Clock
	Bus      eventbus.Bus // optional
	Metrics  *metrics.Metrics
	Log      logx.Logger
}

type Checker struct {
	Deps
	interval time.Duration
}

// Fired is one firing produced by a pass.
type Fired struct {
	Schedule schedule.Schedule // record as it was when it fired
	Due      time.Time
	Next     time.Time // zero for one-time schedules
	Firing   string    // follow-up chain id, empty if none
}

type Result struct {
	Checked int
	Fired   []Fired
	Invalid int
}

func New(interval time.Duration, d Deps) *Checker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Calc == nil {
		d.Calc = schedule.NewCalculator(nil)
	}
	d.Log = d.Log.With(logx.String("comp", "checker"))
	return &Checker{Deps: d, interval: interval}
}

// Run passes immediately, then every poll interval, until ctx ends. An API
// edit of the schedules wakes it early.
func (c *Checker) Run(ctx context.Context) error {
	var wake <-chan eventbus.Event
	if c.Bus != nil {
		ch, unsub := c.Bus.Subscribe(4, eventbus.SchedulesChanged)
		defer unsub()
		wake = ch
	}
	c.Log.Info("checker started", logx.Duration("interval", c.interval), logx.String("tz", c.Calc.Location().String()))
	for {
		c.Pass(ctx)
		select {
		case <-ctx.Done():
			c.Log.Info("checker stopped")
			return ctx.Err()
		case <-c.Clock.After(c.interval):
		case <-wake:
		}
	}
}

// Pass runs one evaluation of the whole store. Errors are logged and
// contained; a failed store transaction fires nothing.
func (c *Checker) Pass(ctx context.Context) Result {
	start := time.Now()
	now := c.Clock.Now()

	var res Result
	kept := 0
	err := c.Store.Update(ctx, func(list []schedule.Schedule) ([]schedule.Schedule, bool, error) {
		res = Result{Checked: len(list)}
		out := make([]schedule.Schedule, 0, len(list))
		for _, s := range list {
			f, keep, ok := c.evaluate(s, now)
			if !ok {
				res.Invalid++
			}
			if f != nil {
				res.Fired = append(res.Fired, *f)
			}
			if keep != nil {
				out = append(out, *keep)
			}
		}
		kept = len(out)
		return out, len(res.Fired) > 0, nil
	})
	if err != nil {
		c.Log.Error("schedule pass failed", logx.Err(err))
		c.Metrics.IncScheduleError("store")
		return Result{}
	}
	if res.Checked > 0 {
		c.Log.Debug("checked schedules", logx.Int("count", res.Checked), logx.Int("due", len(res.Fired)))
	}

	for i := range res.Fired {
		res.Fired[i].Firing = c.fire(ctx, res.Fired[i], now)
	}
	c.Metrics.ObservePass(time.Since(start), kept)
	return res
}

// evaluate decides what happens to s in a pass at now. It returns the firing
// (nil if not due), the record to keep (nil to remove it) and false if s is
// malformed.
func (c *Checker) evaluate(s schedule.Schedule, now time.Time) (*Fired, *schedule.Schedule, bool) {
	due, err := c.Calc.Due(s)
	if err != nil {
		c.Log.Warn("cannot compute due time; skipping schedule", logx.Int64("id", s.ID), logx.String("pc", s.PCName), logx.Err(err))
		c.Metrics.IncScheduleError("calc")
		return nil, &s, false
	}
	if due.After(now) {
		return nil, &s, true
	}

	f := &Fired{Schedule: s.Clone(), Due: due}
	if !s.IsRecurring {
		return f, nil, true
	}

	if s.DayOfMonth == 0 && s.Frequency.UsesDayOfMonth() {
		// Records written without an anchor keep the day they fired on,
		// so a clamped month does not shift every later firing.
		s.DayOfMonth = s.At().In(c.Calc.Location()).Day()
	}
	ms := now.UnixMilli()
	if s.LastExecuted == nil || *s.LastExecuted < ms {
		s.LastExecuted = &ms
	}
	next, err := c.Calc.Next(s, now)
	if err != nil {
		// Due succeeded on the same rule, so this is not expected; drop the
		// record rather than fire it on every pass.
		c.Log.Error("cannot advance recurring schedule; removing it", logx.Int64("id", s.ID), logx.Err(err))
		return f, nil, false
	}
	s.Time = next.UnixMilli()
	f.Next = next
	return f, &s, true
}

func (c *Checker) fire(ctx context.Context, f Fired, now time.Time) string {
	s := f.Schedule
	req := executor.Primary(s)
	c.Log.Info("firing schedule",
		logx.Int64("id", s.ID),
		logx.String("pc", s.PCName),
		logx.String("action", req.Description()),
		logx.Duration("late", now.Sub(f.Due)),
	)
	c.Metrics.IncFiring(string(req.Kind))
	if err := c.Executor.Execute(ctx, req); err != nil {
		c.Log.Warn("primary action failed; continuing with follow-ups", logx.Int64("id", s.ID), logx.Err(err))
	}

	id, _ := c.Chains.Start(s)

	if s.IsRecurring {
		c.Log.Info("recurring schedule advanced", logx.Int64("id", s.ID), logx.Time("next", f.Next))
	} else {
		c.Log.Info("one-time schedule completed and removed", logx.Int64("id", s.ID))
	}
	if c.Bus != nil {
		c.Bus.Publish(eventbus.Event{Type: eventbus.ScheduleFired, Time: now, Data: s.ID})
	}
	return id
}
