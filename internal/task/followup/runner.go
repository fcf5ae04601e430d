// Package followup runs the delayed follow-up chain of a firing.
//
// Each chain runs on its own supervised goroutine, strictly in order, and is
// not cancelled when its schedule is deleted or the process shuts down.
// Shutdown waits a bounded time and logs the chains still in flight.
package followup

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kvmdash/internal/clock"
	"kvmdash/internal/observability/metrics"
	"kvmdash/internal/runtime/supervisor"
	"kvmdash/internal/schedule"
	"kvmdash/internal/task/executor"
	logx "kvmdash/pkg/logx"
)

type Executor interface {
	Execute(ctx context.Context, r executor.Request) error
}

// Chain describes one in-flight chain.
type Chain struct {
	ID         string    `json:"id"`
	ScheduleID int64     `json:"scheduleId"`
	PCName     string    `json:"pcName"`
	Steps      int       `json:"steps"`
	Done       int       `json:"done"`
	StartedAt  time.Time `json:"startedAt"`
}

type Runner struct {
	exec    Executor
	clock   clock.Clock
	sup     *supervisor.Supervisor
	metrics *metrics.Metrics
	log     logx.Logger

	mu      sync.Mutex
	chains  map[string]*Chain
	changed chan struct{}
}

func New(exec Executor, clk clock.Clock, log logx.Logger, m *metrics.Metrics) *Runner {
	if clk == nil {
		clk = clock.Real()
	}
	log = log.With(logx.String("comp", "followup"))
	return &Runner{
		exec:    exec,
		clock:   clk,
		sup:     supervisor.New(context.Background(), supervisor.WithLogger(log)),
		metrics: m,
		log:     log,
		chains:  map[string]*Chain{},
		changed: make(chan struct{}),
	}
}

// steps returns the chain for s: its followUpActions, or the legacy
// secondary action when that list is empty.
func steps(s schedule.Schedule) ([]schedule.FollowUp, executor.Kind) {
	if len(s.FollowUpActions) > 0 {
		return append([]schedule.FollowUp(nil), s.FollowUpActions...), executor.FollowUp
	}
	if f, ok := s.Secondary(); ok {
		return []schedule.FollowUp{f}, executor.Secondary
	}
	return nil, ""
}

// Start launches the chain for one firing of s and returns its firing id.
// ok is false when s has nothing to follow up.
func (r *Runner) Start(s schedule.Schedule) (id string, ok bool) {
	list, kind := steps(s)
	if len(list) == 0 {
		return "", false
	}
	s = s.Clone()
	id = uuid.NewString()
	c := &Chain{ID: id, ScheduleID: s.ID, PCName: s.PCName, Steps: len(list), StartedAt: r.clock.Now()}

	r.mu.Lock()
	r.chains[id] = c
	r.notifyLocked()
	r.mu.Unlock()
	r.metrics.ChainStarted()

	r.sup.Go("followup."+id, func(ctx context.Context) error {
		defer r.finish(id)
		r.run(ctx, c, s, list, kind)
		return nil
	})
	r.log.Debug("follow-up chain started", logx.String("firing", id), logx.Int64("schedule", s.ID), logx.Int("steps", len(list)))
	return id, true
}

func (r *Runner) run(ctx context.Context, c *Chain, s schedule.Schedule, list []schedule.FollowUp, kind executor.Kind) {
	for i, f := range list {
		if wait := f.Wait(); wait > 0 {
			r.log.Debug("waiting before follow-up", logx.String("firing", c.ID), logx.Int("step", i), logx.Duration("delay", wait))
			<-r.clock.After(wait)
		}
		err := r.exec.Execute(ctx, executor.Step(s, f, kind))
		r.metrics.ObserveStep(err)
		if err != nil {
			r.log.Warn("follow-up step failed; continuing", logx.String("firing", c.ID), logx.Int("step", i), logx.Err(err))
		}
		r.mu.Lock()
		c.Done = i + 1
		r.mu.Unlock()
	}
}

func (r *Runner) finish(id string) {
	r.mu.Lock()
	delete(r.chains, id)
	r.notifyLocked()
	r.mu.Unlock()
	r.metrics.ChainFinished()
}

func (r *Runner) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// InFlight returns the running chains, oldest first.
func (r *Runner) InFlight() []Chain {
	r.mu.Lock()
	out := make([]Chain, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, *c)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Wait blocks until no chain is running or ctx ends.
func (r *Runner) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		n := len(r.chains)
		ch := r.changed
		r.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Shutdown waits for running chains until ctx ends, then logs the ones that
// did not finish. Unfinished chains keep running until the process exits.
func (r *Runner) Shutdown(ctx context.Context) error {
	err := r.Wait(ctx)
	if err == nil {
		return nil
	}
	for _, c := range r.InFlight() {
		r.log.Warn("follow-up chain unfinished at shutdown",
			logx.String("firing", c.ID),
			logx.Int64("schedule", c.ScheduleID),
			logx.String("pc", c.PCName),
			logx.Int("done", c.Done),
			logx.Int("steps", c.Steps),
		)
	}
	return err
}
