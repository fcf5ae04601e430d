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

	logx "kvmdash/pkg/logx"
)

type Job func(ctx context.Context) error

type job struct {
	name    string
	spec    string
	sched   cron.Schedule
	timeout time.Duration
	run     Job
	entryID cron.EntryID

	running atomic.Bool

	mu      sync.Mutex
	runs    uint64
	skipped uint64
	lastRun time.Time
	lastErr string
}

// JobInfo is a point-in-time view of one job.
type JobInfo struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Next    time.Time `json:"next,omitempty"`
	Prev    time.Time `json:"prev,omitempty"`
	Runs    uint64    `json:"runs"`
	Skipped uint64    `json:"skipped"`
	LastRun time.Time `json:"last_run,omitempty"`
	LastErr string    `json:"last_err,omitempty"`
}

// Service owns one cron instance. A job that is still running when its next
// tick arrives is skipped for that tick.
type Service struct {
	log logx.Logger

	mu   sync.Mutex
	loc  *time.Location
	c    *cron.Cron
	ctx  context.Context
	jobs map[string]*job
}

func New(loc *time.Location, log logx.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		log:  log.With(logx.String("comp", "scheduler")),
		loc:  loc,
		jobs: map[string]*job{},
		ctx:  context.Background(),
	}
}

// Add registers (or replaces, by name) a job. It starts firing right away
// if the service is running.
func (s *Service) Add(name, spec string, timeout time.Duration, run Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if run == nil {
		return errors.New("job required")
	}
	sched, err := ParseSpec(spec)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	j := &job{name: name, spec: spec, sched: sched, timeout: timeout, run: run}
	s.jobs[name] = j
	if s.c != nil {
		s.scheduleLocked(j)
	}
	return nil
}

// Remove unregisters a job. It reports whether one existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	if s.c != nil && j.entryID != 0 {
		s.c.Remove(j.entryID)
	}
	delete(s.jobs, name)
	return true
}

func (s *Service) scheduleLocked(j *job) {
	j.entryID = s.c.Schedule(j.sched, cron.FuncJob(func() { s.runJob(j) }))
	s.log.Debug("job registered", logx.String("name", j.name), logx.String("spec", j.spec), logx.Time("next", s.c.Entry(j.entryID).Next))
}

// Start begins firing jobs. Jobs receive ctx (bounded by their timeout).
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

func (s *Service) startLocked() {
	s.c = cron.New(cron.WithParser(parser), cron.WithLocation(s.loc), cron.WithLogger(cronLogger{s.log}))
	for _, j := range s.jobs {
		s.scheduleLocked(j)
	}
	s.c.Start()
}

// SetLocation changes the zone cron specs are evaluated in.
func (s *Service) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if loc.String() == s.loc.String() {
		return
	}
	s.loc = loc
	if s.c == nil {
		return
	}
	s.c.Stop()
	s.startLocked()
	s.log.Info("scheduler timezone changed", logx.String("tz", loc.String()))
}

// Stop stops firing and waits for running jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with jobs still running")
	}
}

// RunNow runs a registered job synchronously, honoring the overlap rule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.runJob(j)
}

var errSkipped = errors.New("previous run still in progress")

func (s *Service) runJob(j *job) (err error) {
	if !j.running.CompareAndSwap(false, true) {
		j.mu.Lock()
		j.skipped++
		j.mu.Unlock()
		s.log.Debug("job skipped", logx.String("name", j.name))
		return errSkipped
	}
	defer j.running.Store(false)

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", logx.String("name", j.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
		j.mu.Lock()
		j.runs++
		j.lastRun = start
		j.lastErr = ""
		if err != nil {
			j.lastErr = err.Error()
		}
		j.mu.Unlock()
		if err != nil {
			s.log.Warn("job failed", logx.String("name", j.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		} else {
			s.log.Trace("job done", logx.String("name", j.name), logx.Duration("took", time.Since(start)))
		}
	}()
	return j.run(ctx)
}

// Snapshot lists jobs by name.
func (s *Service) Snapshot() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := JobInfo{Name: j.name, Spec: j.spec}
		if s.c != nil && j.entryID != 0 {
			e := s.c.Entry(j.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		j.mu.Lock()
		info.Runs, info.Skipped, info.LastRun, info.LastErr = j.runs, j.skipped, j.lastRun, j.lastErr
		j.mu.Unlock()
		out = append(out, info)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// cronLogger routes robfig/cron's internal logging to logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
