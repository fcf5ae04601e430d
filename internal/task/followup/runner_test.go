package followup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"kvmdash/internal/schedule"
	"kvmdash/internal/task/executor"
	logx "kvmdash/pkg/logx"
)

type fakeExec struct {
	mu   sync.Mutex
	reqs []executor.Request
	fail map[schedule.Action]bool
}

func (f *fakeExec) Execute(ctx context.Context, r executor.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, r)
	if f.fail[r.Action] {
		return errors.New("device unreachable")
	}
	return nil
}

func (f *fakeExec) executed() []executor.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executor.Request(nil), f.reqs...)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func blockUntil(clk *clockwork.FakeClock, n int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return clk.BlockUntilContext(ctx, n)
}

func TestChainRunsInArrayOrderDespiteFailures(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2025, 3, 5, 9, 30, 0, 0, time.UTC))
	ex := &fakeExec{fail: map[schedule.Action]bool{schedule.ActionOff: true, schedule.ActionReset: true}}
	r := New(ex, clk, logx.Nop(), nil)

	s := schedule.Schedule{ID: 1, PCName: "PC 1", Action: schedule.ActionOn, FollowUpActions: []schedule.FollowUp{
		{Delay: 10, DelayUnit: schedule.Seconds, Action: schedule.ActionOff},
		{Delay: 20, DelayUnit: schedule.Seconds, Action: schedule.ActionReset},
		{Delay: 5, DelayUnit: schedule.Seconds, Action: schedule.ActionKeyboard, KeyboardShortcut: "win-l"},
	}}
	id, ok := r.Start(s)
	if !ok || id == "" {
		t.Fatal("Start did not launch a chain")
	}
	if got := r.InFlight(); len(got) != 1 || got[0].ID != id || got[0].Steps != 3 {
		t.Fatalf("InFlight = %+v", got)
	}

	// The parent schedule changing after Start must not affect the chain.
	s.FollowUpActions[0].Action = schedule.ActionOn

	for i, d := range []time.Duration{10 * time.Second, 20 * time.Second, 5 * time.Second} {
		if blockUntil(clk, 1) != nil {
			t.Fatalf("step %d: chain never started waiting", i)
		}
		if n := len(ex.executed()); n != i {
			t.Fatalf("before step %d: executed %d", i, n)
		}
		clk.Advance(d - time.Second)
		if n := len(ex.executed()); n != i {
			t.Fatalf("step %d ran before its delay elapsed", i)
		}
		clk.Advance(time.Second)
	}
	if err := r.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	got := ex.executed()
	want := []string{"Follow-up off", "Follow-up reset", "Follow-up win-l"}
	if len(got) != len(want) {
		t.Fatalf("executed %d steps, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Description() != want[i] || got[i].PCName != "PC 1" {
			t.Fatalf("step %d = %q, want %q", i, got[i].Description(), want[i])
		}
	}
	if len(r.InFlight()) != 0 {
		t.Fatal("chain still registered after completion")
	}
}

func TestLegacySecondaryRunsWhenNoFollowUps(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	ex := &fakeExec{}
	r := New(ex, clk, logx.Nop(), nil)

	s := schedule.Schedule{ID: 2, PCName: "PC 2", Action: schedule.ActionOff,
		HasSecondaryAction: true, SecondaryDelay: 2, SecondaryDelayUnit: schedule.Minutes}
	if _, ok := r.Start(s); !ok {
		t.Fatal("Start did not launch the secondary chain")
	}
	if blockUntil(clk, 1) != nil {
		t.Fatal("secondary never waited")
	}
	clk.Advance(2 * time.Minute)
	if err := r.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	got := ex.executed()
	if len(got) != 1 || got[0].Description() != "Secondary on" {
		t.Fatalf("executed = %+v", got)
	}
}

func TestNothingToFollowUp(t *testing.T) {
	r := New(&fakeExec{}, clockwork.NewFakeClockAt(time.Unix(0, 0)), logx.Nop(), nil)
	if _, ok := r.Start(schedule.Schedule{ID: 3, Action: schedule.ActionOn}); ok {
		t.Fatal("Start should report no chain")
	}
}

func TestOverlappingChainsAreIndependent(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	ex := &fakeExec{}
	r := New(ex, clk, logx.Nop(), nil)
	s := schedule.Schedule{ID: 4, PCName: "PC 1", Action: schedule.ActionOn, FollowUpActions: []schedule.FollowUp{
		{Delay: 1, DelayUnit: schedule.Hours, Action: schedule.ActionOff},
	}}
	a, _ := r.Start(s)
	b, _ := r.Start(s)
	if a == b {
		t.Fatal("firing ids must differ")
	}
	if blockUntil(clk, 2) != nil {
		t.Fatal("chains never waited")
	}
	clk.Advance(time.Hour)
	if err := r.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n := len(ex.executed()); n != 2 {
		t.Fatalf("executed %d, want 2", n)
	}
}

func TestShutdownReportsUnfinishedChains(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	r := New(&fakeExec{}, clk, logx.Nop(), nil)
	s := schedule.Schedule{ID: 5, PCName: "PC 1", Action: schedule.ActionOn, FollowUpActions: []schedule.FollowUp{
		{Delay: 1, DelayUnit: schedule.Days, Action: schedule.ActionOff},
	}}
	r.Start(s)
	if err := blockUntil(clk, 1); err != nil {
		t.Fatalf("chain never waited: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown err = %v, want deadline exceeded", err)
	}
	if len(r.InFlight()) != 1 {
		t.Fatal("chain should still be in flight")
	}
	clk.Advance(24 * time.Hour)
	if err := r.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}
