package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "kvmdash/pkg/logx"
)

func TestParseSpec(t *testing.T) {
	ok := []string{"30s", "1h", "@every 30s", "@hourly", "*/5 * * * *", "0 */2 * * * *"}
	for _, s := range ok {
		if _, err := ParseSpec(s); err != nil {
			t.Fatalf("ParseSpec(%q): %v", s, err)
		}
	}
	bad := []string{"", "soon", "-5s", "0s", "* * *"}
	for _, s := range bad {
		if _, err := ParseSpec(s); err == nil {
			t.Fatalf("ParseSpec(%q) succeeded, want error", s)
		}
	}
	sched, _ := ParseSpec("30s")
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := sched.Next(base); !got.Equal(base.Add(30 * time.Second)) {
		t.Fatalf("Next = %v", got)
	}
}

func TestRunNowSkipsOverlap(t *testing.T) {
	s := New(time.UTC, logx.Nop())
	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32
	err := s.Add("slow", "1h", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.RunNow("slow") }()
	<-started
	if err := s.RunNow("slow"); !errors.Is(err, errSkipped) {
		t.Fatalf("overlapping RunNow err = %v, want skipped", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Runs != 1 || snap[0].Skipped != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if runs.Load() != 1 {
		t.Fatalf("runs = %d", runs.Load())
	}
}

func TestJobErrorsAndPanicsAreRecorded(t *testing.T) {
	s := New(nil, logx.Nop())
	_ = s.Add("fails", "1h", 0, func(ctx context.Context) error { return errors.New("boom") })
	_ = s.Add("panics", "1h", 0, func(ctx context.Context) error { panic("bad") })

	if err := s.RunNow("fails"); err == nil {
		t.Fatal("expected error")
	}
	if err := s.RunNow("panics"); err == nil {
		t.Fatal("expected panic to surface as error")
	}
	if err := s.RunNow("missing"); err == nil {
		t.Fatal("expected unknown job error")
	}
	for _, info := range s.Snapshot() {
		if info.LastErr == "" {
			t.Fatalf("%s: last error not recorded", info.Name)
		}
	}
}

func TestStartFiresIntervalJobs(t *testing.T) {
	s := New(time.UTC, logx.Nop())
	fired := make(chan struct{}, 4)
	if err := s.Add("tick", "@every 1s", time.Second, func(ctx context.Context) error {
		fired <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job never fired")
	}
	if !s.Remove("tick") || s.Remove("tick") {
		t.Fatal("Remove should report presence once")
	}
}
