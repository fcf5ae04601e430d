package clock

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestRealTracksWallClock(t *testing.T) {
	before := time.Now()
	got := Real().Now()
	if got.Before(before) || got.Sub(before) > time.Second {
		t.Fatalf("Real().Now() = %v, wall clock %v", got, before)
	}
}

// The checker and follow-up tests rely on a fake clock releasing After
// channels in deadline order once advanced.
func TestFakeClockReleasesAfterInOrder(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(start)
	var c Clock = fc

	late := c.After(20 * time.Second)
	early := c.After(10 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := fc.BlockUntilContext(ctx, 2); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}

	fc.Advance(10 * time.Second)
	select {
	case got := <-early:
		if !got.Equal(start.Add(10 * time.Second)) {
			t.Fatalf("early fired at %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("early waiter did not fire")
	}
	select {
	case <-late:
		t.Fatal("late waiter fired too soon")
	default:
	}

	fc.Advance(10 * time.Second)
	select {
	case <-late:
	case <-time.After(time.Second):
		t.Fatal("late waiter did not fire")
	}
}
