package eventbus

import "testing"

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	only, unsubOnly := b.Subscribe(4, SchedulesChanged)
	defer unsubOnly()

	b.Publish(Event{Type: ConfigReloaded})
	b.Publish(Event{Type: SchedulesChanged, Data: int64(7)})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events, want 2", got)
	}
	if got := len(only); got != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", got)
	}
	e := <-only
	if e.Type != SchedulesChanged || e.Data.(int64) != 7 || e.Time.IsZero() {
		t.Fatalf("event = %+v", e)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if len(ch) != 1 {
		t.Fatalf("buffered = %d, want 1", len(ch))
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "c"})
	if _, ok := <-ch; !ok {
		t.Fatal("buffered event lost on unsubscribe")
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
}
