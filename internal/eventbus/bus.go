// Package eventbus is an in-process fanout of small signals between the HTTP
// API, the checker loop and the config manager.
package eventbus

import (
	"sync"
	"time"
)

// Well-known event types.
const (
	// SchedulesChanged is published after an API edit of the schedule store.
	SchedulesChanged = "schedules.changed"
	// ScheduleFired is published by the checker for every firing.
	ScheduleFired = "schedule.fired"
	// ConfigReloaded is published after a new service config is applied.
	ConfigReloaded = "config.reloaded"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus delivers events without blocking the publisher. Subscribers get a
// buffered channel; when it is full the event is dropped for that subscriber.
type Bus interface {
	Publish(e Event)
	// Subscribe receives events of the listed types, or every event when
	// none are listed.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[*sub]struct{}{}}
}

type sub struct {
	ch     chan Event
	types  map[string]bool
	closed bool
}

type memBus struct {
	mu   sync.Mutex
	subs map[*sub]struct{}
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if len(s.types) > 0 && !s.types[e.Type] {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s.closed {
			return
		}
		s.closed = true
		delete(b.subs, s)
		close(s.ch)
	}
}
