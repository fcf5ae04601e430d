// Package clock is the time source of the checker loop, follow-up chains and
// stores. Tests inject a clockwork fake clock.
package clock

import "github.com/jonboulle/clockwork"

type Clock = clockwork.Clock

// Real returns the wall clock.
func Real() Clock { return clockwork.NewRealClock() }
