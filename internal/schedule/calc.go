package schedule

import (
	"fmt"
	"time"
)

// Calculator maps a schedule to trigger instants. It is pure: it never
// mutates the schedule and reads no clock of its own.
type Calculator struct {
	loc *time.Location
}

// NewCalculator returns a calculator evaluating rules in loc (nil = Local).
func NewCalculator(loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.Local
	}
	return &Calculator{loc: loc}
}

func (c *Calculator) Location() *time.Location { return c.loc }

// Next returns the schedule's next trigger strictly after now. One-time
// schedules return their stored time unchanged.
func (c *Calculator) Next(s Schedule, now time.Time) (time.Time, error) {
	if !s.IsRecurring {
		return s.At(), nil
	}
	return c.slot(s, now, false)
}

// Due returns the instant the schedule is due at. For recurring schedules it
// is the first rule slot at or after the stored time, so a record whose time
// does not sit on a slot (e.g. a weekly rule created on an unlisted day) is
// normalized instead of firing early.
func (c *Calculator) Due(s Schedule) (time.Time, error) {
	if !s.IsRecurring {
		return s.At(), nil
	}
	return c.slot(s, s.At().Truncate(time.Minute), true)
}

// slot finds the first instant matching s's rule after ref (or at ref when
// inclusive). Hour and minute always come from the stored time.
func (c *Calculator) slot(s Schedule, ref time.Time, inclusive bool) (time.Time, error) {
	base := s.At().In(c.loc)
	ref = ref.In(c.loc)
	hour, minute := base.Hour(), base.Minute()

	at := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, hour, minute, 0, 0, c.loc)
	}
	ok := func(t time.Time) bool {
		if inclusive {
			return !t.Before(ref)
		}
		return t.After(ref)
	}

	freq := s.Frequency
	if freq == "" {
		freq = Daily
	}

	switch freq {
	case Daily:
		y, m, d := ref.Date()
		t := at(y, m, d)
		if !ok(t) {
			t = at(y, m, d+1)
		}
		return t, nil

	case Weekly, Biweekly:
		days := s.Weekdays()
		if len(days) == 0 {
			return time.Time{}, ErrNoWeekdays
		}
		var want [7]bool
		for _, wd := range days {
			if wd < 0 || wd > 6 {
				return time.Time{}, fmt.Errorf("%w: %d", ErrInvalidWeekday, wd)
			}
			want[wd] = true
		}
		y, m, d := ref.Date()
		if !ok(at(y, m, d)) {
			d++
		}
		start := at(y, m, d)
		offset := 0
		for ; offset < 7; offset++ {
			if want[(int(start.Weekday())+offset)%7] {
				break
			}
		}
		t := at(y, m, d+offset)
		// Biweekly spacing is in calendar days: a slot 14 dates after the
		// last firing qualifies even if the firing itself ran late.
		if freq == Biweekly && s.LastExecuted != nil {
			last := time.UnixMilli(*s.LastExecuted).In(c.loc)
			for calendarDays(last, t) < 14 {
				y, m, d = t.Date()
				t = at(y, m, d+7)
			}
		}
		return t, nil

	case Monthly, Quarterly, Annually:
		step := 1
		switch freq {
		case Quarterly:
			step = 3
		case Annually:
			step = 12
		}
		anchor := s.DayOfMonth
		if anchor < 1 || anchor > 31 {
			anchor = base.Day()
		}
		first := int(base.Month()) - 1
		y, m, _ := ref.Date()
		// Two full years always contain a matching slot after ref.
		for i := 0; i <= 24; i++ {
			mi := int(m) - 1 + i
			ty, tm := y+mi/12, time.Month(mi%12+1)
			if ((mi-first)%step+step)%step != 0 {
				continue
			}
			day := anchor
			if last := daysIn(ty, tm); day > last {
				day = last
			}
			if t := at(ty, tm, day); ok(t) {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("no %s slot after %s", freq, ref.Format(time.RFC3339))
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownFrequency, s.Frequency)
}

// calendarDays counts whole calendar days from a's date to b's date,
// ignoring time of day and DST offsets.
func calendarDays(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
