package schedule

import (
	"errors"
	"fmt"
	"math"
	"time"
)

type Action string

const (
	ActionOn       Action = "on"
	ActionOff      Action = "off"
	ActionReset    Action = "reset"
	ActionKeyboard Action = "keyboard"
)

func (a Action) Valid() bool {
	switch a {
	case ActionOn, ActionOff, ActionReset, ActionKeyboard:
		return true
	}
	return false
}

type Frequency string

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Biweekly  Frequency = "biweekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Annually  Frequency = "annually"
)

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Biweekly, Monthly, Quarterly, Annually:
		return true
	}
	return false
}

// UsesWeekdays reports whether the frequency is driven by daysOfWeek.
func (f Frequency) UsesWeekdays() bool { return f == Weekly || f == Biweekly }

// UsesDayOfMonth reports whether the frequency is anchored on dayOfMonth.
func (f Frequency) UsesDayOfMonth() bool { return f == Monthly || f == Quarterly || f == Annually }

type DelayUnit string

const (
	Seconds DelayUnit = "seconds"
	Minutes DelayUnit = "minutes"
	Hours   DelayUnit = "hours"
	Days    DelayUnit = "days"
)

func (u DelayUnit) Valid() bool {
	switch u {
	case Seconds, Minutes, Hours, Days:
		return true
	}
	return false
}

// Duration converts delay (in units of u) to a time.Duration. Unknown units
// count as seconds.
func (u DelayUnit) Duration(delay float64) time.Duration {
	secs := delay
	switch u {
	case Minutes:
		secs *= 60
	case Hours:
		secs *= 3600
	case Days:
		secs *= 86400
	}
	if secs <= 0 || math.IsNaN(secs) {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

const DefaultShortcut = "ctrl-alt-del"

var keyChords = map[string]string{
	"ctrl-alt-del": "ControlLeft+AltLeft+Delete",
	"ctrl-alt-esc": "ControlLeft+AltLeft+Escape",
	"alt-f4":       "AltLeft+F4",
	"win":          "MetaLeft",
	"win-r":        "MetaLeft+KeyR",
	"win-l":        "MetaLeft+KeyL",
}

// KeyChord resolves a symbolic shortcut name to the literal chord sent to the
// HID endpoint. Unknown names fall back to ctrl-alt-del.
func KeyChord(name string) string {
	if c, ok := keyChords[name]; ok {
		return c
	}
	return keyChords[DefaultShortcut]
}

var (
	ErrMissingFields    = errors.New("missing required fields")
	ErrInvalidAction    = errors.New("invalid action")
	ErrUnknownFrequency = errors.New("unknown frequency")
	ErrNoWeekdays       = errors.New("daysOfWeek must not be empty for weekly/biweekly schedules")
	ErrInvalidWeekday   = errors.New("daysOfWeek entries must be between 0 (Sunday) and 6 (Saturday)")
	ErrInvalidDelay     = errors.New("invalid follow-up delay")
	ErrNotFound         = errors.New("schedule not found")
	ErrFollowUpNotFound = errors.New("follow-up not found")
)

// FollowUp is one delayed step executed after a schedule's primary action.
type FollowUp struct {
	Delay            float64   `json:"delay"`
	DelayUnit        DelayUnit `json:"delayUnit"`
	Action           Action    `json:"action"`
	KeyboardShortcut string    `json:"keyboardShortcut,omitempty"`
}

// Wait is the delay before this step runs.
func (f FollowUp) Wait() time.Duration { return f.DelayUnit.Duration(f.Delay) }

func (f FollowUp) Validate() error {
	if !f.Action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, f.Action)
	}
	if f.Delay < 0 || math.IsNaN(f.Delay) || math.IsInf(f.Delay, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidDelay, f.Delay)
	}
	if !f.DelayUnit.Valid() {
		return fmt.Errorf("%w: unit %q", ErrInvalidDelay, f.DelayUnit)
	}
	return nil
}

// Schedule is a persisted, time-triggered device action.
//
// Time and LastExecuted are milliseconds since the Unix epoch, matching the
// dashboard front end.
type Schedule struct {
	ID               int64  `json:"id"`
	Port             int    `json:"port"`
	PCName           string `json:"pcName"`
	Action           Action `json:"action"`
	KeyboardShortcut string `json:"keyboardShortcut,omitempty"`
	Time             int64  `json:"time"`

	IsRecurring bool      `json:"isRecurring"`
	Frequency   Frequency `json:"frequency,omitempty"`
	DaysOfWeek  []int     `json:"daysOfWeek,omitempty"`
	// DayOfWeek is the single-day form older records carry.
	DayOfWeek *int `json:"dayOfWeek,omitempty"`
	// DayOfMonth anchors monthly/quarterly/annually rules so a clamped firing
	// (31st -> 30th) does not move later firings.
	DayOfMonth   int    `json:"dayOfMonth,omitempty"`
	LastExecuted *int64 `json:"lastExecuted,omitempty"`

	FollowUpActions []FollowUp `json:"followUpActions"`

	HasSecondaryAction        bool      `json:"hasSecondaryAction,omitempty"`
	SecondaryDelay            float64   `json:"secondaryDelay,omitempty"`
	SecondaryDelayUnit        DelayUnit `json:"secondaryDelayUnit,omitempty"`
	SecondaryAction           Action    `json:"secondaryAction,omitempty"`
	SecondaryKeyboardShortcut string    `json:"secondaryKeyboardShortcut,omitempty"`
}

// At returns the stored trigger instant.
func (s Schedule) At() time.Time { return time.UnixMilli(s.Time) }

// Weekdays returns daysOfWeek, falling back to the legacy single dayOfWeek.
func (s Schedule) Weekdays() []int {
	if len(s.DaysOfWeek) > 0 {
		return s.DaysOfWeek
	}
	if s.DayOfWeek != nil {
		return []int{*s.DayOfWeek}
	}
	return nil
}

// Shortcut returns the keyboard shortcut name, defaulted.
func (s Schedule) Shortcut() string {
	if s.KeyboardShortcut == "" {
		return DefaultShortcut
	}
	return s.KeyboardShortcut
}

// Describe is the action text used in log entries: the shortcut name for
// keyboard actions, the verb otherwise.
func Describe(a Action, shortcut string) string {
	if a == ActionKeyboard {
		if shortcut == "" {
			return DefaultShortcut
		}
		return shortcut
	}
	return string(a)
}

// Secondary converts the legacy single secondary action into a follow-up.
// ok is false when the schedule has none.
func (s Schedule) Secondary() (FollowUp, bool) {
	if !s.HasSecondaryAction {
		return FollowUp{}, false
	}
	f := FollowUp{
		Delay:            s.SecondaryDelay,
		DelayUnit:        s.SecondaryDelayUnit,
		Action:           s.SecondaryAction,
		KeyboardShortcut: s.SecondaryKeyboardShortcut,
	}
	if f.DelayUnit == "" {
		f.DelayUnit = Seconds
	}
	if f.Action == "" {
		f.Action = ActionOn
	}
	if f.Action == ActionKeyboard && f.KeyboardShortcut == "" {
		f.KeyboardShortcut = DefaultShortcut
	}
	return f, true
}

// Clone returns a deep copy so a firing can hold its data independently of
// later store edits.
func (s Schedule) Clone() Schedule {
	cp := s
	if s.DaysOfWeek != nil {
		cp.DaysOfWeek = append([]int(nil), s.DaysOfWeek...)
	}
	if s.DayOfWeek != nil {
		v := *s.DayOfWeek
		cp.DayOfWeek = &v
	}
	if s.LastExecuted != nil {
		v := *s.LastExecuted
		cp.LastExecuted = &v
	}
	cp.FollowUpActions = append([]FollowUp{}, s.FollowUpActions...)
	return cp
}

// Validate checks the fields the engine relies on.
func (s Schedule) Validate() error {
	if !s.Action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, s.Action)
	}
	for i, f := range s.FollowUpActions {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("followUpActions[%d]: %w", i, err)
		}
	}
	if !s.IsRecurring {
		return nil
	}
	if !s.Frequency.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownFrequency, s.Frequency)
	}
	if s.Frequency.UsesWeekdays() {
		days := s.Weekdays()
		if len(days) == 0 {
			return ErrNoWeekdays
		}
		for _, d := range days {
			if d < 0 || d > 6 {
				return fmt.Errorf("%w: %d", ErrInvalidWeekday, d)
			}
		}
	}
	return nil
}
