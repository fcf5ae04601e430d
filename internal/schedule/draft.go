package schedule

import "time"

// Draft carries the client-supplied fields of a new schedule. Pointer fields
// distinguish "omitted" from zero values for the required ones.
type Draft struct {
	Port             *int   `json:"port"`
	PCName           string `json:"pcName"`
	Action           Action `json:"action"`
	KeyboardShortcut string `json:"keyboardShortcut"`
	Time             *int64 `json:"time"`

	IsRecurring bool      `json:"isRecurring"`
	Frequency   Frequency `json:"frequency"`
	DaysOfWeek  []int     `json:"daysOfWeek"`

	HasSecondaryAction        bool      `json:"hasSecondaryAction"`
	SecondaryDelay            *float64  `json:"secondaryDelay"`
	SecondaryDelayUnit        DelayUnit `json:"secondaryDelayUnit"`
	SecondaryAction           Action    `json:"secondaryAction"`
	SecondaryKeyboardShortcut string    `json:"secondaryKeyboardShortcut"`
}

// FollowUpDraft is the client payload for appending a follow-up.
type FollowUpDraft struct {
	Delay            *float64  `json:"delay"`
	DelayUnit        DelayUnit `json:"delayUnit"`
	Action           Action    `json:"action"`
	KeyboardShortcut string    `json:"keyboardShortcut"`
}

// Build turns a draft into a validated Schedule with the given id.
// loc is the zone the anchor day-of-month is read in.
func (d Draft) Build(id int64, loc *time.Location) (Schedule, error) {
	if d.Port == nil || d.Time == nil || d.PCName == "" || d.Action == "" {
		return Schedule{}, ErrMissingFields
	}
	if loc == nil {
		loc = time.Local
	}
	s := Schedule{
		ID:              id,
		Port:            *d.Port,
		PCName:          d.PCName,
		Action:          d.Action,
		Time:            *d.Time,
		IsRecurring:     d.IsRecurring,
		FollowUpActions: []FollowUp{},
	}
	if s.Action == ActionKeyboard {
		s.KeyboardShortcut = d.KeyboardShortcut
		if s.KeyboardShortcut == "" {
			s.KeyboardShortcut = DefaultShortcut
		}
	}
	if s.IsRecurring {
		s.Frequency = d.Frequency
		if s.Frequency == "" {
			s.Frequency = Daily
		}
		if s.Frequency.UsesWeekdays() {
			s.DaysOfWeek = append([]int{}, d.DaysOfWeek...)
		}
		switch s.Frequency {
		case Monthly, Quarterly, Annually:
			s.DayOfMonth = s.At().In(loc).Day()
		}
	}
	if d.HasSecondaryAction {
		s.HasSecondaryAction = true
		s.SecondaryDelay = 60
		if d.SecondaryDelay != nil {
			s.SecondaryDelay = *d.SecondaryDelay
		}
		s.SecondaryDelayUnit = d.SecondaryDelayUnit
		if s.SecondaryDelayUnit == "" {
			s.SecondaryDelayUnit = Seconds
		}
		s.SecondaryAction = d.SecondaryAction
		if s.SecondaryAction == "" {
			s.SecondaryAction = ActionOn
		}
		if s.SecondaryAction == ActionKeyboard {
			s.SecondaryKeyboardShortcut = d.SecondaryKeyboardShortcut
			if s.SecondaryKeyboardShortcut == "" {
				s.SecondaryKeyboardShortcut = DefaultShortcut
			}
		}
		sec, _ := s.Secondary()
		if err := sec.Validate(); err != nil {
			return Schedule{}, err
		}
	}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

// Build turns a follow-up draft into a validated FollowUp.
func (d FollowUpDraft) Build() (FollowUp, error) {
	if d.Delay == nil || d.DelayUnit == "" || d.Action == "" {
		return FollowUp{}, ErrMissingFields
	}
	f := FollowUp{Delay: *d.Delay, DelayUnit: d.DelayUnit, Action: d.Action}
	if f.Action == ActionKeyboard {
		f.KeyboardShortcut = d.KeyboardShortcut
		if f.KeyboardShortcut == "" {
			f.KeyboardShortcut = DefaultShortcut
		}
	}
	if err := f.Validate(); err != nil {
		return FollowUp{}, err
	}
	return f, nil
}
