// Package executor performs one device action and records it in the action
// log.
package executor

import (
	"context"
	"fmt"

	"kvmdash/internal/actionlog"
	"kvmdash/internal/dashboard"
	"kvmdash/internal/device"
	"kvmdash/internal/schedule"
	logx "kvmdash/pkg/logx"
)

// Kind says which part of a firing an action belongs to. It prefixes the
// action log description.
type Kind string

const (
	Scheduled Kind = "Scheduled"
	Recurring Kind = "Recurring"
	FollowUp  Kind = "Follow-up"
	Secondary Kind = "Secondary"
)

type Request struct {
	PCName   string
	Port     int
	Action   schedule.Action
	Shortcut string
	Kind     Kind
}

// Primary builds the request for a schedule's own action.
func Primary(s schedule.Schedule) Request {
	k := Scheduled
	if s.IsRecurring {
		k = Recurring
	}
	return Request{PCName: s.PCName, Port: s.Port, Action: s.Action, Shortcut: s.KeyboardShortcut, Kind: k}
}

// Step builds the request for one follow-up of s.
func Step(s schedule.Schedule, f schedule.FollowUp, k Kind) Request {
	return Request{PCName: s.PCName, Port: s.Port, Action: f.Action, Shortcut: f.KeyboardShortcut, Kind: k}
}

// Description is the action text written to the log, e.g. "Recurring win-l".
func (r Request) Description() string {
	return fmt.Sprintf("%s %s", r.Kind, schedule.Describe(r.Action, r.Shortcut))
}

type Device interface {
	PowerOn(ctx context.Context, t device.Target) error
	Click(ctx context.Context, t device.Target, b device.Button) error
	PrintText(ctx context.Context, text string) error
}

type HardwareSource interface {
	Hardware(ctx context.Context) (dashboard.Hardware, error)
}

type Sink interface {
	Append(ctx context.Context, e actionlog.Entry) (actionlog.Entry, error)
}

type Executor struct {
	dev  Device
	hw   HardwareSource
	sink Sink
	log  logx.Logger
}

func New(dev Device, hw HardwareSource, sink Sink, log logx.Logger) *Executor {
	return &Executor{dev: dev, hw: hw, sink: sink, log: log.With(logx.String("comp", "executor"))}
}

// Execute sends r to the device and appends one "scheduled" log entry
// whether or not the device call succeeded. The device error is returned.
func (e *Executor) Execute(ctx context.Context, r Request) error {
	hw, err := e.hw.Hardware(ctx)
	if err != nil {
		e.log.Warn("read hardware config failed; using defaults", logx.Err(err))
	}
	t := device.Target{Switch: hw.HasSwitch, Port: r.Port}

	var callErr error
	switch r.Action {
	case schedule.ActionOn:
		callErr = e.dev.PowerOn(ctx, t)
	case schedule.ActionOff:
		callErr = e.dev.Click(ctx, t, device.ButtonPower)
	case schedule.ActionReset:
		callErr = e.dev.Click(ctx, t, device.ButtonReset)
	case schedule.ActionKeyboard:
		callErr = e.dev.PrintText(ctx, schedule.KeyChord(r.Shortcut))
	default:
		callErr = fmt.Errorf("%w: %q", schedule.ErrInvalidAction, r.Action)
	}

	desc := r.Description()
	if _, err := e.sink.Append(ctx, actionlog.Entry{PCName: r.PCName, Action: desc, Method: actionlog.MethodScheduled}); err != nil {
		e.log.Warn("append action log failed", logx.String("pc", r.PCName), logx.String("action", desc), logx.Err(err))
	}
	if callErr != nil {
		e.log.Warn("device action failed", logx.String("pc", r.PCName), logx.String("action", desc), logx.Bool("switch", hw.HasSwitch), logx.Int("port", r.Port), logx.Err(callErr))
		return callErr
	}
	e.log.Info("executed action", logx.String("pc", r.PCName), logx.String("action", desc))
	return nil
}
