// Package uptime accumulates per-port power-on time from the switch's power
// LEDs. State lives in the "uptime" document, keyed by port number.
package uptime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"kvmdash/internal/clock"
	"kvmdash/internal/dashboard"
	"kvmdash/internal/device"
	"kvmdash/internal/storage"
	logx "kvmdash/pkg/logx"
)

// Port is one port's accounting. Times are unix seconds.
type Port struct {
	TotalUptime   float64  `json:"totalUptime"`
	BootTime      *float64 `json:"bootTime"`
	LastCheck     *float64 `json:"lastCheck"`
	CurrentUptime int64    `json:"currentUptime"`
}

// Snapshot maps port ("0", "1", ...) to its accounting.
type Snapshot map[string]*Port

type SwitchReader interface {
	Switch(ctx context.Context) (device.SwitchStatus, error)
}

type HardwareSource interface {
	Hardware(ctx context.Context) (dashboard.Hardware, error)
}

type Tracker struct {
	kv  storage.KV
	hw  HardwareSource
	sw  SwitchReader
	clk clock.Clock
	log logx.Logger
}

func New(kv storage.KV, hw HardwareSource, sw SwitchReader, clk clock.Clock, log logx.Logger) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	return &Tracker{kv: kv, hw: hw, sw: sw, clk: clk, log: log.With(logx.String("comp", "uptime"))}
}

// Refresh samples the switch and folds the result into the stored document.
// When the switch cannot be read the stored document is returned untouched.
func (t *Tracker) Refresh(ctx context.Context) (Snapshot, error) {
	hw, err := t.hw.Hardware(ctx)
	if err != nil {
		t.log.Warn("hardware config unavailable; using defaults", logx.Err(err))
	}

	status, err := t.sw.Switch(ctx)
	if err != nil {
		t.log.Debug("switch status unavailable", logx.Err(err))
		return t.load(ctx, hw.PCCount)
	}
	leds := status.PowerLEDs()
	now := float64(t.clk.Now().UnixNano()) / float64(time.Second)

	var out Snapshot
	err = t.kv.Update(ctx, storage.KeyUptime, func(cur []byte, ok bool) ([]byte, error) {
		out = t.decode(cur, ok, hw.PCCount)
		for port := 0; port < hw.PCCount; port++ {
			key := strconv.Itoa(port)
			p := out[key]
			if p == nil {
				p = &Port{}
				out[key] = p
			}
			sample(p, port < len(leds) && leds[port], now)
		}
		return json.MarshalIndent(out, "", "  ")
	})
	if err != nil {
		return nil, fmt.Errorf("save uptime: %w", err)
	}
	return out, nil
}

// sample advances one port. An off edge adds the finished session
// (boot to last on-sample) to the total.
func sample(p *Port, on bool, now float64) {
	if on {
		if p.BootTime == nil {
			boot := now
			p.BootTime = &boot
		}
		p.CurrentUptime = int64(now - *p.BootTime)
		p.LastCheck = &now
		return
	}
	if p.BootTime != nil {
		last := now
		if p.LastCheck != nil {
			last = *p.LastCheck
		}
		p.TotalUptime += last - *p.BootTime
		p.BootTime = nil
	}
	p.CurrentUptime = 0
	p.LastCheck = &now
}

func (t *Tracker) load(ctx context.Context, pcCount int) (Snapshot, error) {
	raw, ok, err := t.kv.Get(ctx, storage.KeyUptime)
	if err != nil {
		return nil, fmt.Errorf("load uptime: %w", err)
	}
	return t.decode(raw, ok, pcCount), nil
}

func (t *Tracker) decode(raw []byte, ok bool, pcCount int) Snapshot {
	if ok && len(raw) > 0 {
		var s Snapshot
		if err := json.Unmarshal(raw, &s); err == nil && s != nil {
			return s
		}
		t.log.Warn("uptime document corrupt; starting over")
	}
	s := make(Snapshot, pcCount)
	for i := 0; i < pcCount; i++ {
		s[strconv.Itoa(i)] = &Port{}
	}
	return s
}
