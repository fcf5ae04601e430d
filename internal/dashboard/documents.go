// Package dashboard owns the two free-form documents the front end edits:
// user preferences and the dashboard configuration (hardware, PCs,
// appearance). The scheduler reads hardware settings from here on every
// firing.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"

	"kvmdash/internal/storage"
	logx "kvmdash/pkg/logx"
)

// Hardware is the part of the dashboard config the engine acts on.
type Hardware struct {
	HasSwitch bool
	PCCount   int
}

// defaultPCCount applies when the config has no hardware.pcCount.
const defaultPCCount = 2

// Documents reads and writes preferences and dashboard config.
type Documents struct {
	kv  storage.KV
	log logx.Logger
}

func New(kv storage.KV, log logx.Logger) *Documents {
	return &Documents{kv: kv, log: log.With(logx.String("comp", "dashboard"))}
}

func (d *Documents) load(ctx context.Context, key string, def func() map[string]any) (map[string]any, error) {
	raw, ok, err := d.kv.Get(ctx, key)
	if err != nil {
		return def(), fmt.Errorf("load %s: %w", key, err)
	}
	return d.decode(key, raw, ok, def), nil
}

func (d *Documents) decode(key string, raw []byte, ok bool, def func() map[string]any) map[string]any {
	if !ok || len(raw) == 0 {
		return def()
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		d.log.Warn("document corrupt; using defaults", logx.String("key", key), logx.Err(err))
		return def()
	}
	return m
}

func (d *Documents) update(ctx context.Context, key string, def func() map[string]any, fn func(m map[string]any)) (map[string]any, error) {
	var out map[string]any
	err := d.kv.Update(ctx, key, func(cur []byte, ok bool) ([]byte, error) {
		out = d.decode(key, cur, ok, def)
		fn(out)
		return json.MarshalIndent(out, "", "  ")
	})
	if err != nil {
		return nil, fmt.Errorf("save %s: %w", key, err)
	}
	return out, nil
}

// Preferences returns the stored preferences or the defaults.
func (d *Documents) Preferences(ctx context.Context) (map[string]any, error) {
	return d.load(ctx, storage.KeyPreferences, DefaultPreferences)
}

// UpdatePreferences shallow-merges patch into the stored preferences.
func (d *Documents) UpdatePreferences(ctx context.Context, patch map[string]any) (map[string]any, error) {
	return d.update(ctx, storage.KeyPreferences, DefaultPreferences, func(m map[string]any) {
		for k, v := range patch {
			m[k] = v
		}
	})
}

// ActionLogLimit is the preference-controlled action log length.
func (d *Documents) ActionLogLimit(ctx context.Context) int {
	prefs, err := d.Preferences(ctx)
	if err != nil {
		d.log.Warn("read preferences failed; using default log limit", logx.Err(err))
	}
	if v, ok := prefs["actionLogLimit"].(float64); ok && v >= 0 {
		return int(v)
	}
	return DefaultActionLogLimit
}

// Config returns the stored dashboard config or the defaults.
func (d *Documents) Config(ctx context.Context) (map[string]any, error) {
	return d.load(ctx, storage.KeyConfig, DefaultConfig)
}

// SaveConfig deep-merges patch into the stored config.
func (d *Documents) SaveConfig(ctx context.Context, patch map[string]any) (map[string]any, error) {
	return d.update(ctx, storage.KeyConfig, DefaultConfig, func(m map[string]any) {
		DeepMerge(m, patch)
		if v, ok := patch["firstRun"]; ok {
			m["firstRun"] = v
		}
	})
}

// ResetConfig overwrites the config with the defaults.
func (d *Documents) ResetConfig(ctx context.Context) (map[string]any, error) {
	def := DefaultConfig()
	b, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := d.kv.Put(ctx, storage.KeyConfig, b); err != nil {
		return nil, fmt.Errorf("reset config: %w", err)
	}
	return def, nil
}

// Hardware reads hasSwitch and pcCount from the current config. Storage
// errors fall back to the defaults so a firing still goes out.
func (d *Documents) Hardware(ctx context.Context) (Hardware, error) {
	cfg, err := d.Config(ctx)
	return HardwareOf(cfg), err
}

// HardwareOf extracts Hardware from a config document.
func HardwareOf(cfg map[string]any) Hardware {
	hw := Hardware{PCCount: defaultPCCount}
	m, _ := cfg["hardware"].(map[string]any)
	if m == nil {
		return hw
	}
	hw.HasSwitch, _ = m["hasSwitch"].(bool)
	if n, ok := m["pcCount"].(float64); ok && n >= 0 {
		hw.PCCount = int(n)
	}
	return hw
}
