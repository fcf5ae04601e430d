package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses an optional non-negative duration; empty is 0.
// path names the field in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// Durations holds the parsed duration fields with defaults applied.
type Durations struct {
	HTTPRead       time.Duration
	HTTPWrite      time.Duration
	Shutdown       time.Duration
	BusyTimeout    time.Duration
	DeviceTimeout  time.Duration
	PollInterval   time.Duration
	UptimeInterval time.Duration
}

// Durations parses every duration field. Zero or empty values take the
// package defaults (HTTP timeouts and busy_timeout stay 0).
func (c *Config) Durations() (Durations, error) {
	var (
		d   Durations
		err error
	)
	parse := func(dst *time.Duration, path, raw string, def time.Duration) {
		if err != nil {
			return
		}
		var v time.Duration
		if v, err = ParseDurationField(path, raw); err == nil {
			if v == 0 {
				v = def
			}
			*dst = v
		}
	}
	parse(&d.HTTPRead, "http.read_timeout", c.HTTP.ReadTimeout, 0)
	parse(&d.HTTPWrite, "http.write_timeout", c.HTTP.WriteTimeout, 0)
	parse(&d.Shutdown, "http.shutdown_timeout", c.HTTP.ShutdownTimeout, DefaultShutdown)
	parse(&d.BusyTimeout, "storage.busy_timeout", c.Storage.BusyTimeout, 0)
	parse(&d.DeviceTimeout, "device.timeout", c.Device.Timeout, 5*time.Second)
	parse(&d.PollInterval, "scheduler.poll_interval", c.Scheduler.PollInterval, DefaultPollInterval)
	parse(&d.UptimeInterval, "scheduler.uptime_interval", c.Scheduler.UptimeInterval, DefaultUptimeInterval)
	return d, err
}
