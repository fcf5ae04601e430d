package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the service configuration file (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "5s", "1m").
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Device    DeviceConfig    `json:"device"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Icons     IconsConfig     `json:"icons"`
}

// HTTPConfig controls the dashboard API listener. Addr and CORS changes need
// a restart; the rest is read per request.
type HTTPConfig struct {
	Addr string `json:"addr"`
	// CORSOrigins lists allowed origins; empty allows any origin.
	CORSOrigins []string `json:"cors_origins,omitempty"`
	Debug       bool     `json:"debug,omitempty"`
	// Pprof mounts /debug/pprof on the API listener.
	Pprof bool `json:"pprof,omitempty"`

	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the document store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "/var/lib/kvmd/pst/data/dashboard" }
type StorageConfig struct {
	Driver      string       `json:"driver"`
	Path        string       `json:"path,omitempty"`
	BusyTimeout string       `json:"busy_timeout,omitempty"` // sqlite
	Redis       *RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// DeviceConfig points at the local kvmd API.
type DeviceConfig struct {
	BaseURL    string `json:"base_url"`
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type SchedulerConfig struct {
	// PollInterval is how often stored schedules are checked (default 5s).
	PollInterval string `json:"poll_interval,omitempty"`
	// Timezone used for wall-clock schedule times; empty means local.
	Timezone string `json:"timezone,omitempty"`
	// UptimeInterval is the uptime sampling period (default 30s).
	UptimeInterval string `json:"uptime_interval,omitempty"`
}

type IconsConfig struct {
	Dir string `json:"dir,omitempty"`
	// CleanupSpec is a cron spec or duration for the periodic unused-icon
	// sweep. Empty disables it (config saves still sweep).
	CleanupSpec string `json:"cleanup_spec,omitempty"`
}

const (
	DefaultHTTPAddr       = "127.0.0.1:8780"
	DefaultPollInterval   = 5 * time.Second
	DefaultUptimeInterval = 30 * time.Second
	DefaultShutdown       = 10 * time.Second
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		HTTP:    HTTPConfig{Addr: DefaultHTTPAddr},
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "file", Path: "/var/lib/kvmd/pst/data/dashboard"},
		Device:  DeviceConfig{BaseURL: "http://localhost", Timeout: "5s"},
	}
}

// Location resolves the scheduler timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// Validate checks every field that is parsed at apply time so a reload is
// rejected as a whole instead of failing half way.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	_, err := c.Durations()
	add(err)
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "memory", "sqlite":
	case "redis":
		if c.Storage.Redis == nil || strings.TrimSpace(c.Storage.Redis.Addr) == "" {
			add(errors.New("storage.redis.addr is required for redis driver"))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Device.RatePerSec < 0 {
		add(errors.New("device.rate_per_sec must be >= 0"))
	}
	_, err = c.Location()
	add(err)
	return errors.Join(errs...)
}
