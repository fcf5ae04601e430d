package config

import (
	"reflect"
	"sort"
	"strconv"
	"strings"

	logx "kvmdash/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// attributes for the reload log line. Secrets (redis password) are only
// reported as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Int("http.cors_origins", len(newCfg.HTTP.CORSOrigins)),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
			logx.Bool("http.restart_required", oldCfg.HTTP.Addr != newCfg.HTTP.Addr ||
				!reflect.DeepEqual(oldCfg.HTTP.CORSOrigins, newCfg.HTTP.CORSOrigins)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if storageKey(oldCfg.Storage) != storageKey(newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.restart_required", true),
		)
	}

	if oldCfg.Device != newCfg.Device {
		changed = append(changed, "device")
		attrs = append(attrs,
			logx.String("device.base_url", newCfg.Device.BaseURL),
			logx.String("device.timeout", newCfg.Device.Timeout),
			logx.Int("device.rate_per_sec", newCfg.Device.RatePerSec),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.poll_interval", newCfg.Scheduler.PollInterval),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.String("scheduler.uptime_interval", newCfg.Scheduler.UptimeInterval),
		)
	}

	if oldCfg.Icons != newCfg.Icons {
		changed = append(changed, "icons")
		attrs = append(attrs,
			logx.String("icons.dir", newCfg.Icons.Dir),
			logx.String("icons.cleanup_spec", newCfg.Icons.CleanupSpec),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func storageKey(s StorageConfig) string {
	parts := []string{strings.TrimSpace(s.Driver), strings.TrimSpace(s.Path), strings.TrimSpace(s.BusyTimeout)}
	if s.Redis != nil {
		pw := "nopw"
		if s.Redis.Password != "" {
			pw = "pw"
		}
		parts = append(parts, s.Redis.Addr, s.Redis.KeyPrefix, strconv.Itoa(s.Redis.DB), pw)
	}
	return strings.Join(parts, "|")
}
