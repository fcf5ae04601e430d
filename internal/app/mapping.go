package app

import (
	"fmt"
	"strings"
	"time"

	"kvmdash/internal/config"
	"kvmdash/internal/device"
	"kvmdash/internal/storage"
	logx "kvmdash/pkg/logx"
)

const defaultBusyTimeout = time.Second

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "memory":
		return storage.Config{Driver: "memory"}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		if busy == 0 {
			busy = defaultBusyTimeout
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "redis":
		if sc.Redis == nil {
			return storage.Config{}, fmt.Errorf("storage.redis is required when storage.driver=redis")
		}
		return storage.Config{Driver: "redis", Redis: storage.RedisConfig{
			Addr:      sc.Redis.Addr,
			Password:  sc.Redis.Password,
			DB:        sc.Redis.DB,
			KeyPrefix: sc.Redis.KeyPrefix,
		}}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	}
}

func mapDeviceConfig(cfg *config.Config, d config.Durations) device.Config {
	return device.Config{
		BaseURL:    cfg.Device.BaseURL,
		Timeout:    d.DeviceTimeout,
		RatePerSec: cfg.Device.RatePerSec,
	}
}
