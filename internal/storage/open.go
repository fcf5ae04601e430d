package storage

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"

	logx "kvmdash/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (KV, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "memory", "mem":
		cfg.Fs = afero.NewMemMapFs()
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = "/data"
		}
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	case "none":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
