package storage

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/afero"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")

	// ErrSkipWrite may be returned by an Update callback to end the
	// transaction without writing. Update then returns nil.
	ErrSkipWrite = errors.New("storage: skip write")
)

// Well-known document keys.
const (
	KeySchedules   = "schedules"
	KeyActionLog   = "action_log"
	KeyPreferences = "preferences"
	KeyConfig      = "config"
	KeyUptime      = "uptime"
)

// KV is a whole-document store: every key holds one JSON document that is
// read and written as a unit.
type KV interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Put(ctx context.Context, key string, val []byte) error
	// Update runs fn as a read-modify-write critical section for key.
	// fn may be invoked more than once (optimistic drivers retry on conflict),
	// so it must not have side effects beyond computing the new value.
	Update(ctx context.Context, key string, fn func(cur []byte, ok bool) ([]byte, error)) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file": one JSON file per key under Path (a directory)
//   - "memory": the file driver on an in-memory filesystem
//   - "sqlite": SQLite database file at Path
//   - "redis": Redis server at Redis.Addr
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Redis       RedisConfig

	// Fs overrides the filesystem used by the file driver (tests).
	Fs afero.Fs
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}
