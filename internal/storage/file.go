package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	logx "kvmdash/pkg/logx"
)

// fileStore keeps one pretty-printed JSON document per key:
//
//	<dir>/<key>.json
//
// Writes go to <key>.json.tmp and are renamed into place so a crash never
// leaves a half-written document behind. A single mutex serializes all
// writers in this process.
type fileStore struct {
	log logx.Logger
	fs  afero.Fs
	dir string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (KV, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &fileStore{log: log, fs: fs, dir: dir}, nil
}

func (s *fileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	return s.readLocked(key)
}

func (s *fileStore) Put(ctx context.Context, key string, val []byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.writeLocked(key, val)
}

func (s *fileStore) Update(ctx context.Context, key string, fn func(cur []byte, ok bool) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cur, ok, err := s.readLocked(key)
	if err != nil {
		return err
	}
	next, err := fn(cur, ok)
	if errors.Is(err, ErrSkipWrite) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.writeLocked(key, next)
}

func (s *fileStore) readLocked(key string) ([]byte, bool, error) {
	b, err := afero.ReadFile(s.fs, s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *fileStore) writeLocked(key string, val []byte) error {
	final := s.path(key)
	tmp := final + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, val, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := s.fs.Rename(tmp, final); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	s.log.Trace("document saved", logx.String("key", key), logx.Int("bytes", len(val)))
	return nil
}
