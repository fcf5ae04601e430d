package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/afero"

	logx "kvmdash/pkg/logx"
)

func openDrivers(t *testing.T) map[string]KV {
	t.Helper()
	out := map[string]KV{}

	mem, err := Open(Config{Driver: "file", Path: "/data", Fs: afero.NewMemMapFs()}, logx.Nop())
	if err != nil {
		t.Fatalf("open file driver: %v", err)
	}
	out["file"] = mem

	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "kvmdash.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite driver: %v", err)
	}
	out["sqlite"] = sq

	mr := miniredis.RunT(t)
	rd, err := Open(Config{Driver: "redis", Redis: RedisConfig{Addr: mr.Addr()}}, logx.Nop())
	if err != nil {
		t.Fatalf("open redis driver: %v", err)
	}
	out["redis"] = rd

	t.Cleanup(func() {
		for _, kv := range out {
			_ = kv.Close()
		}
	})
	return out
}

func TestDriversGetPut(t *testing.T) {
	ctx := context.Background()
	for name, kv := range openDrivers(t) {
		kv := kv
		t.Run(name, func(t *testing.T) {
			if _, ok, err := kv.Get(ctx, "missing"); err != nil || ok {
				t.Fatalf("Get(missing) = ok:%v err:%v, want absent", ok, err)
			}
			if err := kv.Put(ctx, KeyPreferences, []byte(`{"theme":"dark"}`)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := kv.Put(ctx, KeyPreferences, []byte(`{"theme":"light"}`)); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}
			got, ok, err := kv.Get(ctx, KeyPreferences)
			if err != nil || !ok {
				t.Fatalf("Get = ok:%v err:%v", ok, err)
			}
			if string(got) != `{"theme":"light"}` {
				t.Fatalf("Get = %s", got)
			}
		})
	}
}

func TestDriversUpdateSkipAndError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	for name, kv := range openDrivers(t) {
		kv := kv
		t.Run(name, func(t *testing.T) {
			if err := kv.Put(ctx, "k", []byte("1")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			err := kv.Update(ctx, "k", func(cur []byte, ok bool) ([]byte, error) {
				return []byte("2"), ErrSkipWrite
			})
			if err != nil {
				t.Fatalf("Update skip: %v", err)
			}
			err = kv.Update(ctx, "k", func(cur []byte, ok bool) ([]byte, error) {
				return []byte("3"), boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("Update err = %v, want boom", err)
			}
			got, _, _ := kv.Get(ctx, "k")
			if string(got) != "1" {
				t.Fatalf("value = %s, want unchanged 1", got)
			}
		})
	}
}

func TestDriversUpdateIsSerialized(t *testing.T) {
	ctx := context.Background()
	const workers = 8
	const perWorker = 10
	for name, kv := range openDrivers(t) {
		kv := kv
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			errCh := make(chan error, workers)
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perWorker; i++ {
						err := kv.Update(ctx, "counter", func(cur []byte, ok bool) ([]byte, error) {
							n := 0
							if ok {
								n, _ = strconv.Atoi(string(cur))
							}
							return []byte(strconv.Itoa(n + 1)), nil
						})
						if err != nil {
							errCh <- err
							return
						}
					}
				}()
			}
			wg.Wait()
			close(errCh)
			for err := range errCh {
				t.Fatalf("Update: %v", err)
			}
			got, _, _ := kv.Get(ctx, "counter")
			if string(got) != strconv.Itoa(workers*perWorker) {
				t.Fatalf("counter = %s, want %d (lost update)", got, workers*perWorker)
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "none"}, logx.Nop()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Open(none) err = %v, want ErrDisabled", err)
	}
}

func TestFileStoreLayout(t *testing.T) {
	fs := afero.NewMemMapFs()
	kv, err := Open(Config{Driver: "file", Path: "/var/lib/kvmdash", Fs: fs}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := kv.Put(context.Background(), KeySchedules, []byte(`{"schedules":[]}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ok, _ := afero.Exists(fs, "/var/lib/kvmdash/schedules.json"); !ok {
		t.Fatal("expected schedules.json on disk")
	}
	if ok, _ := afero.Exists(fs, "/var/lib/kvmdash/schedules.json.tmp"); ok {
		t.Fatal("temp file left behind")
	}
	_ = kv.Close()
	if err := kv.Put(context.Background(), KeySchedules, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Put after close err = %v, want ErrClosed", err)
	}
}
