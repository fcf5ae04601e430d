package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "kvmdash/pkg/logx"
)

func TestDecodeYAMLKeepsDefaults(t *testing.T) {
	cfg, err := Decode("kvmdash.yaml", []byte(`
storage:
  driver: sqlite
  path: /tmp/dash.db
scheduler:
  poll_interval: 2s
  timezone: UTC
`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Scheduler.PollInterval != "2s" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.HTTP.Addr != DefaultHTTPAddr || cfg.Device.BaseURL != "http://localhost" {
		t.Fatalf("defaults lost: http=%+v device=%+v", cfg.HTTP, cfg.Device)
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Fatalf("Location = %v, %v", loc, err)
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field": `{"http":{"addr":":1","bogus":true}}`,
		"trailing data": `{"http":{}}{}`,
		"bad duration":  `{"device":{"timeout":"soon"}}`,
		"bad driver":    `{"storage":{"driver":"mongo"}}`,
		"redis no addr": `{"storage":{"driver":"redis"}}`,
		"bad timezone":  `{"scheduler":{"timezone":"Mars/Olympus"}}`,
		"negative rate": `{"device":{"rate_per_sec":-1}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode("c.json", []byte(body)); err == nil {
				t.Fatalf("Decode(%s) succeeded", body)
			}
		})
	}
}

func TestManagerReloadPublishesOnlyChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kvmdash.json")
	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write(`{"logging":{"level":"info"}}`)

	m := NewConfigManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx := context.Background()
	if ok, err := m.Reload(ctx); ok || err != nil {
		t.Fatalf("unchanged Reload = %v, %v", ok, err)
	}

	write(`{"logging":{"level":"debug"}}`)
	if ok, err := m.Reload(ctx); !ok || err != nil {
		t.Fatalf("changed Reload = %v, %v", ok, err)
	}
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level %q", cfg.Logging.Level)
		}
	default:
		t.Fatal("nothing published")
	}

	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Logging.Level == "trace" {
			return os.ErrPermission
		}
		return nil
	})
	write(`{"logging":{"level":"trace"}}`)
	if ok, err := m.Reload(ctx); ok || err == nil {
		t.Fatalf("rejected Reload = %v, %v", ok, err)
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("rejected config was committed")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a := Default()
	b := Default()
	b.Logging.Level = "debug"
	b.Storage.Redis = &RedisConfig{Addr: "r:6379", Password: "secret"}
	b.Storage.Driver = "redis"

	changed, attrs := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "logging,storage" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
	if got, _ := SummarizeConfigChange(a, Default()); len(got) != 0 {
		t.Fatalf("identical configs reported %v", got)
	}
}

func TestDurationsDefaults(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.PollInterval = "1s"
	d, err := cfg.Durations()
	if err != nil {
		t.Fatalf("Durations: %v", err)
	}
	if d.PollInterval != time.Second || d.UptimeInterval != DefaultUptimeInterval || d.DeviceTimeout != 5*time.Second {
		t.Fatalf("durations = %+v", d)
	}
	if d.Shutdown != DefaultShutdown || d.HTTPRead != 0 {
		t.Fatalf("durations = %+v", d)
	}
}

func TestExampleConfigDecodes(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("read example: %v", err)
	}
	cfg, err := Decode("config.example.yaml", data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Icons.CleanupSpec != "@daily" || cfg.Storage.Driver != "file" {
		t.Fatalf("unexpected cfg: icons=%+v storage=%+v", cfg.Icons, cfg.Storage)
	}
}
