package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("n", 3), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "test" {
		t.Fatalf("comp = %v, want test", m["comp"])
	}
	if m["n"] != float64(3) {
		t.Fatalf("n = %v, want 3", m["n"])
	}
	if m["message"] != "hello" {
		t.Fatalf("message = %v", m["message"])
	}
	if _, ok := m["caller"]; !ok {
		t.Fatal("expected caller field")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatal("debug should not be enabled at warn")
	}
	log.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("expected warn line")
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("nothing happens")
	if Nop().IsZero() {
		t.Fatal("Nop logger is not the zero value")
	}
}

func TestParseLevel(t *testing.T) {
	if got := parseLevel(" warning ", LevelInfo); got != LevelWarn {
		t.Fatalf("parseLevel(warning) = %v", got)
	}
	if got := parseLevel("bogus", LevelError); got != LevelError {
		t.Fatalf("parseLevel(bogus) = %v, want default", got)
	}
}

func TestFieldHelpersWriteKeys(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info")
	log.Info("fields",
		Bool("ok", true),
		Int64("id", 42),
		Duration("took", time.Second),
		Time("at", time.Unix(0, 0).UTC()),
		Any("ports", []int{1, 2}),
	)

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["ok"] != true || m["id"] != float64(42) {
		t.Fatalf("ok=%v id=%v", m["ok"], m["id"])
	}
	for _, k := range []string{"took", "at", "ports"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("missing %q in %q", k, buf.String())
		}
	}
}
