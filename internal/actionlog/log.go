// Package actionlog keeps the newest-first history of device actions shown
// on the dashboard.
package actionlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kvmdash/internal/clock"
	"kvmdash/internal/storage"
	logx "kvmdash/pkg/logx"
)

var ErrMissingFields = errors.New("missing required fields")

// MethodScheduled marks entries written by the scheduling engine.
const MethodScheduled = "scheduled"

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type Entry struct {
	PCName    string `json:"pcName"`
	Action    string `json:"action"`
	Method    string `json:"method"`
	Timestamp string `json:"timestamp"`
}

type document struct {
	Actions []Entry `json:"actions"`
}

// LimitSource supplies the maximum number of entries kept.
type LimitSource interface {
	ActionLogLimit(ctx context.Context) int
}

type Log struct {
	kv     storage.KV
	limits LimitSource
	clock  clock.Clock
	log    logx.Logger
}

func New(kv storage.KV, limits LimitSource, clk clock.Clock, log logx.Logger) *Log {
	if clk == nil {
		clk = clock.Real()
	}
	return &Log{kv: kv, limits: limits, clock: clk, log: log.With(logx.String("comp", "actionlog"))}
}

func (l *Log) decode(raw []byte, ok bool) []Entry {
	if !ok || len(raw) == 0 {
		return []Entry{}
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		l.log.Warn("action log corrupt; starting fresh", logx.Err(err))
		return []Entry{}
	}
	if doc.Actions == nil {
		return []Entry{}
	}
	return doc.Actions
}

// Append stamps e, puts it at the front and trims the log to the configured
// limit. Method defaults to "unknown".
func (l *Log) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.PCName == "" || e.Action == "" {
		return Entry{}, ErrMissingFields
	}
	if e.Method == "" {
		e.Method = "unknown"
	}
	e.Timestamp = l.clock.Now().Format(timestampLayout)

	limit := -1
	if l.limits != nil {
		limit = l.limits.ActionLogLimit(ctx)
	}
	err := l.kv.Update(ctx, storage.KeyActionLog, func(cur []byte, ok bool) ([]byte, error) {
		list := append([]Entry{e}, l.decode(cur, ok)...)
		if limit >= 0 && len(list) > limit {
			list = list[:limit]
		}
		return json.MarshalIndent(document{Actions: list}, "", "  ")
	})
	if err != nil {
		return Entry{}, fmt.Errorf("append action: %w", err)
	}
	return e, nil
}

// List returns all entries, newest first.
func (l *Log) List(ctx context.Context) ([]Entry, error) {
	raw, ok, err := l.kv.Get(ctx, storage.KeyActionLog)
	if err != nil {
		return []Entry{}, fmt.Errorf("load actions: %w", err)
	}
	return l.decode(raw, ok), nil
}

func (l *Log) Clear(ctx context.Context) error {
	b, _ := json.Marshal(document{Actions: []Entry{}})
	if err := l.kv.Put(ctx, storage.KeyActionLog, b); err != nil {
		return fmt.Errorf("clear actions: %w", err)
	}
	return nil
}

// Time parses an entry timestamp.
func (e Entry) Time() (time.Time, error) { return time.Parse(timestampLayout, e.Timestamp) }
