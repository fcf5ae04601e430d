package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvmdash/internal/actionlog"
	"kvmdash/internal/clock"
	"kvmdash/internal/dashboard"
	"kvmdash/internal/device"
	"kvmdash/internal/schedule"
	"kvmdash/internal/storage"
	logx "kvmdash/pkg/logx"
)

type harness struct {
	exec *Executor
	docs *dashboard.Documents
	log  *actionlog.Log

	mu    sync.Mutex
	calls []string
}

func newHarness(t *testing.T, status int) *harness {
	t.Helper()
	h := &harness{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.calls = append(h.calls, r.URL.Path+"?"+r.URL.RawQuery)
		h.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	kv, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	h.docs = dashboard.New(kv, logx.Nop())
	h.log = actionlog.New(kv, h.docs, clock.Real(), logx.Nop())
	dev := device.New(device.Config{BaseURL: srv.URL}, logx.Nop(), nil)
	h.exec = New(dev, h.docs, h.log, logx.Nop())
	return h
}

func (h *harness) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func TestExecuteRoutesByHardwareMode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, http.StatusOK)

	req := Request{PCName: "PC 2", Port: 1, Action: schedule.ActionOff, Kind: Scheduled}
	require.NoError(t, h.exec.Execute(ctx, req))

	// hasSwitch is read fresh on every call.
	_, err := h.docs.SaveConfig(ctx, map[string]any{"hardware": map[string]any{"hasSwitch": true}})
	require.NoError(t, err)
	require.NoError(t, h.exec.Execute(ctx, req))

	assert.Equal(t, []string{
		"/api/atx/click?button=power",
		"/api/switch/atx/click?button=power&port=1",
	}, h.recorded())
}

func TestExecuteKeyboardUsesChord(t *testing.T) {
	h := newHarness(t, http.StatusOK)
	req := Request{PCName: "PC 1", Action: schedule.ActionKeyboard, Shortcut: "alt-f4", Kind: Recurring}
	require.NoError(t, h.exec.Execute(context.Background(), req))

	got := h.recorded()
	require.Len(t, got, 1)
	assert.Equal(t, "/api/hid/print?limit=0&text=AltLeft%2BF4", got[0])

	entries, err := h.log.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Recurring alt-f4", entries[0].Action)
}

func TestExecuteLogsEvenWhenDeviceFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, http.StatusInternalServerError)

	err := h.exec.Execute(ctx, Request{PCName: "PC 1", Action: schedule.ActionReset, Kind: FollowUp})
	require.ErrorIs(t, err, device.ErrStatus)

	entries, err := h.log.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, actionlog.Entry{
		PCName:    "PC 1",
		Action:    "Follow-up reset",
		Method:    actionlog.MethodScheduled,
		Timestamp: entries[0].Timestamp,
	}, entries[0])
}

func TestRequestBuilders(t *testing.T) {
	s := schedule.Schedule{PCName: "PC 1", Port: 3, Action: schedule.ActionOn, IsRecurring: true}
	assert.Equal(t, "Recurring on", Primary(s).Description())
	s.IsRecurring = false
	assert.Equal(t, "Scheduled on", Primary(s).Description())

	f := schedule.FollowUp{Action: schedule.ActionKeyboard, KeyboardShortcut: "win-r"}
	r := Step(s, f, Secondary)
	assert.Equal(t, 3, r.Port)
	assert.Equal(t, "Secondary win-r", r.Description())
}
