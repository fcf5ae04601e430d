package uptime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvmdash/internal/dashboard"
	"kvmdash/internal/device"
	"kvmdash/internal/storage"
	logx "kvmdash/pkg/logx"
)

type fixedHW struct{ n int }

func (f fixedHW) Hardware(context.Context) (dashboard.Hardware, error) {
	return dashboard.Hardware{PCCount: f.n}, nil
}

type fakeSwitch struct {
	leds []bool
	err  error
}

func (f *fakeSwitch) Switch(context.Context) (device.SwitchStatus, error) {
	var s device.SwitchStatus
	s.Result.ATX.LEDs.Power = f.leds
	return s, f.err
}

func newTracker(t *testing.T, n int) (*Tracker, *fakeSwitch, *clockwork.FakeClock, storage.KV) {
	t.Helper()
	kv, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	sw := &fakeSwitch{}
	clk := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	return New(kv, fixedHW{n}, sw, clk, logx.Nop()), sw, clk, kv
}

func TestRefreshAccumulatesSessions(t *testing.T) {
	ctx := context.Background()
	tr, sw, clk, _ := newTracker(t, 2)
	start := float64(clk.Now().Unix())

	sw.leds = []bool{true, false}
	snap, err := tr.Refresh(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap["0"].BootTime)
	assert.Equal(t, start, *snap["0"].BootTime)
	assert.Nil(t, snap["1"].BootTime)

	clk.Advance(90 * time.Second)
	snap, err = tr.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(90), snap["0"].CurrentUptime)

	clk.Advance(30 * time.Second)
	sw.leds = []bool{false, false}
	snap, err = tr.Refresh(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap["0"].BootTime)
	assert.Equal(t, int64(0), snap["0"].CurrentUptime)
	// the session ends at the last on-sample
	assert.InDelta(t, 90, snap["0"].TotalUptime, 0.001)
}

func TestRefreshWithoutSwitchReturnsStored(t *testing.T) {
	ctx := context.Background()
	tr, sw, _, kv := newTracker(t, 3)
	sw.err = errors.New("unreachable")

	snap, err := tr.Refresh(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 3)
	_, ok, _ := kv.Get(ctx, storage.KeyUptime)
	assert.False(t, ok, "nothing should be written without a sample")
}

func TestRefreshShortLEDArrayMeansOff(t *testing.T) {
	tr, sw, _, _ := newTracker(t, 2)
	sw.leds = []bool{true}
	snap, err := tr.Refresh(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, snap["0"].BootTime)
	assert.Nil(t, snap["1"].BootTime)
	assert.NotNil(t, snap["1"].LastCheck)
}
