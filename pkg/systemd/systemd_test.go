package systemd

import (
	"context"
	"testing"
)

func TestNoopWithoutNotifySocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	if sent, err := Ready(); sent || err != nil {
		t.Fatalf("Ready = %v, %v; want false, nil", sent, err)
	}
	if sent, err := Status("%d schedules", 3); sent || err != nil {
		t.Fatalf("Status = %v, %v; want false, nil", sent, err)
	}
	if err := Watchdog(context.Background()); err != nil {
		t.Fatalf("Watchdog: %v", err)
	}
}
