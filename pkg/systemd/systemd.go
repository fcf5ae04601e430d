// Package systemd reports service state to systemd over the notify socket.
// Every call is a no-op when the process is not run by systemd.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready tells systemd start-up finished (Type=notify units).
func Ready() (bool, error) { return notify(daemon.SdNotifyReady) }

// Stopping tells systemd shutdown has begun.
func Stopping() (bool, error) { return notify(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func Status(format string, args ...any) (bool, error) {
	return notify("STATUS=" + fmt.Sprintf(format, args...))
}

func notify(state string) (bool, error) {
	return daemon.SdNotify(false, state)
}

// Watchdog pings the systemd watchdog at half its configured interval until
// ctx ends. It returns immediately when WatchdogSec is not set.
func Watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := notify(daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
