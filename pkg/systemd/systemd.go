// Package systemd reports service state to systemd (Type=notify units).
// Every call is a no-op when the process was not started by systemd.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "campaignbot/pkg/logx"
)

type Notifier struct {
	log logx.Logger
}

func NewNotifier(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{log: log.With(logx.String("comp", "systemd"))}
}

func (n *Notifier) send(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n *Notifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }
func (n *Notifier) Reloading() {
	n.send(daemon.SdNotifyReloading)
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) {
	n.send("STATUS=" + fmt.Sprintf(format, args...))
}

// Watchdog pings systemd at half the configured WatchdogSec until ctx is
// done. It returns immediately when the watchdog is not enabled.
func (n *Notifier) Watchdog(ctx context.Context) error {
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
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
