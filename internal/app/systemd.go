package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "lendwatch/pkg/logx"
)

// sd_notify is a no-op outside systemd (NOTIFY_SOCKET unset).

func notifyReady(log logx.Logger)     { sdNotify(log, daemon.SdNotifyReady) }
func notifyReloading(log logx.Logger) { sdNotify(log, daemon.SdNotifyReloading) }
func notifyStopping(log logx.Logger)  { sdNotify(log, daemon.SdNotifyStopping) }

func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
