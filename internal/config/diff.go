package config

import (
	"reflect"
	"strings"

	logx "lendwatch/pkg/logx"
)

// RestartRequired lists sections whose changes only take effect after a restart.
var RestartRequired = map[string]bool{"storage": true, "catalog": true, "lending": true}

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Secrets (telegram token, postgres dsn) are
// never included; only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 20)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oldS, newS := oldCfg.Scheduler, newCfg.Scheduler
	if oldS.IsEnabled() != newS.IsEnabled() ||
		oldS.RunsOnStart() != newS.RunsOnStart() ||
		strings.TrimSpace(oldS.Interval) != strings.TrimSpace(newS.Interval) ||
		strings.TrimSpace(oldS.Timezone) != strings.TrimSpace(newS.Timezone) ||
		strings.TrimSpace(oldS.TaskTimeout) != strings.TrimSpace(newS.TaskTimeout) ||
		oldS.Workers != newS.Workers ||
		oldS.HistorySize != newS.HistorySize {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newS.IsEnabled()),
			logx.String("scheduler.interval", strings.TrimSpace(newS.Interval)),
			logx.String("scheduler.timezone", strings.TrimSpace(newS.Timezone)),
			logx.Int("scheduler.workers", newS.Workers),
		)
	}

	if strings.TrimSpace(oldCfg.Lending.LoanPeriod) != strings.TrimSpace(newCfg.Lending.LoanPeriod) {
		changed = append(changed, "lending")
		attrs = append(attrs, logx.String("lending.loan_period", strings.TrimSpace(newCfg.Lending.LoanPeriod)))
	}

	on, nn := oldCfg.Notifier, newCfg.Notifier
	if strings.TrimSpace(on.Sink) != strings.TrimSpace(nn.Sink) ||
		strings.TrimSpace(on.SendTimeout) != strings.TrimSpace(nn.SendTimeout) ||
		on.Telegram.Token != nn.Telegram.Token ||
		!reflect.DeepEqual(on.Preferences, nn.Preferences) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.String("notifier.sink", strings.TrimSpace(nn.Sink)),
			logx.String("notifier.send_timeout", strings.TrimSpace(nn.SendTimeout)),
			logx.Bool("notifier.telegram_token_set", strings.TrimSpace(nn.Telegram.Token) != ""),
			logx.Int("notifier.preferences", len(nn.Preferences)),
		)
	}

	if oldCfg.Offers != newCfg.Offers {
		changed = append(changed, "offers")
		attrs = append(attrs,
			logx.String("offers.policy", strings.TrimSpace(newCfg.Offers.Policy)),
			logx.String("offers.ttl", strings.TrimSpace(newCfg.Offers.TTL)),
		)
	}

	ost, nst := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if ost != nst {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nst.Driver)),
			logx.String("storage.path", strings.TrimSpace(nst.Path)),
			logx.Bool("storage.dsn_set", strings.TrimSpace(nst.DSN) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Catalog, newCfg.Catalog) {
		changed = append(changed, "catalog")
		attrs = append(attrs,
			logx.Int("catalog.resources", len(newCfg.Catalog.Resources)),
			logx.Int("catalog.users", len(newCfg.Catalog.Users)),
		)
	}

	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
