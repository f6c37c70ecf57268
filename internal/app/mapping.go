package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"lendwatch/internal/alerts"
	"lendwatch/internal/config"
	"lendwatch/internal/library"
	"lendwatch/internal/notifier"
	"lendwatch/internal/scheduler"
	"lendwatch/internal/storage"
	logx "lendwatch/pkg/logx"
)

const (
	defaultInterval   = "1h"
	defaultSQLiteBusy = time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultSQLiteBusy)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, false, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: strings.TrimSpace(sc.DSN)}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// schedulerSettings is the scheduler config plus the job registration
// parameters that live outside scheduler.Config.
type schedulerSettings struct {
	cfg      scheduler.Config
	interval string
}

func mapSchedulerConfig(cfg *config.Config) (schedulerSettings, error) {
	sc := cfg.Scheduler
	timeout, err := config.ParseDurationField("scheduler.task_timeout", sc.TaskTimeout)
	if err != nil {
		return schedulerSettings{}, err
	}
	interval := strings.TrimSpace(sc.Interval)
	if interval == "" {
		interval = defaultInterval
	}
	if err := scheduler.ValidateSchedule(interval); err != nil {
		return schedulerSettings{}, fmt.Errorf("scheduler.interval: %w", err)
	}
	history := sc.HistorySize
	if history == 0 {
		history = scheduler.DefaultHistorySize
	}
	return schedulerSettings{
		cfg: scheduler.Config{
			Enabled:        sc.IsEnabled(),
			Workers:        sc.Workers,
			DefaultTimeout: timeout,
			HistorySize:    history,
			Timezone:       strings.TrimSpace(sc.Timezone),
			RunOnStart:     sc.RunsOnStart(),
		},
		interval: interval,
	}, nil
}

func mapLoanPeriod(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("lending.loan_period", cfg.Lending.LoanPeriod, library.DefaultLoanPeriod)
}

type notifierSettings struct {
	sink    notifier.SinkConfig
	timeout time.Duration
	prefs   []preference
}

type preference struct {
	user    string
	level   notifier.Level
	enabled bool
}

func mapNotifierConfig(cfg *config.Config, out io.Writer) (notifierSettings, error) {
	nc := cfg.Notifier
	timeout, err := config.ParseDurationOrDefault("notifier.send_timeout", nc.SendTimeout, notifier.DefaultSendTimeout)
	if err != nil {
		return notifierSettings{}, err
	}
	kind := strings.ToLower(strings.TrimSpace(nc.Sink))
	switch kind {
	case "", "console", "email", "sms", "log":
	case "telegram":
		if strings.TrimSpace(nc.Telegram.Token) == "" {
			return notifierSettings{}, fmt.Errorf("notifier.telegram.token is required when notifier.sink=telegram")
		}
	default:
		return notifierSettings{}, fmt.Errorf("unknown notifier.sink: %s", nc.Sink)
	}
	prefs := make([]preference, 0, len(nc.Preferences))
	for i, p := range nc.Preferences {
		lvl, err := notifier.ParseLevel(p.Level)
		if err != nil {
			return notifierSettings{}, fmt.Errorf("notifier.preferences[%d].level: %w", i, err)
		}
		prefs = append(prefs, preference{user: strings.TrimSpace(p.User), level: lvl, enabled: p.Enabled})
	}
	return notifierSettings{
		sink:    notifier.SinkConfig{Kind: kind, TelegramToken: strings.TrimSpace(nc.Telegram.Token), Output: out},
		timeout: timeout,
		prefs:   prefs,
	}, nil
}

type offerSettings struct {
	policy alerts.Policy
	ttl    time.Duration
}

func mapOfferConfig(cfg *config.Config) (offerSettings, error) {
	policy, err := alerts.ParsePolicy(cfg.Offers.Policy)
	if err != nil {
		return offerSettings{}, fmt.Errorf("offers.policy: %w", err)
	}
	ttl, err := config.ParseDurationOrDefault("offers.ttl", cfg.Offers.TTL, alerts.DefaultOfferTTL)
	if err != nil {
		return offerSettings{}, err
	}
	return offerSettings{policy: policy, ttl: ttl}, nil
}

// validateConfig runs the structural checks plus every component mapping,
// so a config that passes can be applied without partial failure.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	var errs []error
	if _, err := mapSchedulerConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapLoanPeriod(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapNotifierConfig(cfg, nil); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapOfferConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := seedResources(cfg.Catalog.Resources); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
