package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate performs the structural checks that do not need any runtime
// component: bounds, duration strings, timezone and seed uniqueness.
// The app layers component-specific checks (sink kind, offer policy,
// schedule syntax) on top of this.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	sc := cfg.Scheduler
	if sc.Workers < 0 {
		add(fmt.Errorf("scheduler.workers must be >= 0"))
	}
	if sc.HistorySize < 0 {
		add(fmt.Errorf("scheduler.history_size must be >= 0"))
	}
	_, err := ParseDurationField("scheduler.task_timeout", sc.TaskTimeout)
	add(err)
	if tz := strings.TrimSpace(sc.Timezone); tz != "" && !strings.EqualFold(tz, "local") {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}

	_, err = ParseDurationField("lending.loan_period", cfg.Lending.LoanPeriod)
	add(err)
	_, err = ParseDurationField("notifier.send_timeout", cfg.Notifier.SendTimeout)
	add(err)
	for i, p := range cfg.Notifier.Preferences {
		if strings.TrimSpace(p.User) == "" {
			add(fmt.Errorf("notifier.preferences[%d].user is required", i))
		}
	}
	_, err = ParseDurationField("offers.ttl", cfg.Offers.TTL)
	add(err)
	if cfg.Storage != nil {
		_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		add(err)
	}

	seen := make(map[string]struct{}, len(cfg.Catalog.Resources))
	for i, r := range cfg.Catalog.Resources {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			add(fmt.Errorf("catalog.resources[%d].id is required", i))
			continue
		}
		if _, dup := seen[id]; dup {
			add(fmt.Errorf("catalog.resources[%d]: duplicate id %q", i, id))
		}
		seen[id] = struct{}{}
	}
	seen = make(map[string]struct{}, len(cfg.Catalog.Users))
	for i, u := range cfg.Catalog.Users {
		id := strings.TrimSpace(u.ID)
		if id == "" {
			add(fmt.Errorf("catalog.users[%d].id is required", i))
			continue
		}
		if _, dup := seen[id]; dup {
			add(fmt.Errorf("catalog.users[%d]: duplicate id %q", i, id))
		}
		seen[id] = struct{}{}
	}
	return errors.Join(errs...)
}
