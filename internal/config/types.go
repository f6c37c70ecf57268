package config

// Config is the on-disk configuration. JSON, YAML and TOML files decode into
// the same structure (see decode.go).
//
// Durations are Go duration strings ("500ms", "1h") or whole days ("14d").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Lending   LendingConfig   `json:"lending,omitempty"`
	Notifier  NotifierConfig  `json:"notifier,omitempty"`
	Offers    OffersConfig    `json:"offers,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Catalog   CatalogConfig   `json:"catalog,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the periodic alert pass.
//
// Enabled and RunOnStart are pointers so an omitted field keeps its default
// (true) while an explicit false is honored.
//
// Defaults:
//   - enabled: true
//   - interval: "1h"
//   - workers: 2
//   - run_on_start: true
//   - task_timeout: "0s" (disabled)
//   - history_size: 200
type SchedulerConfig struct {
	Enabled *bool `json:"enabled,omitempty"`

	// Interval accepts a duration ("1h"), an "HH:MM" interval ("01:30"),
	// a cron spec ("0 */1 * * *") or a descriptor ("@hourly").
	Interval    string `json:"interval,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Workers     int    `json:"workers,omitempty"`
	RunOnStart  *bool  `json:"run_on_start,omitempty"`
	TaskTimeout string `json:"task_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

func (s SchedulerConfig) RunsOnStart() bool { return s.RunOnStart == nil || *s.RunOnStart }

type LendingConfig struct {
	// LoanPeriod defaults to 14 days.
	LoanPeriod string `json:"loan_period,omitempty"`
}

// NotifierConfig selects the delivery sink.
//
// Sinks: console (default), email, sms, log, telegram.
type NotifierConfig struct {
	Sink        string             `json:"sink,omitempty"`
	SendTimeout string             `json:"send_timeout,omitempty"`
	Telegram    NotifierTelegram   `json:"telegram,omitempty"`
	Preferences []PreferenceConfig `json:"preferences,omitempty"`
}

type NotifierTelegram struct {
	Token string `json:"token,omitempty"` // do not log
}

// PreferenceConfig seeds a per-user level toggle, e.g.
//
//	{ "user": "u1", "level": "INFO", "enabled": false }
type PreferenceConfig struct {
	User    string `json:"user"`
	Level   string `json:"level"`
	Enabled bool   `json:"enabled"`
}

// OffersConfig controls how renew/lend offers raised by the alert pass are resolved.
//
// Policies: manual (default), accept, decline.
type OffersConfig struct {
	Policy string `json:"policy,omitempty"`
	TTL    string `json:"ttl,omitempty"`
}

// StorageConfig controls the optional notification journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./lendwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// CatalogConfig seeds the in-memory registry and user directory at startup.
type CatalogConfig struct {
	Resources []ResourceSeed `json:"resources,omitempty"`
	Users     []UserSeed     `json:"users,omitempty"`
}

// ResourceSeed describes one catalog item. Kind is book, audiobook or
// magazine; any other kind uses Category plus the explicit capability flags.
type ResourceSeed struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Kind      string `json:"kind,omitempty"`
	Category  string `json:"category,omitempty"`
	Loanable  bool   `json:"loanable,omitempty"`
	Renewable bool   `json:"renewable,omitempty"`
}

type UserSeed struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	TelegramChatID int64  `json:"telegram_chat_id,omitempty"`
}
