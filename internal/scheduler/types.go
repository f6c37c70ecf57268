package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultWorkers     = 2
	DefaultHistorySize = 200
	queueSize          = 64
)

// Config controls the scheduler service.
type Config struct {
	Enabled        bool
	Workers        int
	DefaultTimeout time.Duration
	HistorySize    int
	Timezone       string // IANA TZ, e.g. "Europe/Madrid"; empty means local
	RunOnStart     bool   // enqueue every job once right after Start
}

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

// TaskEvent is published on the bus for task outcomes.
type TaskEvent struct {
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type task struct {
	def *scheduleDef
}

type scheduleDef struct {
	name    string
	spec    string // cron spec or @every
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	running atomic.Bool
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Running bool
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Workers   int
	QueueLen  int
	Skipped   uint64
	Dropped   uint64
	Schedules []ScheduleInfo
	History   []HistoryItem
}
