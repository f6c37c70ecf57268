package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"lendwatch/internal/eventbus"
	logx "lendwatch/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []*scheduleDef

	queue     chan task
	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// failLog throttles WARN-level failure logs; the rest go to DEBUG.
	failLog *rate.Limiter
	skipped atomic.Uint64
	dropped atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

type Option func(*Service)

func WithBus(b eventbus.Bus) Option {
	return func(s *Service) {
		if b != nil {
			s.bus = b
		}
	}
}

// WithFailureLogLimit allows burst WARN failure logs, refilled every interval.
func WithFailureLogLimit(every time.Duration, burst int) Option {
	return func(s *Service) { s.failLog = rate.NewLimiter(rate.Every(every), burst) }
}

func New(cfg Config, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "scheduler")),
		bus:     eventbus.Nop(),
		parser:  specParser,
		failLog: rate.NewLimiter(rate.Every(time.Minute), 5),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil
}

// Location returns the effective timezone.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Apply swaps the configuration. A timezone change on a running scheduler
// restarts the cron clock with every registration kept; worker count changes
// take effect on the next Start.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return err
	}
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.stopCh == nil {
		s.loc = loc
		return nil
	}
	if oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked(loc)
	}
	return nil
}

// AddSchedule registers job under name, replacing any job with that name.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	return s.add(name, ps.CronSpec(), timeout, job)
}

func (s *Service) AddInterval(name string, every, timeout time.Duration, job Job) error {
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	return s.add(name, "@every "+every.String(), timeout, job)
}

func (s *Service) add(name, spec string, timeout time.Duration, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &scheduleDef{name: name, spec: spec, timeout: timeout, job: job}
	s.defs = append(s.defs, d)
	if s.c != nil {
		if err := s.addCronLocked(d); err != nil {
			return err
		}
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout))
	return nil
}

// Remove unregisters name. It reports whether a job was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

// RunNow enqueues name outside its schedule, subject to the overlap rule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	var def *scheduleDef
	for _, d := range s.defs {
		if d.name == name {
			def = d
			break
		}
	}
	s.mu.Unlock()
	if def == nil {
		return fmt.Errorf("schedule %q not found", name)
	}
	if !s.Running() {
		return errors.New("scheduler not running")
	}
	s.trigger(def)
	return nil
}

// Start launches the worker pool and the cron clock. It is a no-op when the
// scheduler is disabled or already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return nil
	}
	if s.stopCh != nil {
		return nil
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	// Fresh queue per run so a stop/start toggle never executes stale work.
	s.queue = make(chan task, queueSize)

	runCtx, stopCh, queue := s.runCtx, s.stopCh, s.queue
	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			s.worker(runCtx, stopCh, queue, idx)
		}()
	}

	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("workers", workers), logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))

	if s.cfg.RunOnStart {
		for _, d := range s.defs {
			s.enqueueLocked(d)
		}
	}
	return nil
}

// Stop halts future ticks, lets in-flight jobs finish until ctx is done,
// then cancels whatever is still running.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh, cancel, c := s.stopCh, s.runCancel, s.c
	s.stopCh, s.runCancel, s.c, s.queue = nil, nil, nil, nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop deadline reached; canceling running jobs")
	}
	cancel()
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	eid, err := s.c.AddFunc(d.spec, func() { s.trigger(d) })
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func (s *Service) restartLocked(loc *time.Location) {
	if s.c != nil {
		// Not waiting on Done: an in-flight tick needs s.mu to enqueue.
		s.c.Stop()
	}
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, d := range s.defs {
		_ = s.addCronLocked(d)
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone %q: %w", tz, err)
	}
	return loc, nil
}
