package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"lendwatch/internal/alerts"
	"lendwatch/internal/clock"
	"lendwatch/internal/config"
	"lendwatch/internal/eventbus"
	"lendwatch/internal/library"
	"lendwatch/internal/notifier"
	"lendwatch/internal/runtime/supervisor"
	"lendwatch/internal/scheduler"
	"lendwatch/internal/storage"
	"lendwatch/internal/users"
	logx "lendwatch/pkg/logx"
)

// Job names registered with the scheduler.
const (
	JobDueDate      = "due-date"
	JobAvailability = "availability"
	JobPruneOffers  = "offers.prune"
)

// App wires the lending core, the notification pipeline and the alert
// scheduler together and owns their lifecycle.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	base  logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	clock clock.Clock
	out   io.Writer

	registry *library.Registry
	ledger   *library.Ledger
	users    *users.Directory
	prefs    *notifier.Preferences
	history  *notifier.History
	gateway  *notifier.Gateway

	offers       *alerts.OfferBook
	responder    *alerts.Responder
	dueDate      *alerts.DueDate
	availability *alerts.Availability
	sched        *scheduler.Service

	mu      sync.Mutex
	applied *config.Config
	// manual is set when passes are driven by RunPass instead of the scheduler.
	manual bool
}

type options struct {
	clock clock.Clock
	out   io.Writer
}

type Option func(*options)

// WithClock replaces the wall clock used by the ledger, gateway and evaluators.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithOutput redirects console/email/sms sinks (default stdout).
func WithOutput(w io.Writer) Option { return func(o *options) { o.out = w } }

// New loads cfgPath and builds the app. The file is watched for changes
// once the app is started.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	a, err := build(cfg, opts)
	if err != nil {
		return nil, err
	}
	a.cfgm = cfgm
	return a, nil
}

// NewFromConfig builds the app from an in-memory config. Hot reload is
// not available; use Reload to apply a new config.
func NewFromConfig(cfg *config.Config, opts ...Option) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return build(cfg, opts)
}

func build(cfg *config.Config, opts []Option) (*App, error) {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.clock == nil {
		o.clock = clock.NewSystem()
	}
	if err := validateConfig(context.Background(), cfg); err != nil {
		return nil, err
	}

	logSvc, base := logx.New(mapLogConfig(cfg))
	log := base.With(logx.String("comp", "app"))
	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(context.Background(), sc, base.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}
	closeStore := func() {
		if store != nil {
			_ = store.Close()
		}
	}

	period, _ := mapLoanPeriod(cfg)
	ns, _ := mapNotifierConfig(cfg, o.out)
	ofs, _ := mapOfferConfig(cfg)
	ss, _ := mapSchedulerConfig(cfg)

	reg := library.NewRegistry()
	dir := users.NewDirectory()
	if err := seedCatalog(reg, dir, cfg.Catalog); err != nil {
		closeStore()
		return nil, err
	}
	ledger := library.NewLedger(reg,
		library.WithLoanPeriod(period),
		library.WithClock(o.clock),
		library.WithUsers(dir),
		library.WithBus(bus),
		library.WithLogger(base.With(logx.String("comp", "ledger"))),
	)

	sink, err := notifier.NewSink(ns.sink, base)
	if err != nil {
		closeStore()
		return nil, err
	}
	prefs := notifier.NewPreferences()
	for _, p := range ns.prefs {
		prefs.Set(p.user, p.level, p.enabled)
	}
	history := notifier.NewHistory(
		notifier.WithStore(store),
		notifier.WithHistoryLogger(base.With(logx.String("comp", "history"))),
	)
	gateway := notifier.NewGateway(dir, sink,
		notifier.WithPreferences(prefs),
		notifier.WithHistory(history),
		notifier.WithClock(o.clock),
		notifier.WithBus(bus),
		notifier.WithLogger(base.With(logx.String("comp", "notifier"))),
		notifier.WithSendTimeout(ns.timeout),
	)

	offers := alerts.NewOfferBook(ledger,
		alerts.WithTTL(ofs.ttl),
		alerts.WithOfferClock(o.clock),
		alerts.WithOfferBus(bus),
		alerts.WithOfferLogger(base.With(logx.String("comp", "offers"))),
	)
	responder := alerts.NewResponder(offers, bus, ofs.policy, base)

	sched := scheduler.New(ss.cfg, base, scheduler.WithBus(bus))
	evalOpts := []alerts.EvaluatorOption{
		alerts.WithClock(o.clock),
		alerts.WithBus(bus),
		alerts.WithLogger(base),
		alerts.WithLocation(sched.Location()),
	}

	a := &App{
		log:          log,
		base:         base,
		logs:         logSvc,
		bus:          bus,
		store:        store,
		clock:        o.clock,
		out:          o.out,
		registry:     reg,
		ledger:       ledger,
		users:        dir,
		prefs:        prefs,
		history:      history,
		gateway:      gateway,
		offers:       offers,
		responder:    responder,
		dueDate:      alerts.NewDueDate(ledger, reg, gateway, offers, evalOpts...),
		availability: alerts.NewAvailability(ledger, gateway, offers, evalOpts...),
		sched:        sched,
		applied:      cfg,
	}
	if err := a.registerJobs(ss); err != nil {
		closeStore()
		return nil, err
	}
	log.Info("app built",
		logx.Int("resources", reg.Len()),
		logx.Int("users", len(dir.List())),
		logx.String("sink", sink.Name()),
		logx.String("offer_policy", string(ofs.policy)),
	)
	return a, nil
}

// registerJobs (re)registers the evaluator passes; existing registrations
// with the same name are replaced.
func (a *App) registerJobs(ss schedulerSettings) error {
	timeout := ss.cfg.DefaultTimeout
	jobs := []struct {
		name string
		job  scheduler.Job
	}{
		{JobDueDate, a.dueDate.Run},
		{JobAvailability, a.availability.Run},
		{JobPruneOffers, a.pruneOffers},
	}
	for _, j := range jobs {
		if err := a.sched.AddSchedule(j.name, ss.interval, timeout, j.job); err != nil {
			return fmt.Errorf("register %s: %w", j.name, err)
		}
	}
	return nil
}

func (a *App) pruneOffers(context.Context) error {
	if n := a.offers.Prune(); n > 0 {
		a.log.Debug("offers pruned", logx.Int("count", n))
	}
	return nil
}

// RunPass runs both evaluators once, concurrently, outside the scheduler.
func (a *App) RunPass(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		errs [2]error
	)
	wg.Add(2)
	go func() { defer wg.Done(); errs[0] = a.dueDate.Run(ctx) }()
	go func() { defer wg.Done(); errs[1] = a.availability.Run(ctx) }()
	wg.Wait()
	_ = a.pruneOffers(ctx)
	return errors.Join(errs[:]...)
}

func (a *App) Registry() *library.Registry   { return a.registry }
func (a *App) Ledger() *library.Ledger       { return a.ledger }
func (a *App) Users() *users.Directory       { return a.users }
func (a *App) Gateway() *notifier.Gateway    { return a.gateway }
func (a *App) History() *notifier.History    { return a.history }
func (a *App) Offers() *alerts.OfferBook     { return a.offers }
func (a *App) Responder() *alerts.Responder  { return a.responder }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Bus() eventbus.Bus             { return a.bus }
func (a *App) Logger() logx.Logger           { return a.log }

// Config returns the last applied configuration.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applied
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

type startOptions struct {
	noScheduler bool
}

type StartOption func(*startOptions)

// WithoutScheduler starts everything except the alert scheduler, including
// after a reload that enables it. Passes then run only through RunPass.
func WithoutScheduler() StartOption {
	return func(o *startOptions) { o.noScheduler = true }
}

func (a *App) Start(ctx context.Context, opts ...StartOption) error {
	var so startOptions
	for _, fn := range opts {
		fn(&so)
	}
	a.mu.Lock()
	a.manual = so.noScheduler
	a.mu.Unlock()

	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.base.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	c := a.sup.Context()

	a.history.Start(c)
	a.sup.Go0("offers.responder", a.responder.Listen())
	if !so.noScheduler {
		if err := a.sched.Start(c); err != nil {
			a.sup.Cancel()
			return err
		}
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.base.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(validateConfig)
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	notifyReady(a.log)
	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)

	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("history", 2*time.Second, func(c context.Context) error { a.history.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped", logx.Any("events_dropped", a.bus.Dropped()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
