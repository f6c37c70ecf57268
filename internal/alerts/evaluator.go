package alerts

import (
	"context"
	"sync/atomic"
	"time"

	"lendwatch/internal/clock"
	"lendwatch/internal/eventbus"
	"lendwatch/internal/library"
	logx "lendwatch/pkg/logx"
)

// Notifier is the gateway capability evaluators send through.
type Notifier interface {
	TrySendText(ctx context.Context, userID, text string) (delivered bool, err error)
}

// Ledger is the read side of the lending state evaluators scan.
type Ledger interface {
	Loans() []library.Loan
	Statuses() []library.Status
}

// Catalog resolves resource capabilities.
type Catalog interface {
	Get(id string) (library.Resource, error)
}

// PassResult summarises one evaluator run; published as alerts.pass_finished.
type PassResult struct {
	Evaluator  string
	Scanned    int
	Notified   int // reached the sink
	Suppressed int // skipped by user preference
	Offered    int
	Failed     int
	Duration   time.Duration
}

type deps struct {
	ledger  Ledger
	notify  Notifier
	offers  *OfferBook
	clock   clock.Clock
	loc     atomic.Pointer[time.Location]
	bus     eventbus.Bus
	log     logx.Logger
	catalog Catalog
}

type EvaluatorOption func(*deps)

func WithClock(c clock.Clock) EvaluatorOption  { return func(d *deps) { d.clock = c } }
func WithBus(b eventbus.Bus) EvaluatorOption   { return func(d *deps) { d.bus = b } }
func WithLogger(l logx.Logger) EvaluatorOption { return func(d *deps) { d.log = l } }

// WithLocation sets the timezone calendar days are taken in.
func WithLocation(loc *time.Location) EvaluatorOption {
	return func(d *deps) {
		if loc != nil {
			d.loc.Store(loc)
		}
	}
}

func newDeps(ledger Ledger, notify Notifier, offers *OfferBook, opts []EvaluatorOption) *deps {
	d := &deps{ledger: ledger, notify: notify, offers: offers}
	for _, o := range opts {
		o(d)
	}
	if d.clock == nil {
		d.clock = clock.NewSystem()
	}
	if d.loc.Load() == nil {
		d.loc.Store(time.Local)
	}
	if d.bus == nil {
		d.bus = eventbus.Nop()
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	return d
}

// SetLocation changes the timezone used for day boundaries.
func (d *deps) SetLocation(loc *time.Location) {
	if loc != nil {
		d.loc.Store(loc)
	}
}

func (d *deps) location() *time.Location { return d.loc.Load() }

func (d *deps) finish(res PassResult, started time.Time) {
	res.Duration = time.Since(started)
	d.bus.Publish(eventbus.Event{Type: eventbus.TypePassFinished, Time: d.clock.Now(), Data: res})
	d.log.Debug("pass finished",
		logx.Int("scanned", res.Scanned),
		logx.Int("notified", res.Notified),
		logx.Int("suppressed", res.Suppressed),
		logx.Int("offered", res.Offered),
		logx.Int("failed", res.Failed),
		logx.Duration("took", res.Duration),
	)
}

// DaysUntil returns the number of calendar days from now to due, both taken
// as dates in loc. Negative means due is in the past.
func DaysUntil(now, due time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.Local
	}
	return int(civilDay(due.In(loc)).Sub(civilDay(now.In(loc))) / (24 * time.Hour))
}

// civilDay maps t's calendar date onto UTC midnight so that day arithmetic
// is unaffected by DST transitions in t's zone.
func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
