package library

import (
	"context"
	"fmt"
	"sort"
	"time"

	"lendwatch/internal/clock"
	"lendwatch/internal/eventbus"
	"lendwatch/internal/users"
	logx "lendwatch/pkg/logx"
)

// UserLookup is the user directory capability the ledger needs.
type UserLookup interface {
	Exists(id string) bool
}

// Ledger enforces the lending rules on top of a Registry.
//
// It is safe for concurrent use.
type Ledger struct {
	reg    *Registry
	clock  clock.Clock
	period time.Duration
	users  UserLookup
	bus    eventbus.Bus
	log    logx.Logger
}

type Option func(*Ledger)

// WithLoanPeriod overrides DefaultLoanPeriod.
func WithLoanPeriod(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.period = d
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(l *Ledger) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithUsers makes every operation reject unknown user ids.
func WithUsers(u UserLookup) Option {
	return func(l *Ledger) { l.users = u }
}

func WithBus(b eventbus.Bus) Option {
	return func(l *Ledger) {
		if b != nil {
			l.bus = b
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(l *Ledger) {
		if !log.IsZero() {
			l.log = log
		}
	}
}

func NewLedger(reg *Registry, opts ...Option) *Ledger {
	l := &Ledger{
		reg:    reg,
		clock:  clock.NewSystem(),
		period: DefaultLoanPeriod,
		bus:    eventbus.Nop(),
		log:    logx.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) LoanPeriod() time.Duration { return l.period }

// mutate runs fn with the resource's record locked and re-derives its state.
func (l *Ledger) mutate(ctx context.Context, id, userID string, fn func(rec *record, now time.Time) error) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if userID != "" && l.users != nil && !l.users.Exists(userID) {
		return fmt.Errorf("%w: %q", users.ErrUserNotFound, userID)
	}
	rec, err := l.reg.record(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := fn(rec, l.clock.Now()); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	rec.settle()
	return nil
}

func (l *Ledger) newLoan(id, userID string, now time.Time) Loan {
	return Loan{ResourceID: id, BorrowerID: userID, StartedAt: now, DueAt: now.Add(l.period)}
}

// Lend creates a loan for userID. The resource must be loanable and AVAILABLE,
// or RESERVED with userID at the head of its queue; in that case the head
// reservation is consumed as part of the same operation.
func (l *Ledger) Lend(ctx context.Context, id, userID string) (Loan, error) {
	var loan Loan
	err := l.mutate(ctx, id, userID, func(rec *record, now time.Time) error {
		if !rec.res.Loanable() {
			return ErrNotLoanable
		}
		switch rec.res.State {
		case StateLoaned:
			return ErrNotAvailable
		case StateReserved:
			if len(rec.queue) == 0 || rec.queue[0].UserID != userID {
				return ErrReservedForOther
			}
			rec.queue[0] = Reservation{}
			rec.queue = rec.queue[1:]
		}
		loan = l.newLoan(id, userID, now)
		rec.loan = &loan
		return nil
	})
	if err != nil {
		return Loan{}, err
	}
	l.publish(eventbus.TypeLoanLent, loan)
	l.log.Debug("loan created", logx.String("resource", id), logx.String("user", userID), logx.Time("due", loan.DueAt))
	return loan, nil
}

// Return closes the active loan. The resource moves to RESERVED when
// someone is queued for it, otherwise to AVAILABLE.
func (l *Ledger) Return(ctx context.Context, id string) (Loan, error) {
	var loan Loan
	err := l.mutate(ctx, id, "", func(rec *record, _ time.Time) error {
		if rec.loan == nil {
			return ErrNotLoaned
		}
		loan = *rec.loan
		rec.loan = nil
		return nil
	})
	if err != nil {
		return Loan{}, err
	}
	l.publish(eventbus.TypeLoanReturned, loan)
	l.log.Debug("loan returned", logx.String("resource", id), logx.String("user", loan.BorrowerID))
	return loan, nil
}

// Reserve queues userID for a loanable resource that is not AVAILABLE.
func (l *Ledger) Reserve(ctx context.Context, id, userID string) (Reservation, error) {
	var res Reservation
	err := l.mutate(ctx, id, userID, func(rec *record, now time.Time) error {
		if !rec.res.Loanable() {
			return ErrNotReservable
		}
		if rec.res.State == StateAvailable {
			return ErrReserveAvailable
		}
		res = Reservation{ResourceID: id, UserID: userID, RequestedAt: now}
		rec.queue = append(rec.queue, res)
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	l.publish(eventbus.TypeReservationAdded, res)
	l.log.Debug("reservation added", logx.String("resource", id), logx.String("user", userID))
	return res, nil
}

// Renew replaces the borrower's loan with a fresh one due a full loan
// period from now. The renewal counter carries over.
func (l *Ledger) Renew(ctx context.Context, id, userID string) (Loan, error) {
	var loan Loan
	err := l.mutate(ctx, id, userID, func(rec *record, now time.Time) error {
		if !rec.res.Renewable() {
			return ErrNotRenewable
		}
		if rec.loan == nil || rec.loan.BorrowerID != userID {
			return ErrNotBorrower
		}
		loan = l.newLoan(id, userID, now)
		loan.Renewals = rec.loan.Renewals + 1
		rec.loan = &loan
		return nil
	})
	if err != nil {
		return Loan{}, err
	}
	l.publish(eventbus.TypeLoanRenewed, loan)
	l.log.Debug("loan renewed", logx.String("resource", id), logx.String("user", userID), logx.Int("renewals", loan.Renewals))
	return loan, nil
}

// CancelReservation drops userID's earliest reservation for the resource.
func (l *Ledger) CancelReservation(ctx context.Context, id, userID string) error {
	var res Reservation
	err := l.mutate(ctx, id, userID, func(rec *record, _ time.Time) error {
		for i, r := range rec.queue {
			if r.UserID == userID {
				res = r
				rec.queue = append(rec.queue[:i:i], rec.queue[i+1:]...)
				return nil
			}
		}
		return ErrNoReservation
	})
	if err != nil {
		return err
	}
	l.publish(eventbus.TypeReservationCanceled, res)
	return nil
}

// View returns a consistent snapshot of one resource and its lending data.
func (l *Ledger) View(id string) (Status, error) {
	rec, err := l.reg.record(id)
	if err != nil {
		return Status{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.status(), nil
}

func (l *Ledger) LoanOf(id string) (Loan, bool) {
	st, err := l.View(id)
	if err != nil || st.Loan == nil {
		return Loan{}, false
	}
	return *st.Loan, true
}

// ReservationsOf returns the queue in priority order; empty when none.
func (l *Ledger) ReservationsOf(id string) []Reservation {
	st, err := l.View(id)
	if err != nil {
		return []Reservation{}
	}
	return st.Queue
}

// Loans returns every active loan ordered by due date.
func (l *Ledger) Loans() []Loan {
	recs := l.reg.snapshotRecords()
	out := make([]Loan, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		if rec.loan != nil {
			out = append(out, *rec.loan)
		}
		rec.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out
}

// Statuses returns a per-resource view of the whole catalog, ordered by id.
// Each entry is consistent on its own; the set is not a global snapshot.
func (l *Ledger) Statuses() []Status {
	recs := l.reg.snapshotRecords()
	out := make([]Status, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.status())
		rec.mu.Unlock()
	}
	return out
}

func (l *Ledger) publish(typ string, data any) {
	l.bus.Publish(eventbus.Event{Type: typ, Time: l.clock.Now(), Data: data})
}
