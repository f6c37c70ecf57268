package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendwatch/internal/clock"
	"lendwatch/internal/eventbus"
	"lendwatch/internal/library"
	"lendwatch/internal/notifier"
	"lendwatch/internal/users"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type sentMessage struct {
	user  string
	level notifier.Level
	text  string
}

type recordingSink struct {
	mu     sync.Mutex
	sent   []sentMessage
	failOn map[string]error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, to users.User, msg notifier.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn[to.ID]; err != nil {
		return err
	}
	s.sent = append(s.sent, sentMessage{user: to.ID, level: msg.Level, text: msg.Text})
	return nil
}

func (s *recordingSink) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type fixture struct {
	clk     *clock.Manual
	bus     eventbus.Bus
	reg     *library.Registry
	ledger  *library.Ledger
	gateway *notifier.Gateway
	sink    *recordingSink
	offers  *OfferBook
	due     *DueDate
	avail   *Availability
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clk: clock.NewManual(t0), bus: eventbus.New(), sink: &recordingSink{failOn: map[string]error{}}}

	f.reg = library.NewRegistry()
	require.NoError(t, f.reg.Add(library.NewBook("b1", "The Pragmatic Programmer")))
	require.NoError(t, f.reg.Add(library.NewAudiobook("a1", "Dune (narrated)")))
	require.NoError(t, f.reg.Add(library.NewMagazine("m1", "Wired")))

	dir := users.NewDirectory()
	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, dir.Add(users.User{ID: id, Name: id}))
	}

	f.ledger = library.NewLedger(f.reg, library.WithClock(f.clk), library.WithUsers(dir), library.WithBus(f.bus))
	f.gateway = notifier.NewGateway(dir, f.sink, notifier.WithClock(f.clk), notifier.WithBus(f.bus))
	f.offers = NewOfferBook(f.ledger, WithOfferClock(f.clk), WithOfferBus(f.bus), WithTTL(time.Hour))

	opts := []EvaluatorOption{WithClock(f.clk), WithBus(f.bus), WithLocation(time.UTC)}
	f.due = NewDueDate(f.ledger, f.reg, f.gateway, f.offers, opts...)
	f.avail = NewAvailability(f.ledger, f.gateway, f.offers, opts...)
	return f
}

func (f *fixture) lend(t *testing.T, id, user string) {
	t.Helper()
	_, err := f.ledger.Lend(context.Background(), id, user)
	require.NoError(t, err)
}

func TestDaysUntil(t *testing.T) {
	t.Parallel()
	plus2 := time.FixedZone("UTC+2", 2*60*60)
	cases := []struct {
		name     string
		now, due time.Time
		loc      *time.Location
		want     int
	}{
		{"same instant", t0, t0, time.UTC, 0},
		{"later same day", t0, t0.Add(13 * time.Hour), time.UTC, 0},
		{"next day early", t0, time.Date(2026, 3, 3, 0, 5, 0, 0, time.UTC), time.UTC, 1},
		{"yesterday", t0, t0.Add(-24 * time.Hour), time.UTC, -1},
		{"two weeks", t0, t0.Add(14 * 24 * time.Hour), time.UTC, 14},
		{
			"zone moves both onto the same date",
			time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC),
			time.Date(2026, 3, 3, 0, 30, 0, 0, time.UTC),
			plus2, 0,
		},
		{
			"zone splits dates",
			time.Date(2026, 3, 2, 21, 30, 0, 0, time.UTC),
			time.Date(2026, 3, 2, 22, 30, 0, 0, time.UTC),
			plus2, 1,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, DaysUntil(tc.now, tc.due, tc.loc))
		})
	}
}

func TestDueDateTomorrowWarnsWithoutOffer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.lend(t, "b1", "u1")
	f.clk.Advance(13 * 24 * time.Hour)

	require.NoError(t, f.due.Run(context.Background()))

	assert.Equal(t, []sentMessage{{user: "u1", level: notifier.LevelWarning, text: "⚠️ Your loan is due tomorrow: b1"}}, f.sink.messages())
	assert.Empty(t, f.offers.Pending("u1"))
	assert.Equal(t, 1, f.gateway.History().Len())
}

func TestDueDateTodayOffersRenewalOnlyWhenRenewable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.lend(t, "b1", "u1")
	f.lend(t, "a1", "u2")
	f.clk.Advance(14 * 24 * time.Hour)

	require.NoError(t, f.due.Run(context.Background()))

	assert.ElementsMatch(t, []sentMessage{
		{user: "u1", level: notifier.LevelWarning, text: "⚠️ Your loan is due today: b1"},
		{user: "u2", level: notifier.LevelWarning, text: "⚠️ Your loan is due today: a1"},
	}, f.sink.messages())

	pending := f.offers.Pending("u1")
	require.Len(t, pending, 1)
	assert.Equal(t, OfferRenew, pending[0].Kind)
	assert.Equal(t, "b1", pending[0].ResourceID)
	assert.Empty(t, f.offers.Pending("u2"), "audiobooks are not renewable")

	// Accepting renews from "now".
	renewed, err := f.offers.Accept(context.Background(), pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, OfferAccepted, renewed.State)
	loan, ok := f.ledger.LoanOf("b1")
	require.True(t, ok)
	assert.Equal(t, f.clk.Now().Add(library.DefaultLoanPeriod), loan.DueAt)
	assert.Equal(t, 1, loan.Renewals)
}

func TestDueDateIgnoresOverdueAndDistantLoans(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.lend(t, "b1", "u1")
	f.clk.Advance(2 * 24 * time.Hour)
	require.NoError(t, f.due.Run(context.Background()))

	f.clk.Advance(13 * 24 * time.Hour) // one day overdue
	require.NoError(t, f.due.Run(context.Background()))

	assert.Empty(t, f.sink.messages())
	assert.Empty(t, f.offers.All())
}

func TestDueDateRespectsPreferences(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.gateway.Preferences().Set("u1", notifier.LevelWarning, false)
	f.lend(t, "b1", "u1")
	f.clk.Advance(14 * 24 * time.Hour)

	require.NoError(t, f.due.Run(context.Background()))
	assert.Empty(t, f.sink.messages())
	assert.Equal(t, 0, f.gateway.History().Len())
	// The renewal offer does not depend on the user's alert preferences.
	assert.Len(t, f.offers.Pending("u1"), 1)
}

func TestSuppressedAlertsAreNotCountedAsNotified(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	events, unsub := f.bus.Subscribe(4, eventbus.TypePassFinished)
	defer unsub()
	f.gateway.Preferences().Set("u1", notifier.LevelWarning, false)
	f.lend(t, "b1", "u1")
	f.lend(t, "a1", "u2")
	f.clk.Advance(13 * 24 * time.Hour)

	require.NoError(t, f.due.Run(context.Background()))

	select {
	case ev := <-events:
		res, ok := ev.Data.(PassResult)
		require.True(t, ok)
		assert.Equal(t, 2, res.Scanned)
		assert.Equal(t, 1, res.Notified)
		assert.Equal(t, 1, res.Suppressed)
	case <-time.After(time.Second):
		t.Fatal("no pass_finished event")
	}
	assert.Len(t, f.sink.messages(), 1)
}

func TestDueDateContinuesPastFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	boom := errors.New("mailbox full")
	f.sink.failOn["u1"] = boom
	f.lend(t, "b1", "u1")
	f.lend(t, "a1", "u2")
	f.clk.Advance(13 * 24 * time.Hour)

	err := f.due.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []sentMessage{{user: "u2", level: notifier.LevelWarning, text: "⚠️ Your loan is due tomorrow: a1"}}, f.sink.messages())
}

func TestAvailabilityOffersHeadAndAcceptPopsQueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.lend(t, "b1", "u1")
	_, err := f.ledger.Reserve(ctx, "b1", "u2")
	require.NoError(t, err)
	_, err = f.ledger.Reserve(ctx, "b1", "u3")
	require.NoError(t, err)

	// Still loaned: nothing to announce.
	require.NoError(t, f.avail.Run(ctx))
	assert.Empty(t, f.sink.messages())

	_, err = f.ledger.Return(ctx, "b1")
	require.NoError(t, err)
	require.NoError(t, f.avail.Run(ctx))

	assert.Equal(t, []sentMessage{{user: "u2", level: notifier.LevelInfo, text: "✅ Resource available: b1"}}, f.sink.messages())
	pending := f.offers.Pending("u2")
	require.Len(t, pending, 1)
	assert.Equal(t, OfferLend, pending[0].Kind)

	// A second pass re-notifies but keeps the same offer.
	require.NoError(t, f.avail.Run(ctx))
	assert.Len(t, f.sink.messages(), 2)
	again := f.offers.Pending("u2")
	require.Len(t, again, 1)
	assert.Equal(t, pending[0].ID, again[0].ID)

	accepted, err := f.offers.Accept(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, OfferAccepted, accepted.State)

	st, err := f.ledger.View("b1")
	require.NoError(t, err)
	require.NotNil(t, st.Loan)
	assert.Equal(t, "u2", st.Loan.BorrowerID)
	assert.Equal(t, library.StateLoaned, st.Resource.State)
	require.Len(t, st.Queue, 1)
	assert.Equal(t, "u3", st.Queue[0].UserID)
}

func TestAvailabilityFailedLendKeepsQueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.lend(t, "b1", "u1")
	_, err := f.ledger.Reserve(ctx, "b1", "u2")
	require.NoError(t, err)
	_, err = f.ledger.Return(ctx, "b1")
	require.NoError(t, err)

	require.NoError(t, f.avail.Run(ctx))
	pending := f.offers.Pending("u2")
	require.Len(t, pending, 1)

	// Someone else grabs the resource through a path the offer cannot see:
	// u2 withdraws, u3 queues up, and u3 gets the next offer.
	require.NoError(t, f.ledger.CancelReservation(ctx, "b1", "u2"))
	_, err = f.ledger.Lend(ctx, "b1", "u3")
	require.NoError(t, err)
	_, err = f.ledger.Reserve(ctx, "b1", "u2")
	require.NoError(t, err)

	failed, err := f.offers.Accept(ctx, pending[0].ID)
	require.ErrorIs(t, err, library.ErrNotAvailable)
	assert.Equal(t, OfferFailed, failed.State)
	assert.NotEmpty(t, failed.Error)

	// The queue head was not consumed by the failed accept.
	queue := f.ledger.ReservationsOf("b1")
	require.Len(t, queue, 1)
	assert.Equal(t, "u2", queue[0].UserID)

	// Once free again the head is offered anew.
	_, err = f.ledger.Return(ctx, "b1")
	require.NoError(t, err)
	require.NoError(t, f.avail.Run(ctx))
	next := f.offers.Pending("u2")
	require.Len(t, next, 1)
	assert.NotEqual(t, pending[0].ID, next[0].ID)
}

func TestEvaluatorsStopOnCanceledContext(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.lend(t, "b1", "u1")
	f.clk.Advance(13 * 24 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.due.Run(ctx), context.Canceled)
	assert.ErrorIs(t, f.avail.Run(ctx), context.Canceled)
	assert.Empty(t, f.sink.messages())
}

func TestPassFinishedPublished(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	events, unsub := f.bus.Subscribe(4, eventbus.TypePassFinished)
	defer unsub()

	f.lend(t, "b1", "u1")
	f.clk.Advance(13 * 24 * time.Hour)
	require.NoError(t, f.due.Run(context.Background()))

	select {
	case ev := <-events:
		res, ok := ev.Data.(PassResult)
		require.True(t, ok)
		assert.Equal(t, "due-date", res.Evaluator)
		assert.Equal(t, 1, res.Scanned)
		assert.Equal(t, 1, res.Notified)
	case <-time.After(time.Second):
		t.Fatal("no pass_finished event")
	}
}

func TestEvaluatorsRaceWithLedger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _ = f.ledger.Lend(ctx, "b1", "u1")
			_, _ = f.ledger.Reserve(ctx, "b1", "u2")
			_, _ = f.ledger.Return(ctx, "b1")
			_ = f.ledger.CancelReservation(ctx, "b1", "u2")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = f.avail.Run(ctx)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = f.due.Run(ctx)
		}
	}()
	wg.Wait()

	for _, st := range f.ledger.Statuses() {
		switch {
		case st.Loan != nil:
			assert.Equal(t, library.StateLoaned, st.Resource.State)
		case len(st.Queue) > 0:
			assert.Equal(t, library.StateReserved, st.Resource.State)
		default:
			assert.Equal(t, library.StateAvailable, st.Resource.State)
		}
	}
}
