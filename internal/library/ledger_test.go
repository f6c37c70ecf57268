package library

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendwatch/internal/clock"
	"lendwatch/internal/domain"
	"lendwatch/internal/eventbus"
	"lendwatch/internal/users"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *Registry, *clock.Manual) {
	t.Helper()
	g := NewRegistry()
	require.NoError(t, g.Add(NewBook("r1", "Refactoring")))
	require.NoError(t, g.Add(NewAudiobook("a1", "Dune (narrated)")))
	require.NoError(t, g.Add(NewMagazine("m1", "Wired")))
	clk := clock.NewManual(t0)
	l := NewLedger(g, append([]Option{WithClock(clk)}, opts...)...)
	return l, g, clk
}

// assertStateInvariant checks the derived state against loan/queue presence.
func assertStateInvariant(t *testing.T, l *Ledger) {
	t.Helper()
	for _, st := range l.Statuses() {
		want := StateAvailable
		switch {
		case st.Loan != nil:
			want = StateLoaned
		case len(st.Queue) > 0:
			want = StateReserved
		}
		assert.Equalf(t, want, st.Resource.State, "resource %s", st.Resource.ID)
		if st.Resource.State == StateAvailable {
			assert.Emptyf(t, st.Queue, "available resource %s has reservations", st.Resource.ID)
		}
	}
}

func state(t *testing.T, g *Registry, id string) State {
	t.Helper()
	r, err := g.Get(id)
	require.NoError(t, err)
	return r.State
}

func TestLend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, g, _ := newTestLedger(t)

	loan, err := l.Lend(ctx, "r1", "u1")
	require.NoError(t, err)
	assert.Equal(t, t0, loan.StartedAt)
	assert.Equal(t, t0.Add(14*24*time.Hour), loan.DueAt)
	assert.Equal(t, StateLoaned, state(t, g, "r1"))

	_, err = l.Lend(ctx, "r1", "u2")
	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	_, err = l.Lend(ctx, "m1", "u2")
	assert.ErrorIs(t, err, ErrNotLoanable)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
	assert.NotEqual(t, ErrNotLoanable.Error(), ErrNotAvailable.Error())

	_, err = l.Lend(ctx, "zz", "u2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assertStateInvariant(t, l)
}

func TestReturn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("empty queue goes available", func(t *testing.T) {
		l, g, _ := newTestLedger(t)
		_, err := l.Lend(ctx, "r1", "u1")
		require.NoError(t, err)

		loan, err := l.Return(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "u1", loan.BorrowerID)
		assert.Equal(t, StateAvailable, state(t, g, "r1"))
		_, ok := l.LoanOf("r1")
		assert.False(t, ok)
		assertStateInvariant(t, l)
	})

	t.Run("queued resource goes reserved", func(t *testing.T) {
		l, g, _ := newTestLedger(t)
		_, err := l.Lend(ctx, "r1", "u1")
		require.NoError(t, err)
		_, err = l.Reserve(ctx, "r1", "u2")
		require.NoError(t, err)

		_, err = l.Return(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, StateReserved, state(t, g, "r1"))
		assertStateInvariant(t, l)
	})

	t.Run("not on loan", func(t *testing.T) {
		l, _, _ := newTestLedger(t)
		_, err := l.Return(ctx, "r1")
		assert.ErrorIs(t, err, ErrNotLoaned)
	})
}

func TestReserve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, g, _ := newTestLedger(t)

	_, err := l.Reserve(ctx, "r1", "u2")
	assert.ErrorIs(t, err, ErrReserveAvailable)

	_, err = l.Reserve(ctx, "m1", "u2")
	assert.ErrorIs(t, err, ErrNotReservable)

	_, err = l.Lend(ctx, "r1", "u1")
	require.NoError(t, err)
	res, err := l.Reserve(ctx, "r1", "u2")
	require.NoError(t, err)
	assert.Equal(t, t0, res.RequestedAt)
	assert.Equal(t, StateLoaned, state(t, g, "r1"))
	assert.Empty(t, l.ReservationsOf("a1"))
	assertStateInvariant(t, l)
}

func TestReservationQueueIsFIFO(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, g, clk := newTestLedger(t)

	_, err := l.Lend(ctx, "r1", "u0")
	require.NoError(t, err)
	for _, u := range []string{"A", "B", "C"} {
		clk.Advance(time.Minute)
		_, err := l.Reserve(ctx, "r1", u)
		require.NoError(t, err)
	}
	_, err = l.Return(ctx, "r1")
	require.NoError(t, err)

	var order []string
	for i := 0; i < 3; i++ {
		head := l.ReservationsOf("r1")[0]
		order = append(order, head.UserID)
		_, err := l.Lend(ctx, "r1", head.UserID)
		require.NoError(t, err)
		_, err = l.Return(ctx, "r1")
		require.NoError(t, err)
		assertStateInvariant(t, l)
	}
	assert.Equal(t, []string{"A", "B", "C"}, order)
	assert.Equal(t, StateAvailable, state(t, g, "r1"))
}

func TestLendReservedResourceOnlyToQueueHead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, g, _ := newTestLedger(t)

	_, err := l.Lend(ctx, "r1", "u1")
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "r1", "u2")
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "r1", "u3")
	require.NoError(t, err)
	_, err = l.Return(ctx, "r1")
	require.NoError(t, err)

	_, err = l.Lend(ctx, "r1", "u3")
	assert.ErrorIs(t, err, ErrReservedForOther)
	assert.Len(t, l.ReservationsOf("r1"), 2)

	loan, err := l.Lend(ctx, "r1", "u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", loan.BorrowerID)
	q := l.ReservationsOf("r1")
	require.Len(t, q, 1)
	assert.Equal(t, "u3", q[0].UserID)
	assert.Equal(t, StateLoaned, state(t, g, "r1"))
}

func TestRenew(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _, clk := newTestLedger(t)

	_, err := l.Lend(ctx, "r1", "u1")
	require.NoError(t, err)
	_, err = l.Lend(ctx, "a1", "u1")
	require.NoError(t, err)

	_, err = l.Renew(ctx, "r1", "u2")
	assert.ErrorIs(t, err, ErrNotBorrower)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	_, err = l.Renew(ctx, "a1", "u1")
	assert.ErrorIs(t, err, ErrNotRenewable)

	_, err = l.Renew(ctx, "m1", "u1")
	assert.ErrorIs(t, err, ErrNotRenewable)

	now := clk.Advance(13 * 24 * time.Hour)
	loan, err := l.Renew(ctx, "r1", "u1")
	require.NoError(t, err)
	assert.Equal(t, now.Add(l.LoanPeriod()), loan.DueAt)
	assert.Equal(t, 1, loan.Renewals)

	got, ok := l.LoanOf("r1")
	require.True(t, ok)
	assert.Equal(t, loan, got)
}

func TestCancelReservation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, g, _ := newTestLedger(t)

	_, err := l.Lend(ctx, "r1", "u1")
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "r1", "u2")
	require.NoError(t, err)
	_, err = l.Return(ctx, "r1")
	require.NoError(t, err)

	assert.ErrorIs(t, l.CancelReservation(ctx, "r1", "u9"), ErrNoReservation)
	require.NoError(t, l.CancelReservation(ctx, "r1", "u2"))
	assert.Equal(t, StateAvailable, state(t, g, "r1"))
	assertStateInvariant(t, l)
}

func TestUnknownUserRejected(t *testing.T) {
	t.Parallel()
	dir := users.NewDirectory()
	require.NoError(t, dir.Add(users.User{ID: "u1"}))
	l, _, _ := newTestLedger(t, WithUsers(dir))

	_, err := l.Lend(context.Background(), "r1", "ghost")
	assert.ErrorIs(t, err, users.ErrUserNotFound)
	_, err = l.Lend(context.Background(), "r1", "u1")
	assert.NoError(t, err)
}

func TestLedgerPublishesEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()
	l, _, _ := newTestLedger(t, WithBus(bus))
	ctx := context.Background()

	_, err := l.Lend(ctx, "r1", "u1")
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "r1", "u2")
	require.NoError(t, err)
	_, err = l.Return(ctx, "r1")
	require.NoError(t, err)

	var types []string
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	assert.Equal(t, []string{eventbus.TypeLoanLent, eventbus.TypeReservationAdded, eventbus.TypeLoanReturned}, types)
}

func TestConcurrentLendHasSingleWinner(t *testing.T) {
	t.Parallel()
	l, g, _ := newTestLedger(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.Lend(context.Background(), "r1", "u"+string(rune('a'+i%26))); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
	assert.Equal(t, StateLoaned, state(t, g, "r1"))
	assert.Len(t, l.Loans(), 1)
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()
	l, _, _ := newTestLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Lend(ctx, "r1", "u1")
	assert.ErrorIs(t, err, context.Canceled)
}
