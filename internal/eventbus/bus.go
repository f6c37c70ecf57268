package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the lending core.
const (
	TypeLoanLent            = "loan.lent"
	TypeLoanReturned        = "loan.returned"
	TypeLoanRenewed         = "loan.renewed"
	TypeReservationAdded    = "reservation.added"
	TypeReservationCanceled = "reservation.canceled"

	TypeNotificationSent       = "notification.sent"
	TypeNotificationSuppressed = "notification.suppressed"
	TypeNotificationFailed     = "notification.failed"

	TypeOfferPosted   = "offer.posted"
	TypeOfferResolved = "offer.resolved"

	TypePassFinished = "alerts.pass_finished"

	TypeTaskFinished = "task.finished"
	TypeTaskFailed   = "task.failed"
	TypeTaskSkipped  = "task.skipped"
)

// Event is an in-process signal. Publish never blocks: each subscriber has
// a bounded buffer and events that do not fit are counted and dropped.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe delivers events of the listed types, or all events when
	// types is empty. unsubscribe closes the channel and is idempotent.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries lost to full subscriber buffers.
	Dropped() uint64
}

const defaultBuffer = 8

func New() Bus {
	return &memBus{}
}

type subscriber struct {
	mu     sync.Mutex
	closed bool
	ch     chan Event
	filter map[string]bool
}

// offer reports false when the buffer was full.
func (s *subscriber) offer(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type memBus struct {
	mu      sync.RWMutex
	subs    []*subscriber
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if len(s.filter) > 0 && !s.filter[e.Type] {
			continue
		}
		if !s.offer(e) {
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		sub.filter = make(map[string]bool, len(types))
		for _, t := range types {
			sub.filter[t] = true
		}
	}

	// subs is copy-on-write so Publish can range over a stable slice.
	b.mu.Lock()
	b.subs = append(append([]*subscriber(nil), b.subs...), sub)
	b.mu.Unlock()

	return sub.ch, func() {
		b.mu.Lock()
		next := make([]*subscriber, 0, len(b.subs))
		for _, s := range b.subs {
			if s != sub {
				next = append(next, s)
			}
		}
		b.subs = next
		b.mu.Unlock()
		sub.close()
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

// Nop returns a bus that drops everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event)   {}
func (nopBus) Dropped() uint64 { return 0 }

func (nopBus) Subscribe(int, ...string) (<-chan Event, func()) {
	ch := make(chan Event)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}
