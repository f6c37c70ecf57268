package alerts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"lendwatch/internal/clock"
	"lendwatch/internal/eventbus"
	"lendwatch/internal/library"
	logx "lendwatch/pkg/logx"
)

// DefaultOfferTTL is how long an offer stays open when no TTL is configured.
const DefaultOfferTTL = 24 * time.Hour

type OfferKind string

const (
	OfferRenew OfferKind = "renew"
	OfferLend  OfferKind = "lend"
)

type OfferState string

const (
	OfferPending   OfferState = "pending"
	OfferAccepting OfferState = "accepting"
	OfferAccepted  OfferState = "accepted"
	OfferDeclined  OfferState = "declined"
	OfferFailed    OfferState = "failed"
	OfferExpired   OfferState = "expired"
)

// Offer is a follow-up action proposed to a user by an evaluator.
type Offer struct {
	ID         uuid.UUID
	Kind       OfferKind
	ResourceID string
	UserID     string
	State      OfferState
	CreatedAt  time.Time
	ExpiresAt  time.Time // zero: never
	ResolvedAt time.Time
	Error      string
}

func (o Offer) expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}

// Lender is the part of the ledger an accepted offer runs against.
type Lender interface {
	Lend(ctx context.Context, id, userID string) (library.Loan, error)
	Renew(ctx context.Context, id, userID string) (library.Loan, error)
}

type offerKey struct {
	kind OfferKind
	res  string
	user string
}

// OfferBook stores open and recently resolved offers.
//
// It is safe for concurrent use.
type OfferBook struct {
	ledger Lender
	clock  clock.Clock
	bus    eventbus.Bus
	log    logx.Logger

	mu     sync.Mutex
	ttl    time.Duration
	offers map[uuid.UUID]*Offer
	open   map[offerKey]uuid.UUID
}

type OfferOption func(*OfferBook)

// WithTTL sets how long offers stay open. ttl <= 0 keeps DefaultOfferTTL.
func WithTTL(ttl time.Duration) OfferOption {
	return func(b *OfferBook) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

func WithOfferClock(c clock.Clock) OfferOption  { return func(b *OfferBook) { b.clock = c } }
func WithOfferBus(bus eventbus.Bus) OfferOption { return func(b *OfferBook) { b.bus = bus } }
func WithOfferLogger(l logx.Logger) OfferOption { return func(b *OfferBook) { b.log = l } }

func NewOfferBook(ledger Lender, opts ...OfferOption) *OfferBook {
	b := &OfferBook{
		ledger: ledger,
		ttl:    DefaultOfferTTL,
		offers: map[uuid.UUID]*Offer{},
		open:   map[offerKey]uuid.UUID{},
	}
	for _, o := range opts {
		o(b)
	}
	if b.clock == nil {
		b.clock = clock.NewSystem()
	}
	if b.bus == nil {
		b.bus = eventbus.Nop()
	}
	if b.log.IsZero() {
		b.log = logx.Nop()
	}
	return b
}

// SetTTL changes the TTL of offers posted from now on.
func (b *OfferBook) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	b.mu.Lock()
	b.ttl = ttl
	b.mu.Unlock()
}

// Post opens o unless an equivalent offer (same kind, resource and user) is
// still pending, in which case the existing one is returned with false.
func (b *OfferBook) Post(o Offer) (Offer, bool) {
	if o.ResourceID == "" || o.UserID == "" || (o.Kind != OfferRenew && o.Kind != OfferLend) {
		b.log.Warn("rejecting malformed offer", logx.String("kind", string(o.Kind)), logx.String("resource", o.ResourceID), logx.String("user", o.UserID))
		return Offer{}, false
	}
	now := b.clock.Now()
	key := offerKey{kind: o.Kind, res: o.ResourceID, user: o.UserID}

	b.mu.Lock()
	if id, ok := b.open[key]; ok {
		cur := b.offers[id]
		// An offer whose follow-up is running stays open past its TTL.
		if cur.State == OfferAccepting || !cur.expired(now) {
			out := *cur
			b.mu.Unlock()
			return out, false
		}
		b.expireLocked(cur, now)
	}

	o.ID = uuid.New()
	o.State = OfferPending
	o.CreatedAt = now
	o.ExpiresAt = now.Add(b.ttl)
	o.ResolvedAt = time.Time{}
	o.Error = ""
	stored := o
	b.offers[o.ID] = &stored
	b.open[key] = o.ID
	b.mu.Unlock()

	b.log.Debug("offer posted", logx.String("id", o.ID.String()), logx.String("kind", string(o.Kind)), logx.String("resource", o.ResourceID), logx.String("user", o.UserID))
	b.bus.Publish(eventbus.Event{Type: eventbus.TypeOfferPosted, Time: now, Data: o})
	return o, true
}

// Pending returns userID's open offers, oldest first.
func (b *OfferBook) Pending(userID string) []Offer {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Offer
	for _, o := range b.offers {
		if o.UserID == userID && o.State == OfferPending && !o.expired(now) {
			out = append(out, *o)
		}
	}
	sortOffers(out)
	return out
}

// All returns every offer the book still holds, oldest first.
func (b *OfferBook) All() []Offer {
	b.mu.Lock()
	out := make([]Offer, 0, len(b.offers))
	for _, o := range b.offers {
		out = append(out, *o)
	}
	b.mu.Unlock()
	sortOffers(out)
	return out
}

func (b *OfferBook) Get(id uuid.UUID) (Offer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.offers[id]
	if !ok {
		return Offer{}, fmt.Errorf("%w: %s", ErrOfferNotFound, id)
	}
	return *o, nil
}

// Accept runs the offer's follow-up against the ledger. A failed follow-up
// marks the offer failed and returns the ledger error; a new offer can then
// be posted for the same key.
func (b *OfferBook) Accept(ctx context.Context, id uuid.UUID) (Offer, error) {
	now := b.clock.Now()
	b.mu.Lock()
	o, err := b.claimLocked(id, now)
	if err != nil {
		b.mu.Unlock()
		return Offer{}, err
	}
	o.State = OfferAccepting
	claimed := *o
	b.mu.Unlock()

	switch claimed.Kind {
	case OfferRenew:
		_, err = b.ledger.Renew(ctx, claimed.ResourceID, claimed.UserID)
	case OfferLend:
		_, err = b.ledger.Lend(ctx, claimed.ResourceID, claimed.UserID)
	default:
		err = ErrInvalidOffer
	}

	state := OfferAccepted
	if err != nil {
		state = OfferFailed
	}
	out := b.resolve(id, state, err)
	if err != nil {
		b.log.Info("offer follow-up failed", logx.String("id", id.String()), logx.String("kind", string(claimed.Kind)), logx.String("resource", claimed.ResourceID), logx.Err(err))
		return out, err
	}
	return out, nil
}

func (b *OfferBook) Decline(id uuid.UUID) (Offer, error) {
	now := b.clock.Now()
	b.mu.Lock()
	if _, err := b.claimLocked(id, now); err != nil {
		b.mu.Unlock()
		return Offer{}, err
	}
	b.mu.Unlock()
	return b.resolve(id, OfferDeclined, nil), nil
}

// Prune marks expired offers and drops every offer that is no longer
// pending. It returns how many offers were dropped.
func (b *OfferBook) Prune() int {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, o := range b.offers {
		if o.State == OfferPending && o.expired(now) {
			b.expireLocked(o, now)
		}
		if o.State != OfferPending && o.State != OfferAccepting {
			delete(b.offers, id)
			n++
		}
	}
	return n
}

// claimLocked returns the pending offer id or the reason it cannot be
// resolved. b.mu must be held.
func (b *OfferBook) claimLocked(id uuid.UUID, now time.Time) (*Offer, error) {
	o, ok := b.offers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOfferNotFound, id)
	}
	if o.State != OfferPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrOfferClosed, id, o.State)
	}
	if o.expired(now) {
		b.expireLocked(o, now)
		return nil, fmt.Errorf("%w: %s", ErrOfferExpired, id)
	}
	return o, nil
}

func (b *OfferBook) expireLocked(o *Offer, now time.Time) {
	if o.State == OfferAccepting {
		return
	}
	o.State = OfferExpired
	o.ResolvedAt = now
	b.dropOpenLocked(o)
}

func (b *OfferBook) dropOpenLocked(o *Offer) {
	key := offerKey{kind: o.Kind, res: o.ResourceID, user: o.UserID}
	if b.open[key] == o.ID {
		delete(b.open, key)
	}
}

func (b *OfferBook) resolve(id uuid.UUID, state OfferState, cause error) Offer {
	now := b.clock.Now()
	b.mu.Lock()
	o, ok := b.offers[id]
	if !ok {
		b.mu.Unlock()
		b.log.Warn("resolved offer no longer held", logx.String("id", id.String()), logx.String("state", string(state)))
		return Offer{ID: id, State: state, ResolvedAt: now}
	}
	o.State = state
	o.ResolvedAt = now
	if cause != nil {
		o.Error = cause.Error()
	}
	b.dropOpenLocked(o)
	out := *o
	b.mu.Unlock()

	b.bus.Publish(eventbus.Event{Type: eventbus.TypeOfferResolved, Time: now, Data: out})
	return out
}

func sortOffers(out []Offer) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
}
