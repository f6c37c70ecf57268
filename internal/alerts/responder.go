package alerts

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"lendwatch/internal/domain"
	"lendwatch/internal/eventbus"
	logx "lendwatch/pkg/logx"
)

// Policy decides what a Responder does with newly posted offers.
type Policy string

const (
	PolicyManual  Policy = "manual"
	PolicyAccept  Policy = "accept"
	PolicyDecline Policy = "decline"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyManual, nil
	case PolicyManual, PolicyAccept, PolicyDecline:
		return p, nil
	default:
		return "", fmt.Errorf("unknown offer policy %q: %w", s, domain.ErrInvalidOperation)
	}
}

// Responder resolves offers automatically for deployments without an
// interactive front end. With PolicyManual it leaves offers alone.
type Responder struct {
	book *OfferBook
	bus  eventbus.Bus
	log  logx.Logger

	mu     sync.RWMutex
	policy Policy
}

func NewResponder(book *OfferBook, bus eventbus.Bus, policy Policy, log logx.Logger) *Responder {
	if log.IsZero() {
		log = logx.Nop()
	}
	if policy == "" {
		policy = PolicyManual
	}
	return &Responder{book: book, bus: bus, policy: policy, log: log.With(logx.String("comp", "offers.responder"))}
}

func (r *Responder) Policy() Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

func (r *Responder) SetPolicy(p Policy) {
	r.mu.Lock()
	r.policy = p
	r.mu.Unlock()
}

// Run consumes offer.posted events until ctx is done.
func (r *Responder) Run(ctx context.Context) { r.Listen()(ctx) }

// Listen subscribes right away and returns the consume loop. Offers posted
// between Listen and the loop starting are still handled.
func (r *Responder) Listen() func(ctx context.Context) {
	ch, unsubscribe := r.bus.Subscribe(64, eventbus.TypeOfferPosted)
	return func(ctx context.Context) {
		defer unsubscribe()
		r.consume(ctx, ch)
	}
}

func (r *Responder) consume(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			o, ok := ev.Data.(Offer)
			if !ok {
				continue
			}
			r.Handle(ctx, o)
		}
	}
}

// Handle applies the current policy to o.
func (r *Responder) Handle(ctx context.Context, o Offer) {
	var err error
	switch r.Policy() {
	case PolicyAccept:
		_, err = r.book.Accept(ctx, o.ID)
	case PolicyDecline:
		_, err = r.book.Decline(o.ID)
	default:
		return
	}
	if err != nil {
		r.log.Info("offer not resolved", logx.String("id", o.ID.String()), logx.String("kind", string(o.Kind)), logx.Err(err))
	}
}
