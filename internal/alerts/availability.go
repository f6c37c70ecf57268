package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	logx "lendwatch/pkg/logx"
)

const msgAvailable = "✅ Resource available: "

// Availability tells the head of each reservation queue that the resource
// is free and offers to lend it to them.
type Availability struct {
	*deps
}

func NewAvailability(ledger Ledger, notify Notifier, offers *OfferBook, opts ...EvaluatorOption) *Availability {
	a := &Availability{deps: newDeps(ledger, notify, offers, opts)}
	a.log = a.log.With(logx.String("comp", "alerts.availability"))
	return a
}

func (e *Availability) Name() string { return "availability" }

// Run scans every resource with no active loan and a waiting queue.
func (e *Availability) Run(ctx context.Context) error {
	started := time.Now()
	res := PassResult{Evaluator: e.Name()}
	defer func() { e.finish(res, started) }()

	var errs []error
	for _, st := range e.ledger.Statuses() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res.Scanned++

		if st.Loan != nil {
			continue
		}
		head, ok := st.Head()
		if !ok {
			continue
		}
		id := st.Resource.ID

		delivered, err := e.notify.TrySendText(ctx, head.UserID, msgAvailable+id)
		if err != nil {
			res.Failed++
			e.log.Warn("availability alert failed", logx.String("resource", id), logx.String("user", head.UserID), logx.Err(err))
			errs = append(errs, fmt.Errorf("availability %s: %w", id, err))
			continue
		}
		if delivered {
			res.Notified++
		} else {
			res.Suppressed++
		}

		if e.offers == nil {
			continue
		}
		if _, created := e.offers.Post(Offer{Kind: OfferLend, ResourceID: id, UserID: head.UserID}); created {
			res.Offered++
		}
	}
	return errors.Join(errs...)
}
