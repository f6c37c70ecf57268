package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	logx "lendwatch/pkg/logx"
)

const (
	msgDueTomorrow = "⚠️ Your loan is due tomorrow: "
	msgDueToday    = "⚠️ Your loan is due today: "
)

// DueDate warns borrowers whose loans are due today or tomorrow and offers a
// renewal on the due day when the resource allows it. Overdue loans are not
// alerted.
type DueDate struct {
	*deps
}

func NewDueDate(ledger Ledger, catalog Catalog, notify Notifier, offers *OfferBook, opts ...EvaluatorOption) *DueDate {
	d := &DueDate{deps: newDeps(ledger, notify, offers, opts)}
	d.catalog = catalog
	d.log = d.log.With(logx.String("comp", "alerts.duedate"))
	return d
}

func (e *DueDate) Name() string { return "due-date" }

// Run scans every active loan once. Per-loan failures are logged, collected
// and returned joined; they never stop the scan.
func (e *DueDate) Run(ctx context.Context) error {
	started := time.Now()
	res := PassResult{Evaluator: e.Name()}
	defer func() { e.finish(res, started) }()

	now := e.clock.Now()
	var errs []error
	for _, loan := range e.ledger.Loans() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res.Scanned++

		days := DaysUntil(now, loan.DueAt, e.location())
		var text string
		switch days {
		case 1:
			text = msgDueTomorrow + loan.ResourceID
		case 0:
			text = msgDueToday + loan.ResourceID
		default:
			continue
		}

		delivered, err := e.notify.TrySendText(ctx, loan.BorrowerID, text)
		if err != nil {
			res.Failed++
			e.log.Warn("due-date alert failed", logx.String("resource", loan.ResourceID), logx.String("user", loan.BorrowerID), logx.Err(err))
			errs = append(errs, fmt.Errorf("due-date %s: %w", loan.ResourceID, err))
			continue
		}
		if delivered {
			res.Notified++
		} else {
			res.Suppressed++
		}

		if days != 0 || e.offers == nil {
			continue
		}
		r, err := e.catalog.Get(loan.ResourceID)
		if err != nil {
			// Removed between the scan and now; nothing to renew.
			e.log.Debug("resource vanished during pass", logx.String("resource", loan.ResourceID), logx.Err(err))
			continue
		}
		if !r.Renewable() {
			continue
		}
		if _, created := e.offers.Post(Offer{Kind: OfferRenew, ResourceID: loan.ResourceID, UserID: loan.BorrowerID}); created {
			res.Offered++
		}
	}
	return errors.Join(errs...)
}
