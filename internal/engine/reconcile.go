package engine

import (
	"log/slog"

	"github.com/swatchline/dispatch/internal/fingerprint"
	"github.com/swatchline/dispatch/internal/item"
	"github.com/swatchline/dispatch/internal/ledger"
)

// Reconciler folds delivery outcomes back into item state. It is the only
// writer of the sent set: a fingerprint is admitted exactly when its job
// terminated as delivered, never earlier. Failed outcomes leave the
// fingerprint out so a later cycle may rebuild the same content.
//
// Reconcile is idempotent. Replaying the same outcomes produces the same
// item statuses and the same batch, because every transition it performs
// is either a legal move or a self-transition no-op.
type Reconciler struct {
	store *item.Store
	sent  *fingerprint.Set
}

// NewReconciler wires a reconciler over the working set and the sent set.
func NewReconciler(store *item.Store, sent *fingerprint.Set) *Reconciler {
	return &Reconciler{store: store, sent: sent}
}

// Reconcile applies outcomes in dispatch order and returns the status
// updates to write back. Unknown items inside an outcome are logged and
// skipped; they can appear when the working set was reloaded between
// dispatch and a replay.
func (r *Reconciler) Reconcile(outcomes []Outcome) ledger.StatusBatch {
	batch := ledger.StatusBatch{}
	for _, oc := range outcomes {
		if oc.Delivered {
			r.apply(oc, item.StatusSent, nil, batch)
			r.sent.Add(oc.Fingerprint)
			continue
		}
		r.apply(oc, item.StatusFailed, &item.Failure{
			Class:   string(oc.Class),
			Message: oc.Reason,
		}, batch)
	}
	return batch
}

func (r *Reconciler) apply(oc Outcome, to item.Status, failure *item.Failure, batch ledger.StatusBatch) {
	for _, id := range oc.ItemIDs {
		if err := r.store.Transition(id, to, failure); err != nil {
			slog.Warn("reconcile skipped item", "id", id, "job", oc.JobID, "to", to, "err", err)
			continue
		}
		update := ledger.StatusUpdate{Status: string(to)}
		if failure != nil {
			update.Error = failureText(failure)
		}
		batch[id] = update
	}
}
