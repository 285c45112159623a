// Package engine runs the dispatch cycle: load records from the ledger,
// group the operator's selection into outbound messages, deliver them one
// at a time through the chat channel, and write the resulting statuses
// back in a single idempotent batch.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/swatchline/dispatch/internal/channel"
	"github.com/swatchline/dispatch/internal/fingerprint"
	"github.com/swatchline/dispatch/internal/group"
	"github.com/swatchline/dispatch/internal/item"
	"github.com/swatchline/dispatch/internal/ledger"
	"github.com/swatchline/dispatch/internal/template"
)

// ApprovalGate sits between building and delivering. It receives the jobs
// a cycle wants to send and returns the subset the operator approved.
// Jobs it withholds are left untouched for a later cycle.
type ApprovalGate interface {
	AwaitApproval(ctx context.Context, jobs []*Job) ([]*Job, error)
}

// AutoApprove approves every job. Used by unattended runs and tests.
type AutoApprove struct{}

func (AutoApprove) AwaitApproval(_ context.Context, jobs []*Job) ([]*Job, error) {
	return jobs, nil
}

// Selection names the items a cycle should dispatch.
type Selection struct {
	// IDs selects explicit item identifiers.
	IDs []string
	// AllEligible selects every pending or failed item instead.
	AllEligible bool
}

// Options configures an Engine. Zero values take defaults.
type Options struct {
	// Key is the grouping key. Default group.BySellerOrder.
	Key group.Key
	// Gate approves jobs before delivery. Default AutoApprove.
	Gate ApprovalGate
	// Delivery bounds the delivery state machine.
	Delivery DeliveryConfig
}

// CycleReport summarizes one RunCycle call.
type CycleReport struct {
	Token string

	Loaded            int
	Dropped           int
	Selected          int
	UnknownSelections []string
	Ungroupable       []string

	Build     BuildReport
	Approved  int
	Delivered int
	Failed    int
	// Cancelled counts approved jobs never attempted because the cycle's
	// context was cancelled between jobs. Their items stay untouched.
	Cancelled int

	Outcomes     []Outcome
	FlushedItems int
}

// Engine owns the dispatch cycle. It is single-threaded by contract: one
// cycle at a time, one job at a time, which is what the exclusive channel
// demands. All state lives in memory except the ledger rows and the sent
// fingerprints, which are re-read at every cycle start.
type Engine struct {
	store      *item.Store
	ledger     ledger.Ledger
	renderer   Renderer
	resolver   DestinationResolver
	builder    *Builder
	deliverer  *Deliverer
	reconciler *Reconciler
	key        group.Key
	gate       ApprovalGate

	sent        *fingerprint.Set
	initialized bool

	// pendingBatch holds a write-back that the ledger rejected. It is
	// retried at the start of the next cycle, before any new work, so a
	// delivered message is never re-sent just because its status write
	// failed.
	pendingBatch ledger.StatusBatch
	pendingFPs   []string
}

// New wires an engine. Call RunCycle or Preview to do work; the sent set
// is seeded from the ledger on first use.
func New(led ledger.Ledger, ch channel.Channel, renderer Renderer, resolver DestinationResolver, opts Options) *Engine {
	if opts.Key == nil {
		opts.Key = group.BySellerOrder
	}
	if opts.Gate == nil {
		opts.Gate = AutoApprove{}
	}

	store := item.NewStore()
	sent := fingerprint.NewSet()
	return &Engine{
		store:      store,
		ledger:     led,
		renderer:   renderer,
		resolver:   resolver,
		builder:    NewBuilder(store, renderer, resolver),
		deliverer:  NewDeliverer(ch, opts.Delivery),
		reconciler: NewReconciler(store, sent),
		key:        opts.Key,
		gate:       opts.Gate,
		sent:       sent,
	}
}

// Store exposes the working set for read-only consumers: the status API
// and the CLI's listings. Callers must not retain items across cycles.
func (e *Engine) Store() *item.Store {
	return e.store
}

func (e *Engine) init(ctx context.Context) error {
	if e.initialized {
		return nil
	}
	fps, err := e.ledger.SentFingerprints(ctx)
	if err != nil {
		return fmt.Errorf("load sent fingerprints: %w", err)
	}
	for _, fp := range fps {
		e.sent.Add(fp)
	}
	e.initialized = true
	slog.Info("sent fingerprint set loaded", "count", len(fps))
	return nil
}

// RunCycle executes one full dispatch cycle for the given operation over
// the given selection. Cancelling ctx is the emergency stop: the job in
// flight finishes, no further job starts, and everything settled so far is
// still reconciled and written back.
//
// If the write-back fails the outcomes are retained in memory and RunCycle
// returns a FlushError; the next cycle retries the batch before building
// new jobs.
func (e *Engine) RunCycle(ctx context.Context, order template.OrderType, op template.OperationType, sel Selection) (*CycleReport, error) {
	report := &CycleReport{Token: uuid.NewString()}
	log := slog.With("cycle", report.Token, "order", order, "op", op)
	log.Info("cycle started")

	if err := e.init(ctx); err != nil {
		return report, err
	}
	if err := e.flush(ctx, e.pendingBatch, e.pendingFPs); err != nil {
		return report, fmt.Errorf("retry deferred write-back: %w", err)
	}

	if err := e.load(ctx, sel, report); err != nil {
		return report, err
	}

	groups, ungroupable := group.Partition(e.store.Selected(), e.key)
	for _, it := range ungroupable {
		report.Ungroupable = append(report.Ungroupable, it.ID)
		log.Warn("item ungroupable, excluded from dispatch", "id", it.ID, "class", ClassUngroupableItem)
	}

	jobs, settled, buildReport, err := e.builder.Build(order, op, groups, e.sent)
	report.Build = buildReport
	if err != nil {
		return report, err
	}

	approved, gateErr := e.gate.AwaitApproval(ctx, jobs)
	if gateErr != nil {
		// Nothing was delivered, but dedup skips and build failures are
		// real state changes: write them back before reporting the error.
		if ferr := e.flush(ctx, settled, nil); ferr != nil {
			return report, ferr
		}
		report.FlushedItems = len(settled)
		return report, fmt.Errorf("approval gate: %w", gateErr)
	}
	report.Approved = len(approved)

	outcomes := e.deliver(ctx, approved, report, log)
	report.Outcomes = outcomes

	batch := e.reconciler.Reconcile(outcomes)
	for id, update := range settled {
		if _, overridden := batch[id]; !overridden {
			batch[id] = update
		}
	}

	var newFPs []string
	for _, oc := range outcomes {
		if oc.Delivered {
			newFPs = append(newFPs, oc.Fingerprint)
		}
	}

	if err := e.flush(ctx, batch, newFPs); err != nil {
		return report, err
	}
	report.FlushedItems = len(batch)

	log.Info("cycle finished",
		"jobs", report.Build.Jobs, "delivered", report.Delivered,
		"failed", report.Failed, "skipped", report.Build.SkippedDuplicates,
		"cancelled", report.Cancelled, "flushed", report.FlushedItems)
	return report, nil
}

// load re-reads the ledger, rebuilds the working set and applies the
// selection.
func (e *Engine) load(ctx context.Context, sel Selection, report *CycleReport) error {
	records, err := e.ledger.ReadRecords(ctx)
	if err != nil {
		return fmt.Errorf("read ledger records: %w", err)
	}
	loadReport := e.store.Load(records)
	report.Loaded = loadReport.Loaded
	report.Dropped = len(loadReport.Dropped)

	e.store.ClearSelection()
	if sel.AllEligible {
		report.Selected = e.store.SelectWhere(func(it *item.Item) bool {
			return it.Status == item.StatusPending || it.Status == item.StatusFailed
		})
		return nil
	}
	report.UnknownSelections = e.store.Select(sel.IDs)
	// Count from the store, not the flag arithmetic: repeated identifiers
	// in sel.IDs mark the same item once.
	report.Selected = len(e.store.Selected())
	for _, id := range report.UnknownSelections {
		slog.Warn("selection references unknown item", "id", id)
	}
	return nil
}

// deliver runs approved jobs strictly one at a time, with a cancellation
// check between jobs. Items enter in_progress just before their job
// starts, so jobs never attempted leave their items untouched.
func (e *Engine) deliver(ctx context.Context, approved []*Job, report *CycleReport, log *slog.Logger) []Outcome {
	var outcomes []Outcome
	for i, job := range approved {
		if ctx.Err() != nil {
			report.Cancelled = len(approved) - i
			log.Warn("cycle cancelled, remaining jobs skipped", "remaining", report.Cancelled)
			break
		}
		for _, id := range job.ItemIDs {
			if err := e.store.Transition(id, item.StatusInProgress, nil); err != nil {
				log.Warn("item not marked in progress", "id", id, "err", err)
			}
		}
		oc := e.deliverer.Deliver(ctx, job)
		if oc.Delivered {
			report.Delivered++
		} else {
			report.Failed++
		}
		outcomes = append(outcomes, oc)
	}
	return outcomes
}

// flush writes a status batch and newly delivered fingerprints to the
// ledger. On failure the unwritten remainder is stashed for the next
// cycle and a FlushError is returned.
func (e *Engine) flush(ctx context.Context, batch ledger.StatusBatch, fps []string) error {
	if len(batch) > 0 {
		if err := e.ledger.WriteStatusBatch(ctx, batch); err != nil {
			e.pendingBatch = batch
			e.pendingFPs = fps
			return &FlushError{Items: len(batch), Err: err}
		}
	}
	if len(fps) > 0 {
		if err := e.ledger.AddFingerprints(ctx, fps); err != nil {
			e.pendingBatch = nil
			e.pendingFPs = fps
			return &FlushError{Items: len(fps), Err: fmt.Errorf("persist fingerprints: %w", err)}
		}
	}
	e.pendingBatch = nil
	e.pendingFPs = nil
	return nil
}
