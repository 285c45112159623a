package item

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/swatchline/dispatch/internal/ledger"
)

// requiredFields must be present and non-empty for a record to become an
// Item. Everything else is optional and carried through in Fields.
var requiredFields = []string{"id", "seller", "order_number", "product_name"}

// DroppedRecord explains why one raw record did not make it into the
// working set. Dropped records are reported, never fatal.
type DroppedRecord struct {
	Index  int
	ID     string
	Reason string
}

// LoadReport summarizes one Load call.
type LoadReport struct {
	Loaded  int
	Dropped []DroppedRecord
}

// Store is the working set of items for the current cycle.
//
// It is not safe for concurrent use: the engine's single worker owns it,
// and the HTTP status API reads through snapshot copies taken on that
// worker's schedule.
type Store struct {
	items map[string]*Item
	order []string // identifiers in load order, for deterministic iteration
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{items: make(map[string]*Item)}
}

// Load replaces the entire working set from raw ledger records. Prior
// state, including selection, is discarded; callers needing to keep a
// selection across reloads must re-select by identifier afterwards.
//
// Malformed records (missing required fields, bad quantity, unknown
// status, duplicate identifier) are dropped and reported.
func (s *Store) Load(records []ledger.Record) LoadReport {
	s.items = make(map[string]*Item, len(records))
	s.order = s.order[:0]

	var report LoadReport
	for i, rec := range records {
		it, reason := buildItem(rec)
		if reason != "" {
			report.Dropped = append(report.Dropped, DroppedRecord{Index: i, ID: rec["id"], Reason: reason})
			slog.Warn("record dropped during load", "index", i, "id", rec["id"], "reason", reason)
			continue
		}
		if _, dup := s.items[it.ID]; dup {
			report.Dropped = append(report.Dropped, DroppedRecord{Index: i, ID: it.ID, Reason: "duplicate identifier"})
			slog.Warn("record dropped during load", "index", i, "id", it.ID, "reason", "duplicate identifier")
			continue
		}
		s.items[it.ID] = it
		s.order = append(s.order, it.ID)
		report.Loaded++
	}
	return report
}

func buildItem(rec ledger.Record) (*Item, string) {
	for _, f := range requiredFields {
		if strings.TrimSpace(rec[f]) == "" {
			return nil, fmt.Sprintf("missing required field %q", f)
		}
	}

	qty := 0
	if raw, ok := rec["quantity"]; ok && raw != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 0 {
			return nil, fmt.Sprintf("invalid quantity %q", raw)
		}
		qty = n
	}

	status, err := ParseStatus(rec["status"])
	if err != nil {
		return nil, err.Error()
	}

	fields := make(map[string]string, len(rec))
	for k, v := range rec {
		fields[k] = v
	}

	it := &Item{
		ID:          rec["id"],
		Seller:      normalizeSeller(rec["seller"]),
		OrderNumber: strings.TrimSpace(rec["order_number"]),
		Product:     strings.TrimSpace(rec["product_name"]),
		Quantity:    qty,
		Status:      status,
		Revision:    rec["revision"],
		Fields:      fields,
	}
	if msg := rec["last_error"]; msg != "" && status == StatusFailed {
		class, rest, found := strings.Cut(msg, ": ")
		if !found {
			class, rest = "", msg
		}
		it.LastError = &Failure{Class: class, Message: rest}
	}
	return it, ""
}

// normalizeSeller collapses runs of whitespace, mirroring how seller names
// arrive from the source with stray spacing that must not split groups.
func normalizeSeller(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// Get returns the item with the given identifier.
func (s *Store) Get(id string) (*Item, bool) {
	it, ok := s.items[id]
	return it, ok
}

// Len returns the size of the working set.
func (s *Store) Len() int {
	return len(s.items)
}

// All returns every item in load order.
func (s *Store) All() []*Item {
	out := make([]*Item, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

// Select marks the given identifiers as candidates for dispatch and
// returns any identifiers that are not in the working set. Selection
// never mutates status.
func (s *Store) Select(ids []string) (unknown []string) {
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			it.selected = true
		} else {
			unknown = append(unknown, id)
		}
	}
	return unknown
}

// SelectWhere marks every item satisfying pred and returns how many
// matched.
func (s *Store) SelectWhere(pred func(*Item) bool) int {
	n := 0
	for _, id := range s.order {
		if it := s.items[id]; pred(it) {
			it.selected = true
			n++
		}
	}
	return n
}

// ClearSelection unmarks every item.
func (s *Store) ClearSelection() {
	for _, it := range s.items {
		it.selected = false
	}
}

// Selected returns the selected items sorted by identifier.
func (s *Store) Selected() []*Item {
	var out []*Item
	for _, id := range s.order {
		if it := s.items[id]; it.selected {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Transition moves an item to a new status. It is the ONLY status mutator
// and rejects illegal transitions with a TransitionError instead of a
// silent no-op. A transition to the current status is a legal no-op, which
// keeps outcome replay idempotent.
func (s *Store) Transition(id string, to Status, failure *Failure) error {
	it, ok := s.items[id]
	if !ok {
		return fmt.Errorf("transition: unknown item %s", id)
	}
	if !CanTransition(it.Status, to) {
		return &TransitionError{ID: id, From: it.Status, To: to}
	}

	it.Status = to
	switch to {
	case StatusFailed:
		it.LastError = failure
	case StatusSent:
		it.LastError = nil
	}
	return nil
}

// SellerTally is the per-seller sent/pending breakdown used by the
// preview's duplicate-send warning.
type SellerTally struct {
	Sent    int
	Pending int
}

// SentSummary tallies, for each seller appearing in the selection, how
// many of that seller's items across the whole working set are already
// sent versus still pending.
func (s *Store) SentSummary() map[string]SellerTally {
	selected := make(map[string]bool)
	for _, it := range s.items {
		if it.selected {
			selected[it.Seller] = true
		}
	}

	out := make(map[string]SellerTally, len(selected))
	for _, it := range s.items {
		if !selected[it.Seller] {
			continue
		}
		tally := out[it.Seller]
		switch it.Status {
		case StatusSent:
			tally.Sent++
		case StatusPending:
			tally.Pending++
		}
		out[it.Seller] = tally
	}
	return out
}
