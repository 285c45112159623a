package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/swatchline/dispatch/internal/fingerprint"
	"github.com/swatchline/dispatch/internal/group"
	"github.com/swatchline/dispatch/internal/item"
	"github.com/swatchline/dispatch/internal/ledger"
	"github.com/swatchline/dispatch/internal/template"
)

// Renderer produces outbound message text. *template.Store satisfies it.
type Renderer interface {
	Render(order template.OrderType, op template.OperationType, payload map[string]any) (string, error)
	RenderDetailLine(order template.OrderType, op template.OperationType, fields map[string]any) (string, error)
}

// DestinationResolver maps a seller name to a channel destination.
// Resolution failure is a channel-unreachable condition, not a panic:
// sellers come and go on the source sheet faster than the address book
// is maintained.
type DestinationResolver interface {
	Resolve(seller string) (destination string, ok bool)
}

// AddressBook is the static seller → destination mapping loaded from
// configuration. Lookups tolerate the stray spacing seller names carry.
type AddressBook map[string]string

// Resolve implements DestinationResolver.
func (ab AddressBook) Resolve(seller string) (string, bool) {
	if dest, ok := ab[seller]; ok {
		return dest, true
	}
	want := strings.Join(strings.Fields(seller), " ")
	for name, dest := range ab {
		if strings.Join(strings.Fields(name), " ") == want {
			return dest, true
		}
	}
	return "", false
}

// ledgerOwnedFields never contribute to a fingerprint: they describe the
// item's dispatch history, not the message content.
var ledgerOwnedFields = map[string]bool{
	"id":         true,
	"status":     true,
	"last_error": true,
	"revision":   true,
}

// BuildReport summarizes one Build call.
type BuildReport struct {
	Groups            int
	Jobs              int
	SkippedDuplicates int
	Unresolved        int
	RenderFailures    int
}

// Builder turns item groups into dispatch jobs. Groups whose fingerprint
// is already in the sent set are settled immediately as sent; groups that
// cannot resolve a destination or render a message are settled as failed.
// Only groups that survive all three gates become jobs.
//
// Builder mutates item status for the groups it settles and returns the
// matching ledger updates, so that skipped and failed groups reach the
// write-back batch even though they never produce an outcome.
type Builder struct {
	store    *item.Store
	renderer Renderer
	resolver DestinationResolver

	now   func() time.Time
	newID func() string
}

// NewBuilder wires a builder over the cycle's working set.
func NewBuilder(store *item.Store, renderer Renderer, resolver DestinationResolver) *Builder {
	return &Builder{
		store:    store,
		renderer: renderer,
		resolver: resolver,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Build walks the groups in partition order and returns the jobs to
// deliver plus the status updates for groups settled without delivery.
func (b *Builder) Build(order template.OrderType, op template.OperationType, groups []group.Group, sent *fingerprint.Set) ([]*Job, ledger.StatusBatch, BuildReport, error) {
	var jobs []*Job
	settled := ledger.StatusBatch{}
	report := BuildReport{Groups: len(groups)}

	for _, g := range groups {
		fp, err := groupFingerprint(order, op, g)
		if err != nil {
			return nil, nil, report, fmt.Errorf("build: fingerprint group %s/%s: %w", g.Seller, g.OrderNumber, err)
		}

		if sent.Has(fp) {
			b.settle(g, item.StatusSent, nil, settled)
			report.SkippedDuplicates++
			slog.Info("group skipped, content already delivered",
				"seller", g.Seller, "order_number", g.OrderNumber, "fingerprint", fp[:12])
			continue
		}

		dest, ok := b.resolver.Resolve(g.Seller)
		if !ok {
			b.settle(g, item.StatusFailed, &item.Failure{
				Class:   string(ClassChannelUnreachable),
				Message: fmt.Sprintf("no destination for seller %q", g.Seller),
			}, settled)
			report.Unresolved++
			slog.Warn("group unresolved, seller missing from address book", "seller", g.Seller)
			continue
		}

		text, err := b.render(order, op, g)
		if err != nil {
			b.settle(g, item.StatusFailed, &item.Failure{
				Class:   string(ClassRenderFailure),
				Message: err.Error(),
			}, settled)
			report.RenderFailures++
			slog.Warn("group failed to render", "seller", g.Seller, "order_number", g.OrderNumber, "err", err)
			continue
		}

		ids := make([]string, len(g.Members))
		for i, m := range g.Members {
			ids[i] = m.ID
		}
		jobs = append(jobs, &Job{
			ID:          b.newID(),
			Seller:      g.Seller,
			Destination: dest,
			Message:     text,
			Fingerprint: fp,
			ItemIDs:     ids,
			CreatedAt:   b.now(),
		})
		report.Jobs++
	}

	return jobs, settled, report, nil
}

// settle moves every member of a group to a final status without delivery
// and records the matching ledger update. An illegal transition is logged
// and skipped rather than aborting the cycle: the item keeps its prior
// status and the ledger keeps its prior row.
func (b *Builder) settle(g group.Group, to item.Status, failure *item.Failure, batch ledger.StatusBatch) {
	for _, m := range g.Members {
		if err := b.store.Transition(m.ID, to, failure); err != nil {
			slog.Warn("group settle skipped item", "id", m.ID, "to", to, "err", err)
			continue
		}
		update := ledger.StatusUpdate{Status: string(to)}
		if failure != nil {
			update.Error = failureText(failure)
		}
		batch[m.ID] = update
	}
}

// failureText is the ledger wire form of a failure. Store.buildItem splits
// it back on the first ": " when restoring state.
func failureText(f *item.Failure) string {
	if f.Class == "" {
		return f.Message
	}
	return f.Class + ": " + f.Message
}

// groupFingerprint digests the group's message-relevant content.
func groupFingerprint(order template.OrderType, op template.OperationType, g group.Group) (string, error) {
	members := make([]fingerprint.Member, len(g.Members))
	for i, m := range g.Members {
		fields := make(map[string]string, len(m.Fields))
		for k, v := range m.Fields {
			if ledgerOwnedFields[k] {
				continue
			}
			fields[k] = v
		}
		members[i] = fingerprint.Member{ID: m.ID, Fields: fields}
	}
	return fingerprint.Compute(string(order), string(op), members)
}

// render produces the outbound text for a group: a numbered per-order
// detail block substituted into the operation's template.
func (b *Builder) render(order template.OrderType, op template.OperationType, g group.Group) (string, error) {
	details, orderCount, err := b.orderDetails(order, op, g)
	if err != nil {
		return "", err
	}

	payload := map[string]any{
		"store_name":     g.Seller,
		"order_number":   g.OrderNumber,
		"order_details":  details,
		"total_orders":   orderCount,
		"total_products": len(g.Members),
	}
	// Surface the first member's raw fields for template placeholders that
	// reference source columns directly. Computed keys win.
	if len(g.Members) > 0 {
		for k, v := range g.Members[0].Fields {
			if _, taken := payload[k]; taken || ledgerOwnedFields[k] {
				continue
			}
			payload[k] = v
		}
	}

	return b.renderer.Render(order, op, payload)
}

// orderDetails renders the member items as numbered blocks, one per order
// number, each line rendered through the operation's detail format.
func (b *Builder) orderDetails(order template.OrderType, op template.OperationType, g group.Group) (string, int, error) {
	byOrder := make(map[string][]*item.Item)
	var orders []string
	for _, m := range g.Members {
		if _, seen := byOrder[m.OrderNumber]; !seen {
			orders = append(orders, m.OrderNumber)
		}
		byOrder[m.OrderNumber] = append(byOrder[m.OrderNumber], m)
	}
	sort.Strings(orders)

	var sb strings.Builder
	for i, ord := range orders {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, ord)
		if ts := byOrder[ord][0].Fields["ordered_at"]; ts != "" {
			fmt.Fprintf(&sb, " (%s 주문)", ts)
		}
		for j, m := range byOrder[ord] {
			line, err := b.renderer.RenderDetailLine(order, op, detailFields(m))
			if err != nil {
				return "", 0, fmt.Errorf("detail line for item %s: %w", m.ID, err)
			}
			fmt.Fprintf(&sb, "\n    %d) %s", j+1, line)
		}
	}
	return sb.String(), len(orders), nil
}

func detailFields(m *item.Item) map[string]any {
	fields := make(map[string]any, len(m.Fields)+2)
	for k, v := range m.Fields {
		fields[k] = v
	}
	fields["product_name"] = m.Product
	fields["quantity"] = m.Quantity
	return fields
}
