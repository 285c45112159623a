package engine

import (
	"context"
	"fmt"

	"github.com/swatchline/dispatch/internal/group"
	"github.com/swatchline/dispatch/internal/item"
	"github.com/swatchline/dispatch/internal/template"
)

// PreviewMessage is one would-be outbound message. Duplicate marks content
// already delivered in an earlier cycle; Problem carries the reason a
// group could not become a job.
type PreviewMessage struct {
	Seller      string
	OrderNumber string
	Destination string
	Message     string
	Fingerprint string
	ItemIDs     []string
	Duplicate   bool
	Problem     string
}

// PreviewReport is what the operator reviews before approving a cycle.
type PreviewReport struct {
	Messages    []PreviewMessage
	Ungroupable []string
	// SellerTallies flags sellers who already received messages for other
	// items, the pre-send duplicate warning the operator tool shows.
	SellerTallies map[string]item.SellerTally
}

// Preview builds the messages a cycle would send without delivering any
// of them and without mutating a single status. It reloads the ledger the
// same way RunCycle does, so the preview reflects what the next real
// cycle will see.
func (e *Engine) Preview(ctx context.Context, order template.OrderType, op template.OperationType, sel Selection) (*PreviewReport, error) {
	if err := e.init(ctx); err != nil {
		return nil, err
	}
	report := &CycleReport{}
	if err := e.load(ctx, sel, report); err != nil {
		return nil, err
	}

	groups, ungroupable := group.Partition(e.store.Selected(), e.key)
	out := &PreviewReport{SellerTallies: e.store.SentSummary()}
	for _, it := range ungroupable {
		out.Ungroupable = append(out.Ungroupable, it.ID)
	}

	for _, g := range groups {
		ids := make([]string, len(g.Members))
		for i, m := range g.Members {
			ids[i] = m.ID
		}
		msg := PreviewMessage{Seller: g.Seller, OrderNumber: g.OrderNumber, ItemIDs: ids}

		fp, err := groupFingerprint(order, op, g)
		if err != nil {
			return nil, fmt.Errorf("preview: fingerprint group %s/%s: %w", g.Seller, g.OrderNumber, err)
		}
		msg.Fingerprint = fp
		msg.Duplicate = e.sent.Has(fp)

		if dest, ok := e.resolver.Resolve(g.Seller); ok {
			msg.Destination = dest
		} else {
			msg.Problem = fmt.Sprintf("no destination for seller %q", g.Seller)
		}

		if text, err := e.builder.render(order, op, g); err == nil {
			msg.Message = text
		} else if msg.Problem == "" {
			msg.Problem = err.Error()
		}

		out.Messages = append(out.Messages, msg)
	}
	return out, nil
}
