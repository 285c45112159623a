// Package group partitions selected items into the per-message groups the
// dispatch builder turns into outbound messages.
package group

import (
	"sort"

	"github.com/swatchline/dispatch/internal/item"
)

// Key derives the grouping key for an item. An empty key marks the item
// ungroupable.
type Key func(*item.Item) string

// keySep joins key parts. Unit separator cannot occur in seller names or
// order numbers coming off the source sheet.
const keySep = "\x1f"

// BySellerOrder is the default key: one message per (seller, order number).
func BySellerOrder(it *item.Item) string {
	if it.Seller == "" || it.OrderNumber == "" {
		return ""
	}
	return it.Seller + keySep + it.OrderNumber
}

// BySeller groups all of a seller's items into a single message,
// the shape used by pickup requests.
func BySeller(it *item.Item) string {
	return it.Seller
}

// Group is a set of items expressed as one outbound message. Derived, not
// persisted; recomputed each cycle.
type Group struct {
	// Seller is the message target. All members share it.
	Seller string
	// OrderNumber is set when the key includes the order number,
	// empty for seller-wide groups.
	OrderNumber string
	// Members are sorted by identifier.
	Members []*item.Item

	key string
}

// Partition splits items into groups by key. The partition is
// deterministic: groups come back sorted by key and members by identifier.
// Items with an empty key are returned separately as ungroupable - they
// are excluded from dispatch but never silently dropped. Every groupable
// item lands in exactly one group, and every group has at least one member.
func Partition(items []*item.Item, key Key) (groups []Group, ungroupable []*item.Item) {
	if key == nil {
		key = BySellerOrder
	}

	byKey := make(map[string]*Group)
	var order []string
	for _, it := range items {
		k := key(it)
		if k == "" {
			ungroupable = append(ungroupable, it)
			continue
		}
		g, ok := byKey[k]
		if !ok {
			g = &Group{Seller: it.Seller, key: k}
			if it.OrderNumber != "" && sameOrderKey(k, it) {
				g.OrderNumber = it.OrderNumber
			}
			byKey[k] = g
			order = append(order, k)
		}
		g.Members = append(g.Members, it)
	}

	sort.Strings(order)
	groups = make([]Group, 0, len(order))
	for _, k := range order {
		g := byKey[k]
		sort.Slice(g.Members, func(i, j int) bool { return g.Members[i].ID < g.Members[j].ID })
		groups = append(groups, *g)
	}
	return groups, ungroupable
}

// sameOrderKey reports whether the key distinguishes order numbers, in
// which case the group can carry one. A seller-wide key mixes orders and
// the group-level order number stays empty.
func sameOrderKey(k string, it *item.Item) bool {
	return k == BySellerOrder(it)
}
