package item

import "strings"

// Filter describes a read-only view over the working set. Zero values
// match everything.
type Filter struct {
	// Search matches case-insensitively against seller, order number and
	// product descriptor.
	Search string
	// Statuses restricts to the given statuses; empty means all.
	Statuses []Status
	// Fields requires exact matches on raw source fields.
	Fields map[string]string
}

// Apply returns the items matching the filter, in load order. The
// underlying set is not mutated; in particular selection is untouched.
func (s *Store) Apply(f Filter) []*Item {
	statusSet := make(map[Status]bool, len(f.Statuses))
	for _, st := range f.Statuses {
		statusSet[st] = true
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))

	var out []*Item
	for _, id := range s.order {
		it := s.items[id]
		if len(statusSet) > 0 && !statusSet[it.Status] {
			continue
		}
		if search != "" && !matchesSearch(it, search) {
			continue
		}
		if !matchesFields(it, f.Fields) {
			continue
		}
		out = append(out, it)
	}
	return out
}

func matchesSearch(it *Item, search string) bool {
	return strings.Contains(strings.ToLower(it.Seller), search) ||
		strings.Contains(strings.ToLower(it.OrderNumber), search) ||
		strings.Contains(strings.ToLower(it.Product), search)
}

func matchesFields(it *Item, fields map[string]string) bool {
	for k, want := range fields {
		if it.Fields[k] != want {
			return false
		}
	}
	return true
}
