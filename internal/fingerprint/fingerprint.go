// Package fingerprint computes content-addressed digests for groups of
// order items. A fingerprint identifies a message by WHAT it says, not by
// when or how it was built: reloading the same source rows, in any order,
// yields the same fingerprint, which is what makes cross-reload duplicate
// suppression possible.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// domainGroup prefixes every digest for domain separation. The version
// suffix allows the algorithm to change without old fingerprints colliding
// with new ones.
const domainGroup = "dispatch/group/v1"

// Member is one item's contribution to a group fingerprint: its stable
// identifier plus the field values that affect the rendered message.
// Fields that do not appear in the message (selection flags, revisions,
// UI state) must not be included.
type Member struct {
	ID     string
	Fields map[string]string
}

// Compute returns the fingerprint for a group of members under the given
// order and operation type. It is pure and order-independent: members are
// sorted by ID before hashing, so any permutation of the same logical
// content produces an identical digest.
func Compute(orderType, operationType string, members []Member) (string, error) {
	sorted := make([]Member, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	items := make([]any, len(sorted))
	for i, m := range sorted {
		items[i] = map[string]any{
			"id":     m.ID,
			"fields": m.Fields,
		}
	}

	payload := map[string]any{
		"order_type":     orderType,
		"operation_type": operationType,
		"items":          items,
	}

	canonical, err := marshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("fingerprint: marshal group payload: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(domainGroup))
	h.Write([]byte{0x00}) // null separator prevents domain/payload boundary ambiguity
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MustCompute is like Compute but panics on error.
// Use only in tests where inputs are known to be valid.
func MustCompute(orderType, operationType string, members []Member) string {
	fp, err := Compute(orderType, operationType, members)
	if err != nil {
		panic(err)
	}
	return fp
}

// Set tracks fingerprints whose content has already been delivered.
// It is mutated only by the reconciler on the engine's worker goroutine;
// entries are never removed within a cycle.
type Set struct {
	sent map[string]struct{}
}

// NewSet creates a Set seeded with previously delivered fingerprints,
// typically loaded from the ledger at startup.
func NewSet(seed ...string) *Set {
	s := &Set{sent: make(map[string]struct{}, len(seed))}
	for _, fp := range seed {
		s.sent[fp] = struct{}{}
	}
	return s
}

// Has reports whether the fingerprint's content was already delivered.
func (s *Set) Has(fp string) bool {
	_, ok := s.sent[fp]
	return ok
}

// Add admits a fingerprint after its job fully terminated as delivered.
// Adding an existing fingerprint is a no-op.
func (s *Set) Add(fp string) {
	s.sent[fp] = struct{}{}
}

// All returns the fingerprints in sorted order, for persistence and tests.
func (s *Set) All() []string {
	out := make([]string, 0, len(s.sent))
	for fp := range s.sent {
		out = append(out, fp)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked fingerprints.
func (s *Set) Len() int {
	return len(s.sent)
}
