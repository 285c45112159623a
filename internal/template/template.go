// Package template renders message bodies for seller communication. A
// template is selected by (order type, operation type); its body contains
// {variable} placeholders filled from a group payload, optionally preceded
// by conditional overrides that swap the whole body when a payload field
// matches.
package template

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// OrderType distinguishes the two order programs the trading operation
// runs: bulk fabric orders and swatch box orders.
type OrderType string

const (
	OrderFBO OrderType = "fbo"
	OrderSBO OrderType = "sbo"
)

// OperationType is the seller-communication workflow a message belongs to.
type OperationType string

const (
	OpShipmentRequest OperationType = "shipment_request"
	OpShipmentConfirm OperationType = "shipment_confirm"
	OpPurchaseOrder   OperationType = "po"
	OpPickupRequest   OperationType = "pickup_request"
)

// ErrMissingTemplate is returned when no template exists for the
// requested (order type, operation type) pair.
var ErrMissingTemplate = errors.New("template not found")

// MissingVariableError reports placeholders left unresolved after
// substitution. Rendering is all-or-nothing: a message with a hole in it
// must never reach a seller.
type MissingVariableError struct {
	Variables []string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("unresolved template variables: %s", strings.Join(e.Variables, ", "))
}

// Condition swaps the template body when a payload field matches.
// Operators: eq, ne, contains, gt, lt. gt/lt compare numerically when both
// sides parse as integers, bytewise otherwise.
type Condition struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    string `yaml:"value"`
	Template string `yaml:"template"`
}

// Template is one message shape. OrderDetailsFormat is the per-item line
// used to build the order_details payload variable.
type Template struct {
	Title              string      `yaml:"title"`
	Content            string      `yaml:"content"`
	OrderDetailsFormat string      `yaml:"order_details_format"`
	Conditions         []Condition `yaml:"conditions"`
}

// Renderer turns a payload into message text for an order/operation pair.
type Renderer interface {
	Render(order OrderType, op OperationType, payload map[string]any) (string, error)
}

// Store holds the loaded templates, keyed by order and operation type.
type Store struct {
	templates map[OrderType]map[OperationType]Template
}

// NewStore creates a Store from an explicit template map. Most callers use
// LoadFile instead.
func NewStore(templates map[OrderType]map[OperationType]Template) *Store {
	return &Store{templates: templates}
}

// Lookup returns the template for the pair, or ErrMissingTemplate.
func (s *Store) Lookup(order OrderType, op OperationType) (Template, error) {
	if ops, ok := s.templates[order]; ok {
		if tpl, ok := ops[op]; ok {
			return tpl, nil
		}
	}
	return Template{}, fmt.Errorf("%w: %s/%s", ErrMissingTemplate, order, op)
}

var placeholderRE = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Render selects the template, applies the first matching condition's
// override body, substitutes {variable} placeholders from the payload and
// fails if any placeholder remains unresolved. Render failures are never
// retried by the engine - the template or the data is wrong, and retrying
// will not fix either.
func (s *Store) Render(order OrderType, op OperationType, payload map[string]any) (string, error) {
	tpl, err := s.Lookup(order, op)
	if err != nil {
		return "", err
	}

	content := tpl.Content
	for _, cond := range tpl.Conditions {
		if cond.Template == "" {
			continue
		}
		if evaluateCondition(payload, cond) {
			content = cond.Template
			break
		}
	}

	rendered := substitute(content, payload)

	if missing := unresolved(rendered); len(missing) > 0 {
		return "", &MissingVariableError{Variables: missing}
	}
	return rendered, nil
}

// RenderDetailLine formats one item's line using the template's
// order_details_format. Unresolved placeholders are left in place here -
// the full-message check in Render catches them if they survive.
func (s *Store) RenderDetailLine(order OrderType, op OperationType, fields map[string]any) (string, error) {
	tpl, err := s.Lookup(order, op)
	if err != nil {
		return "", err
	}
	return substitute(tpl.OrderDetailsFormat, fields), nil
}

func substitute(content string, payload map[string]any) string {
	return placeholderRE.ReplaceAllStringFunc(content, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := payload[name]; ok {
			return stringify(v)
		}
		return match
	})
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

func unresolved(rendered string) []string {
	seen := make(map[string]bool)
	var missing []string
	for _, m := range placeholderRE.FindAllStringSubmatch(rendered, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			missing = append(missing, m[1])
		}
	}
	sort.Strings(missing)
	return missing
}

func evaluateCondition(payload map[string]any, cond Condition) bool {
	raw, ok := payload[cond.Field]
	if !ok {
		return false
	}
	got := stringify(raw)

	switch cond.Operator {
	case "eq":
		return got == cond.Value
	case "ne":
		return got != cond.Value
	case "contains":
		return strings.Contains(got, cond.Value)
	case "gt":
		return compare(got, cond.Value) > 0
	case "lt":
		return compare(got, cond.Value) < 0
	default:
		return false
	}
}

// compare prefers numeric ordering when both sides are integers.
func compare(a, b string) int {
	na, errA := strconv.Atoi(strings.TrimSpace(a))
	nb, errB := strconv.Atoi(strings.TrimSpace(b))
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}
