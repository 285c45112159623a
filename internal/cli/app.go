package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/swatchline/dispatch/internal/config"
	"github.com/swatchline/dispatch/internal/engine"
	"github.com/swatchline/dispatch/internal/group"
	"github.com/swatchline/dispatch/internal/template"
)

// loadConfig returns the parsed config file, or defaults when no file was
// given.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if opts.Config == "" {
		return config.Default(), nil
	}
	return config.Load(opts.Config)
}

// loadRenderer returns the configured template store, falling back to the
// embedded defaults.
func loadRenderer(cfg *config.Config) (*template.Store, error) {
	if cfg.TemplatesPath == "" {
		return template.DefaultStore(), nil
	}
	return template.LoadFile(cfg.TemplatesPath)
}

// Defaults for preview's --order/--op flags, matching the operation the
// tool is run for most. run requires both explicitly so a bare invocation
// cannot dispatch the wrong message by accident.
const (
	defaultOrder = template.OrderFBO
	defaultOp    = template.OpShipmentRequest
)

// sellerWideOps are the operations whose message covers all of a seller's
// orders at once. Everything else sends one message per (seller, order
// number).
var sellerWideOps = map[template.OperationType]bool{
	template.OpPickupRequest: true,
}

// groupingKey returns the grouping key for an operation.
func groupingKey(op template.OperationType) group.Key {
	if sellerWideOps[op] {
		return group.BySeller
	}
	return group.BySellerOrder
}

var orderTypes = map[string]template.OrderType{
	string(template.OrderFBO): template.OrderFBO,
	string(template.OrderSBO): template.OrderSBO,
}

var operationTypes = map[string]template.OperationType{
	string(template.OpShipmentRequest): template.OpShipmentRequest,
	string(template.OpShipmentConfirm): template.OpShipmentConfirm,
	string(template.OpPurchaseOrder):   template.OpPurchaseOrder,
	string(template.OpPickupRequest):   template.OpPickupRequest,
}

func parseOrderType(raw string) (template.OrderType, error) {
	if ot, ok := orderTypes[raw]; ok {
		return ot, nil
	}
	return "", fmt.Errorf("unknown order type %q: must be one of %s", raw, keysOf(orderTypes))
}

func parseOperationType(raw string) (template.OperationType, error) {
	if op, ok := operationTypes[raw]; ok {
		return op, nil
	}
	return "", fmt.Errorf("unknown operation %q: must be one of %s", raw, keysOf(operationTypes))
}

func keysOf[V any](m map[string]V) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}

func deliveryConfig(cfg *config.Config) engine.DeliveryConfig {
	return engine.DeliveryConfig{
		OpenTimeout:  cfg.Delivery.OpenTimeout.Std(),
		SendTimeout:  cfg.Delivery.SendTimeout.Std(),
		SendRetries:  cfg.Delivery.SendRetries,
		RetryBackoff: cfg.Delivery.RetryBackoff.Std(),
		MaxAttempts:  cfg.Delivery.MaxAttempts,
	}
}

// selection builds the engine selection from the --all/--ids flags.
func selection(all bool, ids []string) (engine.Selection, error) {
	if all && len(ids) > 0 {
		return engine.Selection{}, fmt.Errorf("--all and --ids are mutually exclusive")
	}
	if !all && len(ids) == 0 {
		return engine.Selection{}, fmt.Errorf("nothing selected: pass --all or --ids")
	}
	return engine.Selection{IDs: ids, AllEligible: all}, nil
}
