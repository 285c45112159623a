package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/swatchline/dispatch/internal/channel"
	"github.com/swatchline/dispatch/internal/engine"
	"github.com/swatchline/dispatch/internal/ledger"
)

// PreviewOptions holds flags for the preview command.
type PreviewOptions struct {
	*RootOptions
	Order string
	Op    string
	All   bool
	IDs   []string
}

// NewPreviewCommand creates the preview command: show what a cycle would
// send without sending or writing anything.
func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PreviewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Preview the messages a cycle would send",
		Long: `Build the outbound messages for the selection and print them, along
with duplicate warnings, without delivering anything or touching a
single status.

Example:
  dispatch preview -c dispatch.yaml --order fbo --op shipment_request --all`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Order, "order", string(defaultOrder), "order type (fbo|sbo)")
	cmd.Flags().StringVar(&opts.Op, "op", string(defaultOp), "operation (shipment_request|shipment_confirm|po|pickup_request)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "preview every pending or failed item")
	cmd.Flags().StringSliceVar(&opts.IDs, "ids", nil, "preview the given item identifiers")

	return cmd
}

func runPreview(cmd *cobra.Command, opts *PreviewOptions) error {
	order, err := parseOrderType(opts.Order)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --order", err)
	}
	op, err := parseOperationType(opts.Op)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --op", err)
	}
	sel, err := selection(opts.All, opts.IDs)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid selection", err)
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	renderer, err := loadRenderer(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load templates", err)
	}
	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer led.Close()

	// Preview never touches the channel; a script stand-in satisfies the
	// engine's wiring.
	eng := engine.New(led, channel.NewScript(), renderer, engine.AddressBook(cfg.AddressBook),
		engine.Options{Key: groupingKey(op)})

	preview, err := eng.Preview(cmd.Context(), order, op, sel)
	if err != nil {
		return WrapExitError(ExitFailure, "preview failed", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return formatter.Success(preview)
	}
	printPreview(cmd, preview)
	return nil
}

func printPreview(cmd *cobra.Command, preview *engine.PreviewReport) {
	out := cmd.OutOrStdout()
	for _, msg := range preview.Messages {
		header := msg.Seller
		if msg.OrderNumber != "" {
			header += " / " + msg.OrderNumber
		}
		switch {
		case msg.Duplicate:
			fmt.Fprintf(out, "== %s [DUPLICATE, would be skipped] ==\n", header)
		case msg.Problem != "":
			fmt.Fprintf(out, "== %s [PROBLEM: %s] ==\n", header, msg.Problem)
		default:
			fmt.Fprintf(out, "== %s → %s ==\n", header, msg.Destination)
		}
		if msg.Message != "" {
			fmt.Fprintln(out, msg.Message)
		}
		fmt.Fprintln(out)
	}
	if len(preview.Ungroupable) > 0 {
		fmt.Fprintf(out, "ungroupable items: %v\n", preview.Ungroupable)
	}

	sellers := make([]string, 0, len(preview.SellerTallies))
	for seller := range preview.SellerTallies {
		sellers = append(sellers, seller)
	}
	sort.Strings(sellers)
	for _, seller := range sellers {
		tally := preview.SellerTallies[seller]
		if tally.Sent > 0 {
			fmt.Fprintf(out, "warning: %s already received messages for %d item(s), %d still pending\n",
				seller, tally.Sent, tally.Pending)
		}
	}
}
