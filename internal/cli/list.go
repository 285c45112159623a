package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/swatchline/dispatch/internal/item"
	"github.com/swatchline/dispatch/internal/ledger"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Status []string
	Search string
}

// NewListCommand creates the list command: show the ledger's items.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items and their dispatch status",
		Long: `Load the ledger and print the items, optionally filtered by status or
a case-insensitive search over seller, order number and product.

Example:
  dispatch list -c dispatch.yaml --status failed
  dispatch list -c dispatch.yaml --search 한길`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Status, "status", nil, "filter by status (pending|in_progress|sent|failed)")
	cmd.Flags().StringVar(&opts.Search, "search", "", "search seller, order number and product")

	return cmd
}

func runList(cmd *cobra.Command, opts *ListOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	filter := item.Filter{Search: opts.Search}
	for _, raw := range opts.Status {
		status, err := item.ParseStatus(raw)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --status", err)
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer led.Close()

	records, err := led.ReadRecords(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read records", err)
	}
	store := item.NewStore()
	report := store.Load(records)
	items := store.Apply(filter)

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(items)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSELLER\tORDER\tPRODUCT\tQTY\tSTATUS\tLAST ERROR")
	for _, it := range items {
		lastError := ""
		if it.LastError != nil {
			lastError = it.LastError.Class + ": " + it.LastError.Message
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			it.ID, it.Seller, it.OrderNumber, it.Product, it.Quantity, it.Status, lastError)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if n := len(report.Dropped); n > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%d malformed record(s) not shown\n", n)
	}
	return nil
}
