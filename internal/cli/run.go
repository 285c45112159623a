package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/swatchline/dispatch/internal/channel"
	"github.com/swatchline/dispatch/internal/engine"
	"github.com/swatchline/dispatch/internal/ledger"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Order   string
	Op      string
	All     bool
	IDs     []string
	Confirm bool
}

// NewRunCommand creates the run command: one full dispatch cycle.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one dispatch cycle",
		Long: `Load records from the ledger, build deduplicated messages for the
selection, deliver them one at a time, and write the statuses back.

Ctrl-C is the emergency stop: the message in flight finishes, nothing
further starts, and everything settled so far is still written back.

Example:
  dispatch run -c dispatch.yaml --order fbo --op shipment_request --all
  dispatch run -c dispatch.yaml --order sbo --op pickup_request --ids a1,a2 --confirm`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Order, "order", "", "order type (fbo|sbo)")
	cmd.Flags().StringVar(&opts.Op, "op", "", "operation (shipment_request|shipment_confirm|po|pickup_request)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "dispatch every pending or failed item")
	cmd.Flags().StringSliceVar(&opts.IDs, "ids", nil, "dispatch the given item identifiers")
	cmd.Flags().BoolVar(&opts.Confirm, "confirm", false, "ask for approval before delivering")

	return cmd
}

func runCycle(cmd *cobra.Command, opts *RunOptions) error {
	// run never guesses what to send: both flags are required, unlike
	// preview, where a default is harmless.
	if opts.Order == "" {
		return WrapExitError(ExitCommandError, "missing --order", fmt.Errorf("run requires an explicit order type (fbo|sbo)"))
	}
	if opts.Op == "" {
		return WrapExitError(ExitCommandError, "missing --op", fmt.Errorf("run requires an explicit operation"))
	}
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

	ch := channel.WithBreaker(
		channel.NewConsole(cmd.OutOrStdout()),
		cfg.Breaker.Threshold,
		cfg.Breaker.Cooldown.Std(),
	)

	var gate engine.ApprovalGate = engine.AutoApprove{}
	if opts.Confirm {
		gate = &consoleGate{in: cmd.InOrStdin(), out: cmd.OutOrStdout()}
	}

	eng := engine.New(led, ch, renderer, engine.AddressBook(cfg.AddressBook), engine.Options{
		Key:      groupingKey(op),
		Gate:     gate,
		Delivery: deliveryConfig(cfg),
	})

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	report, err := eng.RunCycle(ctx, order, op, sel)
	if err != nil {
		if engine.IsFlushError(err) {
			// The messages went out; only the write-back is pending. Report
			// the cycle and fail so the operator retries.
			printReport(cmd, opts, report)
		}
		return WrapExitError(ExitFailure, "cycle failed", err)
	}
	return printReport(cmd, opts, report)
}

func printReport(cmd *cobra.Command, opts *RunOptions, report *engine.CycleReport) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return formatter.Success(report)
	}
	return formatter.Success(fmt.Sprintf(
		"cycle %s: loaded %d (dropped %d), selected %d, jobs %d, delivered %d, failed %d, skipped %d, cancelled %d",
		report.Token, report.Loaded, report.Dropped, report.Selected,
		report.Build.Jobs, report.Delivered, report.Failed,
		report.Build.SkippedDuplicates, report.Cancelled))
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// consoleGate lists the jobs and asks for a y/N before delivery.
type consoleGate struct {
	in  io.Reader
	out io.Writer
}

func (g *consoleGate) AwaitApproval(_ context.Context, jobs []*engine.Job) ([]*engine.Job, error) {
	if len(jobs) == 0 {
		return jobs, nil
	}
	fmt.Fprintf(g.out, "About to deliver %d message(s):\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(g.out, "  %s → %s (%d items)\n", job.Seller, job.Destination, len(job.ItemIDs))
	}
	fmt.Fprint(g.out, "Proceed? [y/N] ")

	line, err := bufio.NewReader(g.in).ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("read approval: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return jobs, nil
	default:
		fmt.Fprintln(g.out, "Nothing sent.")
		return nil, nil
	}
}
