package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/swatchline/dispatch/internal/feed"
	"github.com/swatchline/dispatch/internal/ledger"
)

// NewImportCommand creates the import command: load a JSON export of raw
// order records into the ledger.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <records.json>",
		Short: "Import source records into the ledger",
		Long: `Read a JSON array of order records and upsert them into the ledger.
Rows whose content is unchanged keep their delivery status; changed rows
get a bumped revision and go back to pending.

Example:
  dispatch import -c dispatch.yaml orders.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, rootOpts, args[0])
		},
	}
	return cmd
}

func runImport(cmd *cobra.Command, rootOpts *RootOptions, path string) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	var source feed.SourceFeed = feed.File{Path: path}
	records, err := source.Fetch(cmd.Context(), time.Now())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read records", err)
	}

	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer led.Close()

	stored, dropped, err := feed.Import(cmd.Context(), led, records)
	if err != nil {
		return WrapExitError(ExitFailure, "import failed", err)
	}

	formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
	if rootOpts.Format == "json" {
		return formatter.Success(map[string]int{"received": len(records), "stored": stored, "dropped": dropped})
	}
	return formatter.Success(fmt.Sprintf("imported %d record(s), %d dropped", stored, dropped))
}
