package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewAnalyzeCommand runs one orchestrator batch.
func NewAnalyzeCommand(rootOpts *RootOptions) *cobra.Command {
	var batch int

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze one batch of pending bills and amendments",
		Long: `Claim up to --batch pending targets, least recently checked first,
run the analysis and record the outcome in the ledger.

Example:
  billsanalyzer analyze --batch 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, cfg, logger, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer closeApp(application, logger)

			size := batch
			if !cmd.Flags().Changed("batch") {
				size = cfg.Orchestrator.BatchSize
			}
			report, err := application.Analyze(commandContext(cmd), size)
			if err != nil {
				return WrapExitError(ExitCommandError, "analyze", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "attempted=%d completed=%d failed=%d skipped=%d\n",
				report.Attempted, report.Completed, report.Failed, report.Skipped)
			if report.Failed > 0 {
				return WrapExitError(ExitFailure, fmt.Sprintf("%d target(s) failed", report.Failed), nil)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&batch, "batch", "b", 0, "targets per batch (default orchestrator.batchSize)")
	return cmd
}
