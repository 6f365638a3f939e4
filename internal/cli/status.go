package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"BillsAnalyzer/internal/domain"
)

// NewStatusCommand prints the ledger population per state, followed by the
// most recent failures when there are any.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var errorLimit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show how many targets are in each processing state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if errorLimit < 0 {
				return WrapExitError(ExitCommandError, "status", fmt.Errorf("--errors must be >= 0, got %d", errorLimit))
			}

			application, _, logger, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer closeApp(application, logger)

			ctx := commandContext(cmd)
			counts, err := application.Counts(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "status", err)
			}
			out := cmd.OutOrStdout()
			for _, st := range domain.Statuses {
				fmt.Fprintf(out, "%-10s %d\n", st, counts[st])
			}

			failed, err := application.RecentErrors(ctx, errorLimit)
			if err != nil {
				return WrapExitError(ExitCommandError, "status", err)
			}
			if len(failed) == 0 {
				return nil
			}
			fmt.Fprintln(out, "\nrecent errors:")
			for _, st := range failed {
				retry := "permanent"
				if st.Retryable {
					retry = "retryable"
				}
				fmt.Fprintf(out, "  %s %s %s %s\n", st.Target, formatTime(st.LastChecked), retry, st.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&errorLimit, "errors", 5, "recent error rows to list (0 disables)")
	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
