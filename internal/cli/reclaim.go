package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewReclaimCommand runs the maintenance scans once.
func NewReclaimCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Return stale claims and cooled-down retryable errors to pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, _, logger, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer closeApp(application, logger)

			reclaimed, requeued, err := application.Reclaim(commandContext(cmd))
			if err != nil {
				return WrapExitError(ExitCommandError, "reclaim", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reclaimed=%d requeued=%d\n", reclaimed, requeued)
			return nil
		},
	}
}
