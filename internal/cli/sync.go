package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSyncCommand runs every configured feed once.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Pull changed bills and amendments once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, _, logger, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer closeApp(application, logger)

			reports, runErr := application.Sync(commandContext(cmd))
			out := cmd.OutOrStdout()
			for _, r := range reports {
				fmt.Fprintf(out, "%-24s seen=%d created=%d changed=%d watermark=%s\n",
					r.Feed, r.ItemsSeen, r.ItemsCreated, r.ItemsChanged, formatTime(r.NewWatermark))
			}
			if runErr != nil {
				return WrapExitError(ExitFailure, "sync finished with errors", runErr)
			}
			return nil
		},
	}
}
