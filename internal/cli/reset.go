package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"BillsAnalyzer/internal/domain"
)

// NewResetCommand moves one error target back to pending.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <bill|amendment> <id>",
		Short: "Queue a failed target for analysis again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseTarget(args[0], args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid target", err)
			}

			application, _, logger, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer closeApp(application, logger)

			if err := application.Reset(commandContext(cmd), target); err != nil {
				return WrapExitError(ExitFailure, "reset", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is pending\n", target)
			return nil
		},
	}
}

// NewDeleteCommand removes a target together with its ledger row and summary.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <bill|amendment> <id>",
		Short: "Delete a target with its status and summary",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseTarget(args[0], args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid target", err)
			}

			application, _, logger, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer closeApp(application, logger)

			if err := application.Delete(commandContext(cmd), target); err != nil {
				return WrapExitError(ExitFailure, "delete", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted\n", target)
			return nil
		},
	}
}

func parseTarget(kind, id string) (domain.Target, error) {
	tt, err := domain.ParseTargetType(kind)
	if err != nil {
		return domain.Target{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.Target{}, fmt.Errorf("parse id %q: %w", id, err)
	}
	return domain.Target{ID: parsed, Type: tt}, nil
}
