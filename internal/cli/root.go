package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"BillsAnalyzer/internal/app"
	"BillsAnalyzer/internal/config"
	"BillsAnalyzer/internal/logging"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a run finished with failures
	ExitCommandError = 2 // bad flags, config or database
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error, ExitFailure by default.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool

	// AppOptions overrides adapters (for testing).
	AppOptions app.Options
}

// NewRootCommand creates the billsanalyzer command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "billsanalyzer",
		Short: "Congressional bill ingestion and analysis",
		Long: `billsanalyzer syncs bills and amendments from the Congress.gov API,
tracks each one through a processing ledger and stores an AI analysis per item.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config (default $BILLS_ANALYZER_CONFIG)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewAnalyzeCommand(opts))
	cmd.AddCommand(NewReclaimCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}

// openApp loads config, builds the logger on the command's stderr and opens the application.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app.Application, config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, config.Config{}, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	level := cfg.Logging.Level
	if opts.Verbose {
		level = "debug"
	}
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), level, cfg.Logging.Format)

	application, err := app.New(commandContext(cmd), cfg, logger, opts.AppOptions)
	if err != nil {
		return nil, config.Config{}, nil, WrapExitError(ExitCommandError, "failed to open application", err)
	}
	return application, cfg, logger, nil
}

func closeApp(application *app.Application, logger *slog.Logger) {
	if err := application.Close(); err != nil {
		logger.Error("error closing database", "error", err)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
