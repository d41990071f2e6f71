package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

// Every failure exits 1 with a single-line stderr diagnostic; scripts only
// rely on zero/nonzero.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// CLIError labels a command failure with the step it came from.
type CLIError struct {
	Op  string
	Err error
}

func (e *CLIError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *CLIError) Unwrap() error { return e.Err }

// =============================================================================
// Root Command
// =============================================================================

var (
	configPath string

	// Populated by the root PersistentPreRunE before any subcommand runs.
	cfg    *Config
	logger *slog.Logger

	rootCmd = &cobra.Command{
		Use:   "trainship",
		Short: "Promote the local MARL training setup to a remote GPU host",
		Long: `trainship packages the locally running Isaac Lab training container
and project tree, ships them to a remote GPU host over SSH, and
starts the training container there.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = LoadConfig(configPath)
			if err != nil {
				return &CLIError{Op: "load config", Err: err}
			}
			logger = SetupLogger(cfg)
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.Version = fmt.Sprintf("%s (built %s)", Version, BuildTime)
	rootCmd.AddCommand(deployCmd, fetchLogsCmd, cleanupCmd, historyCmd)
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "trainship: %v\n", err)
		return ExitFailure
	}
	return ExitSuccess
}
