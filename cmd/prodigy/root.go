package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	dryRun     bool
	verbose    bool
	output     string
	cfgFile    string
	home       string
)

var rootCmd = &cobra.Command{
	Use:   "prodigy",
	Short: "Prodigy workflow orchestrator",
	Long: `prodigy drives YAML-defined workflows through a coding assistant:
sequential command chains or MapReduce fan-out jobs, checkpointed so an
interrupted run resumes without re-doing completed work.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		syncConfigFlagToEnv()
	},
}

// usageError marks an error as a user-input mistake (an unreadable or
// invalid workflow file, a resume id that is neither a job nor a session, or
// a job resume without --workflow) so Execute reports it with exit code 2
// instead of 1. Cobra's own flag and argument errors are not wrapped and
// exit with 1.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func newUsageError(format string, args ...interface{}) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// Execute runs the root command to completion, translating its outcome into
// the process exit code: 0 success, 2 usage error, 130 interrupted by
// SIGINT/SIGTERM, 1 any other failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "Error:", err)

	if ctx.Err() != nil {
		os.Exit(130)
	}
	var uerr *usageError
	if errors.As(err, &uerr) {
		os.Exit(2)
	}
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Plan the run without executing anything")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (json, table, yaml)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.prodigy/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&home, "home", "", "Prodigy home directory (default: .prodigy)")
}

func GetDryRun() bool     { return dryRun }
func GetVerbose() bool    { return verbose }
func GetOutput() string   { return output }
func GetConfigFile() string { return cfgFile }
func GetHome() string     { return home }

func VerbosePrintf(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format, args...)
	}
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(GetConfigFile())
	if path == "" {
		return
	}
	_ = os.Setenv("PRODIGY_CONFIG", path)
}
