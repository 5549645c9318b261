// Command stagehand drives development-pipeline workflows: a policy
// gate, a fixed stage pipeline executed by external workers, durable
// artifacts, and an offline bypass analyzer over the execution log.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

// Exit codes.
const (
	exitOK       = 0
	exitBlocked  = 1
	exitStage    = 2
	exitInternal = 3
)

// exitError carries a process exit code up through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:           "stagehand",
	Short:         "policy-gated pipeline orchestration engine",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: no file, built-in defaults + STAGEHAND_* env)")
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "stagehand: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitInternal)
	}
}
