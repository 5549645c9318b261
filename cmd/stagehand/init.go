package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/okanewa/stagehand/internal/setup"
)

var initCmd = &cobra.Command{
	Use:   "init <dir>",
	Short: "Initialize a stagehand workspace",
	Long: `Create the workspace skeleton (workflows/, artifacts/, logs/,
quarantine/) with a default config.yaml and policy.yaml in the given
directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, args []string) error {
	if err := setup.Run(args[0]); err != nil {
		return exitWith(exitInternal, err)
	}
	abs, _ := filepath.Abs(args[0])
	fmt.Printf("initialized stagehand workspace in %s\n", abs)
	fmt.Printf("next: edit %s, then run stagehand --config %s start <request>\n",
		filepath.Join(abs, "policy.yaml"), filepath.Join(abs, "config.yaml"))
	return nil
}
