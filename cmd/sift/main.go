// Command sift analyzes Python source trees for likely defects.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes: 0 clean, 1 findings at or above the failure severity, 2 fatal.
const (
	exitClean    = 0
	exitFindings = 1
	exitFatal    = 2
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit %d", e.code) }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "sift:", err)
		os.Exit(exitFatal)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sift",
		Short:         "Static defect detection for Python",
		Long:          "Sift finds likely defects in Python source by structural matching\nand bounded symbolic execution with SMT feasibility checking.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newAnalyzeCmd())
	return cmd
}
