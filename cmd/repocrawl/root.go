package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for repocrawl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repocrawl",
		Short: "Budget-aware, resumable GitHub repository crawler",
		Long: `repocrawl turns GitHub repository search results into a deduplicated
corpus of source code. Each repository is cloned once, purged of non-code
files and measured in tokens until the token budget is reached.

When the current popularity tier stops yielding new repositories, the
star threshold is lowered to the next configured tier. Interrupting the
crawl is safe: the next run resumes from the saved progress.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .repocrawl.yaml in current or home directory)")
	cmd.PersistentFlags().String("data-dir", "",
		"Directory for progress, ledger, records and clones (default: XDG data directory)")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewRecountCmd())
	cmd.AddCommand(NewExportCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
