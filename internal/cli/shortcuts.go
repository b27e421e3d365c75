package cli

import (
	"github.com/spf13/cobra"
)

// AddShortcuts adds shortcut commands to the root command.
// Shortcuts provide convenient aliases for commonly-used operations.
func AddShortcuts(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newPageShortcut("next", "Show the next page (shortcut for 'page next')"))
	rootCmd.AddCommand(newPageShortcut("prev", "Show the previous page (shortcut for 'page prev')"))
}

// newPageShortcut creates a shortcut for 'page <target>'.
func newPageShortcut(target, short string) *cobra.Command {
	cmd := newPageCmd()
	cmd.Use = target
	cmd.Short = short
	cmd.Long = short + `.

Equivalent to: rescale-gallery page ` + target
	cmd.Args = cobra.NoArgs

	run := cmd.RunE
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return run(c, []string{target})
	}
	return cmd
}
