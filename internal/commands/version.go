package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campusconnect/campus-cli/internal/version"
)

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
			if build := version.Build(); build != "" {
				fmt.Fprintln(cmd.OutOrStdout(), build)
			}
		},
	}
}
