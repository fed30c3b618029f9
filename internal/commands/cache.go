package commands

import (
	"github.com/spf13/cobra"

	"github.com/campusconnect/campus-cli/internal/output"
)

// NewCacheCmd creates the cache command group.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the cached profile",
		Long:  "Inspect or clear the locally cached profile. Clearing the cache keeps you logged in.",
	}
	cmd.AddCommand(newCacheShowCmd(), newCacheClearCmd())
	return cmd
}

func newCacheShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the cached profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			u := app.Gateway.GetCachedUser(ctx)
			data := map[string]any{
				"cached":          u != nil,
				"tracked_account": app.Gateway.Cache().TrackedAccountID(ctx),
			}
			summary := "No cached profile"
			if u != nil {
				data["user"] = u
				summary = "Cached: " + u.FullName()
			}
			return app.OK(data, output.WithSummary(summary))
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the cached profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			if err := app.Gateway.ClearUserCache(cmd.Context()); err != nil {
				return err
			}
			return app.OK(map[string]string{"status": "cleared"},
				output.WithSummary("Cached profile cleared"))
		},
	}
}
