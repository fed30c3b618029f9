package commands

import (
	"github.com/spf13/cobra"

	"github.com/campusconnect/campus-cli/internal/output"
)

// NewMeCmd creates the me command.
func NewMeCmd() *cobra.Command {
	var refresh, cached bool

	cmd := &cobra.Command{
		Use:   "me",
		Short: "Show the signed-in user",
		Long: `Show the signed-in user's profile.

The cached profile is used when present. --refresh always asks the backend;
--cached never does.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			if refresh && cached {
				return output.ErrUsage("--refresh and --cached cannot be combined")
			}

			if cached {
				u := app.Gateway.GetCachedUser(cmd.Context())
				if u == nil {
					return output.ErrUsageHint("No cached profile", "Run: campus me --refresh")
				}
				return app.OK(u, output.WithSummary(u.FullName()+" (cached)"))
			}

			if err := requireAuth(cmd, app); err != nil {
				return err
			}
			u, err := app.Gateway.GetCurrentUser(cmd.Context(), refresh)
			if err != nil {
				return err
			}

			return app.OK(u,
				output.WithSummary(u.FullName()),
				output.WithMeta("profile_picture_url", app.Gateway.ProfilePictureURL(u)),
				output.WithBreadcrumbs(output.Breadcrumb{
					Action:      "update",
					Cmd:         "campus profile update --set <field>=<value>",
					Description: "Update your profile",
				}),
			)
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Fetch from the backend, ignoring the cache")
	cmd.Flags().BoolVar(&cached, "cached", false, "Only read the cache")

	return cmd
}
