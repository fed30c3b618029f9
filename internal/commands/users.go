package commands

import (
	"github.com/spf13/cobra"

	"github.com/campusconnect/campus-cli/internal/output"
)

// NewUsersCmd creates the users command group.
func NewUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Look up other users",
	}
	cmd.AddCommand(newUsersShowCmd())
	return cmd
}

func newUsersShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a user's profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			if !isNumeric(args[0]) {
				return output.ErrUsage("User ID must be a number")
			}
			if err := requireAuth(cmd, app); err != nil {
				return err
			}

			u, err := app.Gateway.Users().ByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return app.OK(u,
				output.WithSummary(u.FullName()),
				output.WithMeta("profile_picture_url", app.Gateway.ProfilePictureURL(u)),
				output.WithBreadcrumbs(output.Breadcrumb{
					Action:      "connect",
					Cmd:         "campus connections send " + args[0],
					Description: "Send a connection request",
				}),
			)
		},
	}
}
