package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/campusconnect/campus-cli/internal/images"
	"github.com/campusconnect/campus-cli/internal/output"
)

// NewProfileCmd creates the profile command group.
func NewProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Edit your profile",
	}
	cmd.AddCommand(newProfileUpdateCmd(), newProfilePictureCmd())
	return cmd
}

func newProfileUpdateCmd() *cobra.Command {
	var sets []string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update profile fields",
		Long: `Update fields of your profile. Values that read as JSON keep their type.

Examples:
  campus profile update --set bio="Second-year CS" --set year=2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			fields, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			if err := requireAuth(cmd, app); err != nil {
				return err
			}

			u, err := app.Gateway.Users().UpdateProfile(cmd.Context(), fields)
			if err != nil {
				return err
			}
			return app.OK(u, output.WithSummary("Profile updated"))
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "Field to update as key=value (repeatable)")

	return cmd
}

func newProfilePictureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "picture <image>",
		Short: "Upload a profile picture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			contentType, err := images.Validate(args[0])
			if err != nil {
				return output.ErrUsage(err.Error())
			}
			f, err := os.Open(args[0])
			if err != nil {
				return output.ErrUsage(fmt.Sprintf("Cannot read %s: %v", args[0], err))
			}
			defer f.Close()

			if err := requireAuth(cmd, app); err != nil {
				return err
			}

			u, err := app.Gateway.Users().UploadProfilePicture(cmd.Context(), filepath.Base(args[0]), contentType, f)
			if err != nil {
				return err
			}
			return app.OK(u,
				output.WithSummary("Profile picture updated"),
				output.WithMeta("profile_picture_url", app.Gateway.ProfilePictureURL(u)),
			)
		},
	}
}
