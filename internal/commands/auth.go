package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campusconnect/campus-cli/internal/auth"
	"github.com/campusconnect/campus-cli/internal/gateway"
	"github.com/campusconnect/campus-cli/internal/output"
	"github.com/campusconnect/campus-cli/internal/tui"
)

// NewAuthCmd creates the auth command group.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication",
		Long:  "Log in, log out, inspect and refresh the stored session.",
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
		newAuthRefreshCmd(),
		newAuthTokenCmd(),
		newAuthRegisterCmd(),
	)

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var username string
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with username and password",
		Long: `Exchange a username and password for a session.

Interactive terminals are prompted for anything missing. Scripts can pass
--username with the password on stdin (--password-stdin) or in
CAMPUS_PASSWORD.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			creds := auth.Credentials{Username: username}
			switch {
			case passwordStdin:
				if creds.Password, err = readSecret(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
			case passwordFromEnv() != "":
				creds.Password = passwordFromEnv()
			case app.IsInteractive():
				if creds, err = tui.LoginForm(username); err != nil {
					return err
				}
			}
			if creds.Username == "" || creds.Password == "" {
				return output.ErrUsageHint("Username and password are required",
					"Use --username with --password-stdin, or run interactively")
			}

			res, err := app.Gateway.Login(cmd.Context(), creds)
			if err != nil {
				return err
			}

			data := map[string]any{"status": "logged_in"}
			summary := "Logged in"
			if res.User.Valid() {
				data["user"] = res.User
				summary = "Logged in as " + res.User.FullName()
			}
			return app.OK(data,
				output.WithSummary(summary),
				output.WithBreadcrumbs(output.Breadcrumb{
					Action:      "me",
					Cmd:         "campus me",
					Description: "Show your profile",
				}),
			)
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Account username")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		Long:  "Remove the stored session and the cached profile for the current backend.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			if err := app.Gateway.HandleLogout(cmd.Context()); err != nil {
				return err
			}

			return app.OK(map[string]string{
				"status": "logged_out",
			}, output.WithSummary("Successfully logged out"))
		},
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		Long:  "Display what is stored locally: tokens, token expiry and the cached profile. The backend is not contacted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			status := app.Gateway.Status(cmd.Context())

			summary := "Not authenticated"
			switch {
			case status.IsAuthenticated && status.Expired:
				summary = "Authenticated (access token expired, will refresh on next request)"
			case status.IsAuthenticated && status.HasCachedUser:
				summary = "Authenticated as " + status.CachedUser.FullName()
			case status.IsAuthenticated:
				summary = "Authenticated"
			}

			return app.OK(status, output.WithSummary(summary))
		},
	}
}

func newAuthRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access token",
		Long:  "Mint a new access token from the stored refresh token. A failed refresh ends the session.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			if _, err := app.Gateway.Session().Refresh(cmd.Context()); err != nil {
				return err
			}

			return app.OK(map[string]string{
				"status": "refreshed",
			}, output.WithSummary("Token refreshed successfully"))
		},
	}
}

func newAuthTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the access token",
		Long: `Print the current access token to stdout for use with other tools.

Examples:
  curl -H "Authorization: Bearer $(campus auth token)" ...

Output modes:
  campus auth token           # Raw token (default, for shell substitution)
  campus auth token --json    # JSON envelope with token in data field`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			token := app.Gateway.Session().AccessToken(cmd.Context())
			if token == "" {
				return output.ErrAuth("Not authenticated")
			}

			if app.Flags.JSON {
				return app.OK(map[string]string{"token": token})
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func newAuthRegisterCmd() *cobra.Command {
	var reg gateway.Registration
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Long: `Create a new account. Registration does not log you in.

Interactive terminals are prompted for every field. Scripts pass the fields
as flags with the password on stdin (--password-stdin) or in CAMPUS_PASSWORD.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			switch {
			case passwordStdin:
				if reg.Password, err = readSecret(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
			case passwordFromEnv() != "":
				reg.Password = passwordFromEnv()
			case app.IsInteractive():
				if reg, err = tui.RegisterForm(reg); err != nil {
					return err
				}
			}

			data, err := app.Gateway.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}

			return app.OK(data,
				output.WithSummary("Account created for "+reg.Username),
				output.WithBreadcrumbs(output.Breadcrumb{
					Action:      "login",
					Cmd:         "campus auth login --username " + reg.Username,
					Description: "Log in",
				}),
			)
		},
	}

	cmd.Flags().StringVarP(&reg.Username, "username", "u", "", "Username (at least 3 characters)")
	cmd.Flags().StringVar(&reg.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&reg.Course, "course", "", "Course of study")
	cmd.Flags().StringVar(&reg.Year, "year", "", "Year of study (1-6)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")

	return cmd
}
