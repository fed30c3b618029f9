package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewChatCmd creates the chat command group.
func NewChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat room helpers",
	}
	cmd.AddCommand(newChatURLCmd())
	return cmd
}

func newChatURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url <room>",
		Short: "Print the authenticated socket URL for a chat room",
		Long: `Print the WebSocket URL for a chat room, carrying the current access token.

Examples:
  websocat "$(campus chat url general)"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			u, err := app.Gateway.WebSocketURL(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if app.Flags.JSON {
				return app.OK(map[string]string{"room": args[0], "url": u})
			}
			fmt.Fprintln(cmd.OutOrStdout(), u)
			return nil
		},
	}
}
