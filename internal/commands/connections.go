package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campusconnect/campus-cli/internal/connections"
	"github.com/campusconnect/campus-cli/internal/output"
)

// NewConnectionsCmd creates the connections command group.
func NewConnectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connections",
		Aliases: []string{"conn"},
		Short:   "Manage connections with other students",
	}

	cmd.AddCommand(
		newConnectionsStudentsCmd(),
		newConnectionsSendCmd(),
		newConnectionsRespondCmd(),
		newConnectionsCancelCmd(),
		newConnectionsRequestsCmd(),
		newConnectionsListCmd(),
		newConnectionsRemoveCmd(),
	)

	return cmd
}

// connectionsAction wires the common prelude: app, session check, then
// one call on the connection service.
func connectionsAction(summary string, call func(ctx context.Context, s *connections.Service, args []string) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := requireApp(cmd)
		if err != nil {
			return err
		}
		if err := requireAuth(cmd, app); err != nil {
			return err
		}

		data, err := call(cmd.Context(), app.Gateway.Connections(), args)
		if err != nil {
			return err
		}

		var opts []output.ResponseOption
		if n, ok := countItems(data); ok {
			opts = append(opts, output.WithSummary(fmt.Sprintf("%s (%d)", summary, n)))
		} else {
			opts = append(opts, output.WithSummary(summary))
		}
		return app.OK(data, opts...)
	}
}

func countItems(data any) (int, bool) {
	raw, ok := data.(json.RawMessage)
	if !ok {
		return 0, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return 0, false
	}
	return len(items), true
}

func newConnectionsStudentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "students",
		Short: "List students you can connect with",
		RunE: connectionsAction("Students", func(ctx context.Context, s *connections.Service, _ []string) (any, error) {
			return s.Students(ctx)
		}),
	}
}

func newConnectionsSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <user-id>",
		Short: "Send a connection request",
		Args:  cobra.ExactArgs(1),
		RunE: connectionsAction("Connection request sent", func(ctx context.Context, s *connections.Service, args []string) (any, error) {
			return s.SendRequest(ctx, args[0])
		}),
	}
}

func newConnectionsRespondCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "respond <request-id> accept|reject",
		Short:     "Accept or reject a connection request",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{connections.Accept, connections.Reject},
		RunE: connectionsAction("Connection request answered", func(ctx context.Context, s *connections.Service, args []string) (any, error) {
			return s.Respond(ctx, args[0], args[1])
		}),
	}
}

func newConnectionsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <request-id>",
		Short: "Cancel a request you sent",
		Args:  cobra.ExactArgs(1),
		RunE: connectionsAction("Connection request cancelled", func(ctx context.Context, s *connections.Service, args []string) (any, error) {
			return s.Cancel(ctx, args[0])
		}),
	}
}

func newConnectionsRequestsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requests",
		Short: "List pending requests, sent and received",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			if err := requireAuth(cmd, app); err != nil {
				return err
			}

			reqs, err := app.Gateway.Connections().Requests(cmd.Context())
			if err != nil {
				return err
			}
			return app.OK(reqs, output.WithSummary(
				fmt.Sprintf("%d sent, %d received", len(reqs.Sent), len(reqs.Received))))
		},
	}
}

func newConnectionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your connections",
		RunE: connectionsAction("Connections", func(ctx context.Context, s *connections.Service, _ []string) (any, error) {
			return s.List(ctx)
		}),
	}
}

func newConnectionsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <connection-id>",
		Short: "Remove a connection",
		Args:  cobra.ExactArgs(1),
		RunE: connectionsAction("Connection removed", func(ctx context.Context, s *connections.Service, args []string) (any, error) {
			return s.Remove(ctx, args[0])
		}),
	}
}
