// Package commands implements the CLI commands.
package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/campusconnect/campus-cli/internal/appctx"
	"github.com/campusconnect/campus-cli/internal/output"
)

// requireApp returns the app from the command context.
func requireApp(cmd *cobra.Command) (*appctx.App, error) {
	app := appctx.FromContext(cmd.Context())
	if app == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	return app, nil
}

// requireAuth fails early when no session is stored.
func requireAuth(cmd *cobra.Command, app *appctx.App) error {
	if !app.Gateway.IsAuthenticated(cmd.Context()) {
		return output.ErrUsageHint("Not logged in", "Run: campus auth login")
	}
	return nil
}

// parseAssignments turns key=value pairs into a JSON object. Values that
// parse as JSON (numbers, booleans, null, quoted strings) keep their type;
// anything else is sent as a string.
func parseAssignments(pairs []string) (map[string]any, error) {
	fields := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, output.ErrUsage(fmt.Sprintf("Invalid field %q (expected key=value)", pair))
		}
		var typed any
		if err := json.Unmarshal([]byte(value), &typed); err == nil {
			fields[key] = typed
		} else {
			fields[key] = value
		}
	}
	return fields, nil
}

// readSecret reads one line from r without the trailing newline.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// passwordFromEnv returns CAMPUS_PASSWORD, for scripted logins.
func passwordFromEnv() string {
	return os.Getenv("CAMPUS_PASSWORD")
}

func isNumeric(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
