// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/term"

	"github.com/campusconnect/campus-cli/internal/config"
	"github.com/campusconnect/campus-cli/internal/gateway"
	"github.com/campusconnect/campus-cli/internal/observability"
	"github.com/campusconnect/campus-cli/internal/output"
	"github.com/campusconnect/campus-cli/internal/store"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config  *config.Config
	Store   store.KV
	Gateway *gateway.Gateway
	Output  *output.Writer
	Logger  *slog.Logger

	// Observability
	Collector *observability.SessionCollector
	Hooks     *observability.CLIHooks

	// Flags holds the global flag values
	Flags GlobalFlags

	stderr io.Writer
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	// Output format flags
	JSON   bool
	Quiet  bool
	Styled bool
	JQ     string

	// Context flags
	Host     string
	Platform string
	Store    string
	CacheDir string

	// Behavior flags
	Verbose int // 0=off, 1=operations, 2=operations+requests (stacks with -v -v or -vv)
	Stats   bool
}

// NewApp creates a new App over an opened credential store.
func NewApp(cfg *config.Config, kv store.KV) *App {
	// Collector always runs to gather stats; hooks control output verbosity.
	// Level 0 initially; ApplyFlags sets the actual level from -v flags.
	collector := observability.NewSessionCollector()
	hooks := observability.NewCLIHooks(0, collector, observability.NewTraceWriter())

	app := &App{
		Config:    cfg,
		Store:     kv,
		Logger:    slog.New(slog.DiscardHandler),
		Collector: collector,
		Hooks:     hooks,
		Output: output.New(output.Options{
			Format: output.ParseFormat(cfg.Format),
			Writer: os.Stdout,
		}),
		stderr: os.Stderr,
	}
	app.Gateway = app.newGateway()
	return app
}

func (a *App) newGateway() *gateway.Gateway {
	return gateway.New(a.Store, a.Config.BaseURL,
		gateway.WithTimeout(a.Config.Timeout),
		gateway.WithRetry(a.Config.MaxRetries, a.Config.RetryDelay),
		gateway.WithLogger(a.Logger),
		gateway.WithHooks(a.Hooks))
}

// ApplyFlags applies global flag values to the app configuration.
func (a *App) ApplyFlags() {
	format := output.ParseFormat(a.Config.Format)
	switch {
	case a.Flags.Quiet:
		format = output.FormatQuiet
	case a.Flags.JSON:
		format = output.FormatJSON
	case a.Flags.Styled:
		format = output.FormatStyled
	}
	a.Output = output.New(output.Options{
		Format: format,
		Writer: os.Stdout,
		JQ:     a.Flags.JQ,
	})

	if !a.Flags.Stats && a.Config.Stats != nil {
		a.Flags.Stats = *a.Config.Stats
	}

	verboseLevel := a.Flags.Verbose
	if verboseLevel == 0 && a.Config.Verbose != nil {
		verboseLevel = *a.Config.Verbose
	}
	verboseLevel = max(verboseLevel, debugLevel(os.Getenv("CAMPUS_DEBUG")))

	a.Hooks.SetLevel(verboseLevel)

	// Verbose mode enables debug logging via slog.
	if verboseLevel > 0 {
		a.Logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		a.Gateway = a.newGateway()
	}
}

// debugLevel parses CAMPUS_DEBUG: "1", "2", or "true" (full debug).
func debugLevel(v string) int {
	if v == "" {
		return 0
	}
	if level, err := strconv.Atoi(v); err == nil {
		return level
	}
	if v == "true" {
		return 2
	}
	return 0
}

// OK outputs a success response, automatically including stats if --stats flag is set.
func (a *App) OK(data any, opts ...output.ResponseOption) error {
	if a.Flags.Stats && a.Collector != nil {
		stats := a.Collector.Summary()
		opts = append(opts, output.WithStats(&stats))
	}
	return a.Output.OK(data, opts...)
}

// Err outputs an error response, printing stats to stderr if --stats flag is set.
func (a *App) Err(err error) error {
	if outputErr := a.Output.Err(err); outputErr != nil {
		return outputErr
	}

	// Quiet output is meant for programs; keep stderr clean there too.
	if a.Flags.Stats && a.Collector != nil && !a.isMachineOutput() {
		stats := a.Collector.Summary()
		a.printStats(&stats)
	}
	return nil
}

// isMachineOutput returns true if the output mode is intended for programmatic consumption.
func (a *App) isMachineOutput() bool {
	return a.Output.Format() == output.FormatQuiet || a.Flags.JQ != ""
}

// printStats outputs a compact stats line to stderr.
func (a *App) printStats(stats *observability.SessionMetrics) {
	if parts := stats.FormatParts(); len(parts) > 0 {
		fmt.Fprintf(a.stderr, "\nStats: %s\n", strings.Join(parts, " | "))
	}
}

// IsInteractive returns true if both ends of the terminal are attached and
// no machine output mode is set.
func (a *App) IsInteractive() bool {
	if a.Flags.JSON || a.Flags.Quiet || a.Flags.JQ != "" {
		return false
	}
	return term.IsTerminal(os.Stdin.Fd()) && term.IsTerminal(os.Stdout.Fd())
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
