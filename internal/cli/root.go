// Package cli builds the campus command tree.
package cli

import (
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/campusconnect/campus-cli/internal/appctx"
	"github.com/campusconnect/campus-cli/internal/commands"
	"github.com/campusconnect/campus-cli/internal/config"
	"github.com/campusconnect/campus-cli/internal/output"
	"github.com/campusconnect/campus-cli/internal/store"
	"github.com/campusconnect/campus-cli/internal/version"
)

var shorthandFlagRe = regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:           "campus",
		Short:         "Command-line client for the campus network",
		Long:          "campus signs in to the campus backend, keeps the session fresh, and talks to its API.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip setup for help and version commands
			if skipSetup(cmd) {
				return nil
			}

			cfg, err := config.Load(config.FlagOverrides{
				Host:     flags.Host,
				Platform: flags.Platform,
				Store:    flags.Store,
				CacheDir: flags.CacheDir,
			})
			if err != nil {
				return output.ErrUsage(err.Error())
			}

			kv, err := store.Open(cmd.Context(), cfg)
			if err != nil {
				return output.ErrStorage("open credential store", err)
			}

			app := appctx.NewApp(cfg, kv)
			app.Flags = flags
			app.ApplyFlags()

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	// Allow flags anywhere in the command line
	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	// Output format flags
	cmd.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "Output as JSON")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Output data only, no envelope")
	cmd.PersistentFlags().BoolVar(&flags.Styled, "styled", false, "Force styled output (ANSI colors)")
	cmd.PersistentFlags().StringVar(&flags.JQ, "jq", "", "Filter JSON output with a jq expression")

	// Context flags
	cmd.PersistentFlags().StringVar(&flags.Host, "host", "", "Backend host (e.g., localhost:8000, campus.example.edu)")
	cmd.PersistentFlags().StringVar(&flags.Platform, "platform", "", "Client platform: web, android or ios")
	cmd.PersistentFlags().StringVar(&flags.Store, "store", "", "Credential store: auto, keyring, file, memory or redis")
	cmd.PersistentFlags().StringVar(&flags.CacheDir, "cache-dir", "", "Cache directory")

	// Behavior flags
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for ops, -vv for requests)")
	cmd.PersistentFlags().BoolVar(&flags.Stats, "stats", false, "Show session statistics")

	_ = cmd.RegisterFlagCompletionFunc("platform", cobra.FixedCompletions(
		[]string{"web", "android", "ios"}, cobra.ShellCompDirectiveNoFileComp))
	_ = cmd.RegisterFlagCompletionFunc("store", cobra.FixedCompletions(
		[]string{config.StoreAuto, config.StoreKeyring, config.StoreFile, config.StoreMemory, config.StoreRedis},
		cobra.ShellCompDirectiveNoFileComp))

	return cmd
}

func skipSetup(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", "version", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return true
	}
	return cmd.Parent() != nil && cmd.Parent().Name() == "completion"
}

// AddCommands registers every subcommand on root.
func AddCommands(root *cobra.Command) {
	root.AddCommand(
		commands.NewAuthCmd(),
		commands.NewMeCmd(),
		commands.NewUsersCmd(),
		commands.NewProfileCmd(),
		commands.NewCacheCmd(),
		commands.NewConnectionsCmd(),
		commands.NewChatCmd(),
		commands.NewConfigCmd(),
		commands.NewVersionCmd(),
	)
}

// Execute runs the root command.
func Execute() {
	cmd := NewRootCmd()
	AddCommands(cmd)

	// Use ExecuteC to get the executed command (for correct context access)
	executedCmd, err := cmd.ExecuteC()
	if err != nil {
		err = transformCobraError(err)
		apiErr := output.AsError(err)

		// Try to use app.Err() if app is available (for --stats support)
		if executedCmd != nil {
			if app := appctx.FromContext(executedCmd.Context()); app != nil {
				_ = app.Err(err)
				os.Exit(apiErr.ExitCode())
			}
		}

		// Fallback: output error directly (app not available, e.g., during setup)
		writer := output.New(output.Options{
			Format: fallbackFormat(cmd),
			Writer: os.Stdout,
		})
		_ = writer.Err(err)

		os.Exit(apiErr.ExitCode())
	}
}

// fallbackFormat picks the error format from the raw flags when setup
// failed before the app existed.
func fallbackFormat(cmd *cobra.Command) output.Format {
	pf := cmd.PersistentFlags()
	quiet, _ := pf.GetBool("quiet")
	jsonFlag, _ := pf.GetBool("json")
	styled, _ := pf.GetBool("styled")

	switch {
	case quiet:
		return output.FormatQuiet
	case jsonFlag:
		return output.FormatJSON
	case styled:
		return output.FormatStyled
	default:
		return output.FormatAuto
	}
}

// transformCobraError rewrites cobra's parse errors as usage errors with
// friendlier messages.
func transformCobraError(err error) error {
	msg := err.Error()

	// "flag needs an argument: --FLAG" → "--FLAG requires a value"
	if flag, ok := strings.CutPrefix(msg, "flag needs an argument: "); ok {
		return output.ErrUsage(flag + " requires a value")
	}

	// "unknown flag: --FLAG" → "Unknown option: --FLAG"
	if flag, ok := strings.CutPrefix(msg, "unknown flag: "); ok {
		return output.ErrUsage("Unknown option: " + flag)
	}

	// "unknown shorthand flag: 'X' in -X" → "Unknown option: -X"
	if matches := shorthandFlagRe.FindStringSubmatch(msg); len(matches) > 1 {
		return output.ErrUsage("Unknown option: " + matches[1])
	}

	if strings.HasPrefix(msg, "unknown command ") {
		return output.ErrUsageHint(msg, "Run 'campus --help' for usage")
	}

	if strings.Contains(msg, "invalid argument") {
		return output.ErrUsage(msg)
	}

	// "accepts N arg(s), received 0" → "ID required"
	if strings.Contains(msg, "arg(s), received 0") {
		return output.ErrUsage("ID required")
	}

	if strings.Contains(msg, "arg(s)") {
		return output.ErrUsage(msg)
	}

	return err
}
