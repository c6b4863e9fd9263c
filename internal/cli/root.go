package cli

import (
	"cohortq/internal/config"
	"cohortq/internal/flags"
	"cohortq/internal/logging"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

// cfg is shared by every command; each command binds the flags it needs.
var cfg = config.New()

var rootCmd = &cobra.Command{
	Use:   "cohortq",
	Short: "Query a cohort of metadata repositories as if it were one",
	Long: `cohortq issues one metadata query to every repository of a cohort and
consolidates the answers into a single result.

Repositories that fail are isolated: the result says how many of the cohort
answered and why the others did not.

Examples:
	# Show available commands and global flags
	cohortq --help

	# Look an entity up across the cohort
	cohortq query get-entity --cohort cohort.yaml --param guid=asset-1

	# List operations
	cohortq operations list

	# Check every member of the cohort is reachable
	cohortq cohort identify --cohort cohort.yaml

	# Print build info
	cohortq version

Output:
	By default, commands write human-readable output to stdout and diagnostics to stderr.
	Some commands support structured output via emitter flags (see each command's --help).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		applyLoggingDefaults(cmd, cfg)
		l, err := logging.New(cfg.Runtime.LogLevel, cfg.Runtime.Verbose)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

// logger is built from --log-level before any command runs.
var logger = zap.NewNop()

func init() {
	rootCmd.PersistentFlags().StringVar(&cfg.Runtime.LogLevel, flags.FlagLogLevel, cfg.Runtime.LogLevel, "Diagnostic log level on stderr: debug|info|warn|error (default: warn)")
	rootCmd.PersistentFlags().BoolVar(&cfg.Runtime.Verbose, flags.FlagVerbose, false, "Enable verbose logging (prints every repository HTTP call and full error details)")
}

// applyLoggingDefaults raises the log level to debug for --verbose, because
// the per-request lines are logged at debug. An explicit --log-level wins.
func applyLoggingDefaults(cmd *cobra.Command, cfg *config.Config) {
	if !cfg.Runtime.Verbose || cmd == nil {
		return
	}
	if f := cmd.Flags().Lookup(flags.FlagLogLevel); f != nil && f.Changed {
		return
	}
	cfg.Runtime.LogLevel = "debug"
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	defer func() { _ = logger.Sync() }()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
