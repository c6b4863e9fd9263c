package cli

import (
	"cohortq/internal/config"
	"cohortq/internal/engine"
	"cohortq/internal/flags"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const queryHelpTemplate = `{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}Usage:
  {{.UseLine}}

{{if .HasAvailableLocalFlags}}Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableInheritedFlags}}Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}Environment:
	REST repositories authenticate with a bearer token read from the
	environment variable named by the repository's tokenEnv in the cohort file.

  Example cohort file:
    callerId: analyst
    identityCache:
      addr: localhost:6379
      ttl: 1h
    repositories:
      - name: east
        url: https://east.example.com/api/metadata
        tokenEnv: EAST_TOKEN
        rateLimit: 20
      - name: lab
        kind: memory
        seed: lab-seed.yaml

{{if .HasAvailableSubCommands}}Available Commands:
{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasAvailableSubCommands}}Use "{{.CommandPath}} [command] --help" for more information about a command.
{{end}}`

var queryCmd = &cobra.Command{
	Use:   "query <operation>",
	Short: "Run a federated operation against a cohort",
	Long: `Run one federated operation against every repository of a cohort.

Repositories are asked in cohort-file order (--strategy sequential) or all at
once (--strategy parallel). A repository that cannot be reached is recorded
and skipped; the call fails only when no repository answers. Use
"cohortq operations list" to see the available operations and their parameters.

Output:
	Console output is controlled by --console-format (default: text).
	Structured outputs can be written via:
	- --out / --out-format: write an aggregate JSON array or NDJSON stream to a file
	- --emit: write an additional structured stream to stdout (json or ndjson)
	- --report: write a Markdown summary
	- --no-console: suppress the console sink (use with --emit/--out for machine output)

	NDJSON mode emits one JSON object per line. Objects are lifecycle Events with a
	"type" field (call.started, repository.answered, repository.failed,
	call.finished, call.report). The consolidated result is an Event with type
	"call.report" and a nested "report" object.

Exit codes:
	0 = every repository answered
	1 = every repository answered but nothing was found
	2 = partial answer (some repositories failed)
	3 = fatal error (no answer)

Examples:
  cohortq query get-entity --cohort cohort.yaml --param guid=asset-1

  cohortq query find-entities --cohort cohort.yaml \
    --param type=Asset --param property.owner=ops --param size=20

  # AI Agent: stream machine-readable events to stdout
  cohortq query get-relationships --cohort cohort.yaml --param guid=asset-1 --emit ndjson
`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			_ = cmd.Help()
			return
		}
		os.Exit(runQuery(cmd, cfg, args[0], cmd.ErrOrStderr()))
	},
}

// runQuery validates cfg and runs the operation, returning the exit code.
func runQuery(cmd *cobra.Command, cfg *config.Config, opID string, stderr io.Writer) int {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 3
	}
	applyImplicitDefaults(cmd, cfg)

	eng := engine.NewEngine(logger)
	eng.Stdout = cmd.OutOrStdout()
	eng.Stderr = stderr
	return eng.Run(context.Background(), cfg, strings.TrimSpace(opID))
}

// applyImplicitDefaults keeps stdout machine-readable: when --emit streams to
// stdout and the console format was not chosen explicitly, the text console
// is suppressed instead of being interleaved with the stream.
func applyImplicitDefaults(cmd *cobra.Command, cfg *config.Config) {
	if len(cfg.Output.Emit) == 0 || cmd == nil {
		return
	}
	if cmd.Flags().Changed(flags.FlagConsoleFormat) || cmd.Flags().Changed(flags.FlagNoConsole) {
		return
	}
	cfg.Output.NoConsole = true
}

func bindCohortFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&cfg.Cohort.File, flags.FlagCohort, "", "Cohort file listing the repositories to federate (YAML)")
	cmd.Flags().StringVar(&cfg.Cohort.CallerID, flags.FlagCaller, "", "User id sent to every repository (default: the cohort file's callerId)")
	cmd.Flags().StringVar(&cfg.Cohort.RedisAddr, flags.FlagIdentityCache, "", "Redis address for the shared repository identity cache (default: the cohort file's identityCache.addr; empty = in-memory)")
	cmd.Flags().IntVar(&cfg.Query.Concurrency, flags.FlagConcurrency, cfg.Query.Concurrency, "Maximum repositories asked at once (0 = unbounded)")
	cmd.Flags().DurationVar(&cfg.Query.Timeout, flags.FlagTimeout, cfg.Query.Timeout, "Deadline for the whole call")
	cmd.Flags().IntVar(&cfg.Retry.Attempts, flags.FlagRetryAttempts, cfg.Retry.Attempts, "Attempts per repository for transient failures, including the first (1 = no retries)")
	cmd.Flags().DurationVar(&cfg.Retry.Delay, flags.FlagRetryDelay, cfg.Retry.Delay, "Wait before the first retry; later retries back off exponentially")
	cmd.Flags().DurationVar(&cfg.Retry.MaxDelay, flags.FlagRetryMaxDelay, cfg.Retry.MaxDelay, "Upper bound for the retry backoff")
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.SetHelpTemplate(queryHelpTemplate)

	// MAINTAINER NOTE: If you add/change/remove any query-affecting flags here,
	// keep internal/config/config.go (fields and Validate) in sync.

	// Cohort
	bindCohortFlags(queryCmd)

	// Query
	queryCmd.Flags().StringArrayVar(&cfg.Query.Params, flags.FlagParam, nil, "Operation parameter as key=value (repeatable; see 'cohortq operations show <operation>')")
	queryCmd.Flags().StringVar(&cfg.Query.Strategy, flags.FlagStrategy, "", "How repositories are asked: sequential|parallel (default: the operation's default)")
	queryCmd.Flags().BoolVar(&cfg.Query.Strict, flags.FlagStrict, false, "Abort the call on the first malformed response or conflicting copy")
	queryCmd.Flags().IntVar(&cfg.Query.MaxPageSize, flags.FlagMaxPageSize, cfg.Query.MaxPageSize, "Largest page a call may return")

	// Output
	queryCmd.Flags().StringVar(&cfg.Output.ConsoleFormat, flags.FlagConsoleFormat, "text", "Console output format: text|json|ndjson (default: text)")
	queryCmd.Flags().StringSliceVar(&cfg.Output.ConsoleFilterStatus, flags.FlagConsoleFilterStatus, nil, "Filter per-repository console lines by status (OK, UNAVAILABLE, MALFORMED, CONFLICT, ABORTED). Comma-separated.")
	queryCmd.Flags().StringVar(&cfg.Output.Report, flags.FlagReport, "", "Write a Markdown report to this path")
	queryCmd.Flags().StringVar(&cfg.Output.Out, flags.FlagOut, "", "Write structured output to this path")
	queryCmd.Flags().StringVar(&cfg.Output.OutFormat, flags.FlagOutFormat, "", "Structured output format for --out: json|ndjson (default: inferred from file extension)")
	queryCmd.Flags().StringSliceVar(&cfg.Output.Emit, flags.FlagEmit, nil, "Emit additional structured stream to stdout: json|ndjson (repeatable; comma-separated accepted). Suppresses the text console unless --console-format is given")
	queryCmd.Flags().BoolVar(&cfg.Output.NoConsole, flags.FlagNoConsole, false, "Suppress console output (use with --emit/--out/--report)")
	queryCmd.Flags().StringVar(&cfg.Output.MetricsFile, flags.FlagMetricsFile, "", "Write Prometheus metrics in text format to this path when the call ends")

	// Telemetry
	queryCmd.Flags().StringVar(&cfg.Telemetry.OTLPEndpoint, flags.FlagOTLPEndpoint, "", "Export traces to this OTLP/gRPC collector (host:port; empty = tracing off)")
	queryCmd.Flags().Float64Var(&cfg.Telemetry.SampleRate, flags.FlagTraceSampleRate, cfg.Telemetry.SampleRate, "Fraction of calls traced (0..1)")
}
