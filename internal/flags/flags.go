package flags

// Package flags defines canonical CLI flag names shared across the CLI and engine.
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().StringVar(&cfg.Cohort.File, flags.FlagCohort, "", "...")
const (
	// Cohort
	FlagCohort        = "cohort"
	FlagCaller        = "caller"
	FlagIdentityCache = "identity-cache"

	// Query
	FlagParam       = "param"
	FlagStrategy    = "strategy"
	FlagConcurrency = "concurrency"
	FlagTimeout     = "timeout"
	FlagStrict      = "strict"
	FlagMaxPageSize = "max-page-size"

	// Retry
	FlagRetryAttempts = "retry-attempts"
	FlagRetryDelay    = "retry-delay"
	FlagRetryMaxDelay = "retry-max-delay"

	// Output
	FlagConsoleFormat       = "console-format"
	FlagConsoleFilterStatus = "console-filter-status"
	FlagReport              = "report"
	FlagOut                 = "out"
	FlagOutFormat           = "out-format"
	FlagEmit                = "emit"
	FlagNoConsole           = "no-console"
	FlagMetricsFile         = "metrics-file"

	// Telemetry
	FlagOTLPEndpoint    = "otlp-endpoint"
	FlagTraceSampleRate = "trace-sample-rate"

	// Runtime
	FlagLogLevel = "log-level"
	FlagVerbose  = "verbose"
)
