package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields that affect query
	// behavior, keep the CLI flags in internal/cli/query.go in sync.
	Cohort    Cohort
	Query     Query
	Retry     Retry
	Output    Output
	Telemetry Telemetry
	Runtime   Runtime
}

type Cohort struct {
	// File is the YAML cohort file listing the repositories to federate (see --cohort).
	File string

	// CallerID is passed to every repository when it is asked for its id and
	// sent as the user id of each request (see --caller). Overrides the
	// cohort file's callerId.
	CallerID string

	// RedisAddr enables the shared identity cache (see --identity-cache).
	// Overrides the cohort file's identityCache.addr.
	RedisAddr string
}

type Query struct {
	// Strategy selects how repositories are asked (see --strategy).
	// Allowed values: sequential, parallel. Empty means the operation's default.
	Strategy string

	// Concurrency bounds in-flight repository calls under the parallel strategy
	// (see --concurrency). 0 means unbounded.
	Concurrency int

	// Timeout is the deadline for one federated call (see --timeout).
	// Must be > 0.
	Timeout time.Duration

	// Strict aborts the call on the first malformed response (see --strict).
	Strict bool

	// MaxPageSize caps the page size a caller may ask for (see --max-page-size).
	MaxPageSize int

	// Params are the operation parameters as key=value (see --param).
	Params []string
}

type Retry struct {
	// Attempts is the total number of tries per repository call, including the
	// first (see --retry-attempts). 1 disables retries.
	Attempts int

	// Delay is the wait before the first retry (see --retry-delay).
	// Later retries back off exponentially up to MaxDelay.
	Delay time.Duration

	// MaxDelay caps the backoff (see --retry-max-delay).
	MaxDelay time.Duration
}

type Output struct {
	// ConsoleFormat controls the human-facing console sink format (see --console-format).
	// Allowed values: text, json, ndjson.
	ConsoleFormat string

	// ConsoleFilterStatus filters per-repository console lines by status
	// (see --console-filter-status). Allowed values: OK, UNAVAILABLE, MALFORMED, CONFLICT, ABORTED.
	ConsoleFilterStatus []string

	// Report writes a Markdown report to this path (see --report).
	Report string

	// Out writes structured output to this path (see --out).
	Out string

	// OutFormat selects the format for --out (see --out-format).
	// Allowed values: json, ndjson. If empty, it is inferred from the --out file extension.
	OutFormat string

	// Emit writes an additional structured event stream to stdout (see --emit).
	// Allowed values: json, ndjson.
	Emit []string

	// NoConsole suppresses the console sink (see --no-console).
	NoConsole bool

	// MetricsFile writes Prometheus metrics in text format to this path when
	// the run ends (see --metrics-file).
	MetricsFile string
}

type Telemetry struct {
	// OTLPEndpoint is the OTLP/gRPC collector address spans are exported to
	// (see --otlp-endpoint). Empty disables tracing.
	OTLPEndpoint string

	// SampleRate is the fraction of calls traced (see --trace-sample-rate).
	SampleRate float64

	ServiceName string
}

type Runtime struct {
	// LogLevel is the zap level for diagnostics on stderr (see --log-level).
	LogLevel string

	// Verbose logs every repository HTTP call (see --verbose).
	Verbose bool
}

var (
	consoleStatuses = []string{"OK", "UNAVAILABLE", "MALFORMED", "CONFLICT", "ABORTED"}
	logLevels       = []string{"debug", "info", "warn", "error"}
)

func New() *Config {
	return &Config{
		Query: Query{
			Concurrency: 4,
			Timeout:     30 * time.Second,
			MaxPageSize: 1000,
		},
		Retry: Retry{
			Attempts: 3,
			Delay:    200 * time.Millisecond,
			MaxDelay: 2 * time.Second,
		},
		Output: Output{
			ConsoleFormat: "text",
		},
		Telemetry: Telemetry{
			SampleRate:  1,
			ServiceName: "cohortq",
		},
		Runtime: Runtime{
			LogLevel: "warn",
		},
	}
}

func (c *Config) Validate() error {
	// Normalize comma-delimited list inputs.
	c.Output.Emit = splitCommaList(c.Output.Emit)
	c.Output.ConsoleFilterStatus = splitCommaList(c.Output.ConsoleFilterStatus)

	c.Cohort.File = strings.TrimSpace(c.Cohort.File)
	if c.Cohort.File == "" {
		return errors.New("--cohort must name a cohort file")
	}

	// Query validation
	c.Query.Strategy = normalizeEnumValue(c.Query.Strategy)
	if c.Query.Strategy != "" && c.Query.Strategy != "sequential" && c.Query.Strategy != "parallel" {
		return fmt.Errorf("unsupported --strategy: %s (must be one of: sequential, parallel)", c.Query.Strategy)
	}
	if c.Query.Concurrency < 0 {
		return errors.New("--concurrency must be >= 0")
	}
	if c.Query.Timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}
	if c.Query.MaxPageSize <= 0 {
		return errors.New("--max-page-size must be >= 1")
	}

	// Retry validation
	if c.Retry.Attempts < 1 {
		return errors.New("--retry-attempts must be >= 1")
	}
	if c.Retry.Delay < 0 || c.Retry.MaxDelay < 0 {
		return errors.New("retry delays must be >= 0")
	}
	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.Delay {
		return errors.New("--retry-max-delay must be >= --retry-delay")
	}

	// Output validation
	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	if c.Output.ConsoleFormat == "" {
		return errors.New("--console-format must be one of: text, json, ndjson")
	}
	if c.Output.ConsoleFormat != "text" && c.Output.ConsoleFormat != "json" && c.Output.ConsoleFormat != "ndjson" {
		return fmt.Errorf("unsupported --console-format: %s (must be one of: text, json, ndjson)", c.Output.ConsoleFormat)
	}

	for i, st := range c.Output.ConsoleFilterStatus {
		st = strings.ToUpper(st)
		if !slices.Contains(consoleStatuses, st) {
			return fmt.Errorf("unsupported --console-filter-status: %s (must be one of: %s)", st, strings.Join(consoleStatuses, ", "))
		}
		c.Output.ConsoleFilterStatus[i] = st
	}

	for i, emit := range c.Output.Emit {
		v := normalizeEnumValue(emit)
		if v != "json" && v != "ndjson" {
			return fmt.Errorf("unsupported --emit value: %s (must be one of: json, ndjson)", v)
		}
		c.Output.Emit[i] = v
	}

	if c.Output.Out != "" {
		c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
		if c.Output.OutFormat == "" {
			ext := strings.ToLower(filepath.Ext(c.Output.Out))
			switch ext {
			case ".json":
				c.Output.OutFormat = "json"
			case ".ndjson", ".jsonl":
				c.Output.OutFormat = "ndjson"
			default:
				if ext == "" {
					return errors.New("cannot infer output format from file extension (missing extension); use --out-format")
				}
				return fmt.Errorf("cannot infer output format from file extension %q; use --out-format", ext)
			}
		} else if c.Output.OutFormat != "json" && c.Output.OutFormat != "ndjson" {
			return fmt.Errorf("unsupported output format: %s", c.Output.OutFormat)
		}
	}

	// Telemetry validation
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("--trace-sample-rate must be between 0 and 1, got %g", c.Telemetry.SampleRate)
	}

	// Runtime validation
	c.Runtime.LogLevel = normalizeEnumValue(c.Runtime.LogLevel)
	if c.Runtime.LogLevel == "" {
		c.Runtime.LogLevel = "warn"
	}
	if !slices.Contains(logLevels, c.Runtime.LogLevel) {
		return fmt.Errorf("unsupported --log-level: %s (must be one of: %s)", c.Runtime.LogLevel, strings.Join(logLevels, ", "))
	}

	return nil
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
