// Package operations catalogs the federated operations cohortq can run and
// turns command-line parameters into a request and a fresh executor.
package operations

import (
	"cohortq/internal/federation"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type Operation interface {
	ID() string
	Title() string
	Description() string

	// Options lists the parameters Build understands.
	Options() []Option

	// DefaultStrategy is "sequential" or "parallel".
	DefaultStrategy() string

	// Build validates params and returns the request to send and a new
	// executor to fold the answers. Executors are single use.
	Build(params map[string]string, settings Settings) (federation.Request, federation.Executor, error)
}

type Option struct {
	Name        string
	Description string
	Default     string
	Required    bool

	// Prefix marks an option family such as "property.<name>".
	Prefix bool
}

// Settings carry run-wide choices that shape the executor.
type Settings struct {
	UserID      string
	Strict      bool
	Parallel    bool
	MaxPageSize int
}

// checkParams rejects parameters op does not declare and missing required ones.
func checkParams(op Operation, params map[string]string) error {
	exact := make(map[string]Option)
	var prefixes []string
	for _, opt := range op.Options() {
		if opt.Prefix {
			prefixes = append(prefixes, opt.Name)
			continue
		}
		exact[opt.Name] = opt
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, ok := exact[name]; ok {
			continue
		}
		if hasAnyPrefix(name, prefixes) {
			continue
		}
		return fmt.Errorf("unknown parameter %q for operation %q", name, op.ID())
	}

	for _, opt := range op.Options() {
		if opt.Required && strings.TrimSpace(params[opt.Name]) == "" {
			return fmt.Errorf("operation %q requires parameter %q", op.ID(), opt.Name)
		}
	}
	return nil
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) && len(name) > len(p) {
			return true
		}
	}
	return false
}

func intParam(params map[string]string, name string) (int, error) {
	raw := strings.TrimSpace(params[name])
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parameter %q must be an integer: %w", name, err)
	}
	return n, nil
}

func boolParam(params map[string]string, name string) (bool, error) {
	raw := strings.TrimSpace(params[name])
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parameter %q must be true or false: %w", name, err)
	}
	return b, nil
}

// ParseParams parses repeated key=value assignments. Later keys win.
func ParseParams(values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, raw := range values {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param entry %q: expected key=value", raw)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}
