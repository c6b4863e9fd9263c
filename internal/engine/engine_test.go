package engine

import (
	"bytes"
	"cohortq/internal/config"
	"cohortq/internal/federation"
	"cohortq/internal/output"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

const seedEast = `
entities:
  - guid: asset-1
    typeName: Asset
    version: 2
    updateTime: 2026-03-01T12:00:00Z
    properties:
      owner: ops
  - guid: asset-2
    typeName: Asset
    version: 1
    updateTime: 2026-03-01T12:00:00Z
    properties:
      owner: data
relationships:
  - guid: rel-1
    typeName: Owns
    end1Guid: asset-1
    end2Guid: asset-2
    version: 1
    updateTime: 2026-03-01T12:00:00Z
`

const seedWest = `
entities:
  - guid: asset-1
    typeName: Asset
    version: 5
    updateTime: 2026-04-01T12:00:00Z
    properties:
      owner: ops
  - guid: asset-3
    typeName: Asset
    version: 1
    updateTime: 2026-03-01T12:00:00Z
    properties:
      owner: ops
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// writeCohort writes a two-member memory cohort. westFailure injects a
// failure into the second member.
func writeCohort(t *testing.T, westFailure string) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "east.yaml", seedEast)
	writeFile(t, dir, "west.yaml", seedWest)

	cohort := `
callerId: tester
repositories:
  - name: east
    kind: memory
    seed: east.yaml
  - name: west
    kind: memory
    seed: west.yaml
`
	if westFailure != "" {
		cohort += "    failure: " + westFailure + "\n"
	}
	return writeFile(t, dir, "cohort.yaml", cohort)
}

func newTestConfig(t *testing.T, cohortPath string, params ...string) *config.Config {
	t.Helper()
	cfg := config.New()
	cfg.Cohort.File = cohortPath
	cfg.Query.Params = params
	cfg.Query.Timeout = 5 * time.Second
	cfg.Retry.Attempts = 1
	cfg.Output.NoConsole = true
	cfg.Output.Out = filepath.Join(t.TempDir(), "out.json")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func newTestEngine(t *testing.T) (*Engine, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	e := NewEngine(zaptest.NewLogger(t))
	var stdout, stderr bytes.Buffer
	e.Stdout = &stdout
	e.Stderr = &stderr
	return e, &stdout, &stderr
}

func readReports(t *testing.T, path string) []output.Report {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var reports []output.Report
	if err := json.Unmarshal(b, &reports); err != nil {
		t.Fatalf("decode output: %v\n%s", err, b)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	return reports
}

func TestEngine_Run_GetEntityFromFirstRepository(t *testing.T) {
	cfg := newTestConfig(t, writeCohort(t, ""), "guid=asset-1")
	e, stdout, stderr := newTestEngine(t)

	if code := e.Run(context.Background(), cfg, "get-entity"); code != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr=%q)", code, stderr.String())
	}
	if stdout.Len() != 0 || stderr.Len() != 0 {
		t.Fatalf("expected no console output with --no-console, got stdout=%q stderr=%q", stdout.String(), stderr.String())
	}

	r := readReports(t, cfg.Output.Out)[0]
	if r.State != "satisfied" {
		t.Fatalf("expected satisfied, got %s", r.State)
	}
	if r.SatisfiedBy != "east" {
		t.Fatalf("expected east to satisfy the call, got %q", r.SatisfiedBy)
	}
	if r.Strategy != "sequential" {
		t.Fatalf("expected the operation's default strategy, got %q", r.Strategy)
	}
	if r.CallID == "" {
		t.Fatalf("expected the report to carry the call id")
	}
}

func TestEngine_Run_FindEntitiesMergesCohort(t *testing.T) {
	cfg := newTestConfig(t, writeCohort(t, ""), "property.owner=ops")
	e, _, stderr := newTestEngine(t)

	if code := e.Run(context.Background(), cfg, "find-entities"); code != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr=%q)", code, stderr.String())
	}

	r := readReports(t, cfg.Output.Out)[0]
	if !r.Complete || r.Coverage != "2 of 2 repositories answered" {
		t.Fatalf("expected complete coverage, got complete=%v coverage=%q", r.Complete, r.Coverage)
	}
	result, ok := r.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected an object result, got %T", r.Result)
	}
	if total, _ := result["total"].(float64); total != 2 {
		t.Fatalf("expected 2 merged matches, got %v", result["total"])
	}
}

func TestEngine_Run_PartialAnswer(t *testing.T) {
	cfg := newTestConfig(t, writeCohort(t, "unavailable"), "property.owner=ops")
	e, _, _ := newTestEngine(t)

	if code := e.Run(context.Background(), cfg, "find-entities"); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}

	r := readReports(t, cfg.Output.Out)[0]
	if r.Complete {
		t.Fatalf("expected a partial answer")
	}
	if len(r.Failures) != 1 || r.Failures[0].Repository != "west" || r.Failures[0].Status != output.StatusUnavailable {
		t.Fatalf("expected west to be reported unavailable, got %+v", r.Failures)
	}
}

func TestEngine_Run_NothingFound(t *testing.T) {
	cfg := newTestConfig(t, writeCohort(t, ""), "guid=missing")
	e, _, _ := newTestEngine(t)

	if code := e.Run(context.Background(), cfg, "get-entity"); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if r := readReports(t, cfg.Output.Out)[0]; r.State != "exhausted" {
		t.Fatalf("expected exhausted, got %s", r.State)
	}
}

func TestEngine_Run_StrictAbortsOnMalformedRepository(t *testing.T) {
	cfg := newTestConfig(t, writeCohort(t, "malformed"), "property.owner=ops")
	cfg.Query.Strict = true
	e, _, _ := newTestEngine(t)

	if code := e.Run(context.Background(), cfg, "find-entities"); code != 3 {
		t.Fatalf("expected exit code 3, got %d", code)
	}
	r := readReports(t, cfg.Output.Out)[0]
	if r.Error == nil || r.Error.Code != federation.KindAborted.Code() {
		t.Fatalf("expected an aborted error, got %+v", r.Error)
	}
}

func TestEngine_Run_AllRepositoriesFailed(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cohort.yaml", `
repositories:
  - name: a
    kind: memory
    failure: unavailable
  - name: b
    kind: memory
    failure: unavailable
`)
	cfg := newTestConfig(t, path, "guid=asset-1")
	cfg.Retry.Attempts = 2
	cfg.Retry.Delay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	e, _, _ := newTestEngine(t)

	if code := e.Run(context.Background(), cfg, "get-entity"); code != 3 {
		t.Fatalf("expected exit code 3, got %d", code)
	}
	r := readReports(t, cfg.Output.Out)[0]
	if r.State != "exhausted" {
		t.Fatalf("expected exhausted, got %s", r.State)
	}
	if r.Error == nil || r.Error.Code != federation.KindAllRepositoriesFailed.Code() {
		t.Fatalf("expected all-repositories-failed, got %+v", r.Error)
	}
	if len(r.Failures) != 2 {
		t.Fatalf("expected both failures to be listed, got %+v", r.Failures)
	}
}

func TestEngine_Run_PreparationErrors(t *testing.T) {
	cohort := writeCohort(t, "")

	cases := []struct {
		name    string
		op      string
		params  []string
		mutate  func(*config.Config)
		wantErr string
	}{
		{name: "unknown operation", op: "classify-entity", wantErr: "operation not found"},
		{name: "missing parameter", op: "get-entity", wantErr: `requires parameter "guid"`},
		{name: "bad parameter", op: "get-entity", params: []string{"guid"}, wantErr: "expected key=value"},
		{name: "missing cohort", op: "get-entity", params: []string{"guid=x"}, mutate: func(c *config.Config) {
			c.Cohort.File = filepath.Join(t.TempDir(), "missing.yaml")
		}, wantErr: "read cohort file"},
		{name: "first responder in parallel is allowed", op: "get-entity", params: []string{"guid=asset-1"}, mutate: func(c *config.Config) {
			c.Query.Strategy = "parallel"
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newTestConfig(t, cohort, tc.params...)
			if tc.mutate != nil {
				tc.mutate(cfg)
			}
			e, _, stderr := newTestEngine(t)
			code := e.Run(context.Background(), cfg, tc.op)
			if tc.wantErr == "" {
				if code != 0 {
					t.Fatalf("expected exit code 0, got %d (stderr=%q)", code, stderr.String())
				}
				return
			}
			if code != 3 {
				t.Fatalf("expected exit code 3, got %d", code)
			}
			if !strings.Contains(stderr.String(), tc.wantErr) {
				t.Fatalf("expected stderr to contain %q, got %q", tc.wantErr, stderr.String())
			}
		})
	}
}

func TestEngine_Run_ConsoleAndMetrics(t *testing.T) {
	cfg := newTestConfig(t, writeCohort(t, ""), "guid=asset-1")
	cfg.Output.NoConsole = false
	cfg.Output.MetricsFile = filepath.Join(t.TempDir(), "cohortq.prom")
	e, stdout, stderr := newTestEngine(t)

	if code := e.Run(context.Background(), cfg, "get-entity"); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Cohort has 2 repositories.") {
		t.Fatalf("expected progress on stderr, got %q", stderr.String())
	}
	for _, want := range []string{"get-entity: asking 2 repositories (sequential)", "[OK] east", "SATISFIED get-entity: 1 of 2 repositories answered"} {
		if !strings.Contains(stdout.String(), want) {
			t.Fatalf("expected console output to contain %q, got:\n%s", want, stdout.String())
		}
	}

	b, err := os.ReadFile(cfg.Output.MetricsFile)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(b), "cohortq_") {
		t.Fatalf("expected cohortq metrics, got:\n%s", b)
	}
}

func TestEngine_Identify(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cohort.yaml", `
repositories:
  - name: east
    kind: memory
    id: east-collection
  - name: offline
    kind: rest
    url: http://127.0.0.1:1/
  - name: west
    kind: memory
`)
	cfg := newTestConfig(t, path)
	e, _, _ := newTestEngine(t)

	results, err := e.Identify(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, want := range []string{"east", "offline", "west"} {
		if results[i].Name != want || results[i].Position != i {
			t.Fatalf("expected %s at position %d, got %+v", want, i, results[i])
		}
	}
	if results[0].ID != "east-collection" || results[2].ID != "west" {
		t.Fatalf("unexpected ids: %q, %q", results[0].ID, results[2].ID)
	}
	offline := results[1]
	if offline.Err == nil {
		t.Fatalf("expected the offline repository to fail")
	}
	if offline.Code != federation.KindRepositoryUnavailable.Code() {
		t.Fatalf("expected code %s, got %q", federation.KindRepositoryUnavailable.Code(), offline.Code)
	}
	if strings.Contains(offline.Message, `"http://`) {
		t.Fatalf("expected request URL to be scrubbed, got %q", offline.Message)
	}
}

func TestExitCodeForOutcome(t *testing.T) {
	cases := []struct {
		name string
		out  *federation.Outcome
		err  error
		want int
	}{
		{name: "error", err: errors.New("boom"), want: 3},
		{name: "nil outcome", want: 3},
		{name: "complete", out: &federation.Outcome{Handles: 1, Result: found(true)}, want: 0},
		{name: "empty", out: &federation.Outcome{Handles: 1, Result: found(false)}, want: 1},
		{name: "opaque result", out: &federation.Outcome{Handles: 1, Result: 42}, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCodeForOutcome(tc.out, tc.err); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

type found bool

func (f found) Found() bool { return bool(f) }
