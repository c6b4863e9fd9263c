package output

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// ReportSink writes a Markdown summary of every call on Close.
type ReportSink struct {
	path    string
	file    *os.File
	mu      sync.Mutex
	reports []Report
	repos   map[string]*repoStats
}

type repoStats struct {
	Repository string
	Answered   int
	Failed     map[string]int
	totalMs    int64
}

func (rs *repoStats) calls() int {
	n := rs.Answered
	for _, c := range rs.Failed {
		n += c
	}
	return n
}

func (rs *repoStats) meanLatencyMs() int64 {
	if n := rs.calls(); n > 0 {
		return rs.totalMs / int64(n)
	}
	return 0
}

func NewReportSink(path string) (*ReportSink, error) {
	if path == "" {
		return nil, fmt.Errorf("report path required")
	}

	f, err := createFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}

	return &ReportSink{
		path:  path,
		file:  f,
		repos: make(map[string]*repoStats),
	}, nil
}

func (s *ReportSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t := v.(type) {
	case Report:
		s.reports = append(s.reports, t)
	case Event:
		if t.Type != EventRepositoryAnswered && t.Type != EventRepositoryFailed {
			return nil
		}
		rs, ok := s.repos[t.Repository]
		if !ok {
			rs = &repoStats{Repository: t.Repository, Failed: make(map[string]int)}
			s.repos[t.Repository] = rs
		}
		rs.totalMs += t.ElapsedMs
		if t.Status == StatusOK {
			rs.Answered++
		} else {
			rs.Failed[t.Status]++
		}
	}
	return nil
}

func (s *ReportSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.file.WriteString(s.render())
	if closeErr := s.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func (s *ReportSink) render() string {
	var b strings.Builder
	b.WriteString("# cohortq Federation Report\n\n")

	complete, partial, failed := 0, 0, 0
	for _, r := range s.reports {
		switch {
		case r.Error != nil:
			failed++
		case r.Complete:
			complete++
		default:
			partial++
		}
	}
	fmt.Fprintf(&b, "- Calls: %d\n", len(s.reports))
	fmt.Fprintf(&b, "- Complete: %d\n", complete)
	fmt.Fprintf(&b, "- Partial: %d\n", partial)
	fmt.Fprintf(&b, "- Failed: %d\n\n", failed)

	b.WriteString("## Calls\n\n")
	if len(s.reports) == 0 {
		b.WriteString("No calls were made.\n\n")
	} else {
		b.WriteString("| Operation | Strategy | State | Coverage | Exit code |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, r := range s.reports {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %d |\n", r.Operation, r.Strategy, r.State, r.Coverage, r.ExitCode)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Repositories\n\n")
	repos := s.sortedRepos()
	if len(repos) == 0 {
		b.WriteString("No repository responded.\n\n")
	} else {
		b.WriteString("| Repository | Answered | Failed | Mean latency |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, rs := range repos {
			fmt.Fprintf(&b, "| %s | %d | %s | %dms |\n", rs.Repository, rs.Answered, formatFailed(rs.Failed), rs.meanLatencyMs())
		}
		b.WriteString("\n")
	}

	var failures []string
	for _, r := range s.reports {
		if r.Error != nil {
			failures = append(failures, fmt.Sprintf("- %s: `%s` %s", r.Operation, r.Error.Code, normalizeErrorReason(r.Error.Message)))
		}
		for _, f := range r.Failures {
			failures = append(failures, fmt.Sprintf("- %s on %s: `%s` %s", r.Operation, f.Repository, f.Code, normalizeErrorReason(f.Message)))
		}
	}
	if len(failures) > 0 {
		b.WriteString("## Failures\n\n")
		b.WriteString(strings.Join(failures, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

// Repositories with the most failures come first.
func (s *ReportSink) sortedRepos() []*repoStats {
	out := make([]*repoStats, 0, len(s.repos))
	for _, rs := range s.repos {
		out = append(out, rs)
	}
	sort.Slice(out, func(i, j int) bool {
		fi, fj := out[i].calls()-out[i].Answered, out[j].calls()-out[j].Answered
		if fi != fj {
			return fi > fj
		}
		return out[i].Repository < out[j].Repository
	})
	return out
}

func formatFailed(failed map[string]int) string {
	if len(failed) == 0 {
		return "0"
	}
	statuses := make([]string, 0, len(failed))
	for st := range failed {
		statuses = append(statuses, st)
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses))
	for _, st := range statuses {
		parts = append(parts, fmt.Sprintf("%d %s", failed[st], st))
	}
	return strings.Join(parts, ", ")
}

// normalizeErrorReason collapses whitespace and truncates long messages so
// they fit in a single report line.
func normalizeErrorReason(errText string) string {
	s := strings.Join(strings.Fields(errText), " ")
	s = strings.ReplaceAll(s, "|", "/")
	if len(s) > 120 {
		return s[:117] + "..."
	}
	return s
}
