package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

var (
	okColor      = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	headingColor = color.New(color.Bold)
)

type ConsoleSink struct {
	writer          io.Writer
	format          string // "text", "json", "ndjson"
	mu              sync.Mutex
	reports         []Report // For JSON array output
	allowedStatuses map[string]bool
}

func NewConsoleSink(w io.Writer, format string, filterStatuses []string) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}

	s := &ConsoleSink{
		writer: w,
		format: format,
	}

	if len(filterStatuses) > 0 {
		s.allowedStatuses = make(map[string]bool)
		for _, st := range filterStatuses {
			s.allowedStatuses[strings.ToUpper(strings.TrimSpace(st))] = true
		}
	}

	return s
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(v)
}

func (s *ConsoleSink) writeLocked(v any) error {
	// The filter applies to per-repository lines only; reports always print.
	if len(s.allowedStatuses) > 0 {
		if e, ok := v.(Event); ok && e.Repository != "" && !s.allowedStatuses[e.Status] {
			return nil
		}
	}

	switch s.format {
	case "json":
		if r, ok := v.(Report); ok {
			s.reports = append(s.reports, r)
		}
		return nil
	case "ndjson":
		return encodeStream(s.writer, v)
	case "text":
		switch t := v.(type) {
		case Event:
			if err := s.printEvent(t); err != nil {
				return err
			}
		case Report:
			if err := s.printReport(t); err != nil {
				return err
			}
		default:
			return nil
		}
		return flushIfPossible(s.writer)
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func (s *ConsoleSink) printEvent(e Event) error {
	var err error
	switch e.Type {
	case EventCallStarted:
		_, err = headingColor.Fprintf(s.writer, "%s: asking %d repositories (%s)\n", e.Operation, e.Handles, e.Strategy)
	case EventRepositoryAnswered:
		_, err = okColor.Fprintf(s.writer, "[%s] %s (%dms)\n", e.Status, e.Repository, e.ElapsedMs)
	case EventRepositoryFailed:
		c := warnColor
		if e.Status != StatusUnavailable {
			c = errorColor
		}
		_, err = c.Fprintf(s.writer, "[%s] %s: %s\n", e.Status, e.Repository, e.Message)
	}
	return err
}

func (s *ConsoleSink) printReport(r Report) error {
	c := okColor
	switch {
	case r.Error != nil:
		c = errorColor
	case !r.Complete:
		c = warnColor
	}
	if _, err := c.Fprintf(s.writer, "%s %s: %s\n", strings.ToUpper(r.State), r.Operation, r.Coverage); err != nil {
		return err
	}
	if r.Error != nil {
		if _, err := errorColor.Fprintf(s.writer, "error %s: %s\n", r.Error.Code, r.Error.Message); err != nil {
			return err
		}
	}
	if r.Result == nil {
		return nil
	}
	b, err := yaml.Marshal(r.Result)
	if err != nil {
		return fmt.Errorf("render result: %w", err)
	}
	_, err = fmt.Fprint(s.writer, indent(string(b), "  "))
	return err
}

func indent(text, prefix string) string {
	lines := strings.SplitAfter(text, "\n")
	var b strings.Builder
	for _, l := range lines {
		if l == "" {
			continue
		}
		b.WriteString(prefix)
		b.WriteString(l)
	}
	return b.String()
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == "json" {
		return encodeAggregate(s.writer, s.reports)
	}
	if s.format != "text" && s.format != "ndjson" {
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
	return nil
}
