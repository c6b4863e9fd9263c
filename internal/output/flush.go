package output

import (
	"encoding/json"
	"io"
)

type flusher interface {
	Flush() error
}

func flushIfPossible(w io.Writer) error {
	f, ok := w.(flusher)
	if !ok {
		return nil
	}
	return f.Flush()
}

// encodeStream writes v as one NDJSON line. Values other than Events and
// Reports are ignored.
func encodeStream(w io.Writer, v any) error {
	var e Event
	switch t := v.(type) {
	case Event:
		e = t
	case Report:
		e = eventFromReport(t)
	default:
		return nil
	}
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return err
	}
	return flushIfPossible(w)
}

// encodeAggregate writes the collected reports as one indented JSON array.
func encodeAggregate(w io.Writer, reports []Report) error {
	if reports == nil {
		reports = []Report{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(reports); err != nil {
		return err
	}
	return flushIfPossible(w)
}
