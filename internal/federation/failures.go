package federation

import (
	"fmt"
	"strings"
)

// Failure is one handle's failure within a federated call.
type Failure struct {
	Source Source
	Err    error
}

// Failures records per-handle failures of one federated call in the order
// they were observed. Two handles reporting the same repository id are kept
// as separate entries. The zero value is ready to use.
type Failures struct {
	entries []Failure
	anon    int
}

func (f *Failures) record(src Source, err error) {
	if src.RepositoryID == "" {
		// Handles that never produced an id still have to be accounted for.
		f.anon++
		src.RepositoryID = RepositoryID(fmt.Sprintf("<unidentified-%d>", f.anon))
	}
	f.entries = append(f.entries, Failure{Source: src, Err: err})
}

// Len returns the number of failed handles.
func (f *Failures) Len() int {
	if f == nil {
		return 0
	}
	return len(f.entries)
}

// Entries returns every recorded failure in observation order.
func (f *Failures) Entries() []Failure {
	if f == nil {
		return nil
	}
	out := make([]Failure, len(f.entries))
	copy(out, f.entries)
	return out
}

// IDs returns the failed repository ids in observation order. An id reported
// by more than one handle appears once per handle.
func (f *Failures) IDs() []RepositoryID {
	if f == nil {
		return nil
	}
	out := make([]RepositoryID, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Source.RepositoryID)
	}
	return out
}

// Get returns the first failure recorded for id.
func (f *Failures) Get(id RepositoryID) (error, bool) {
	if f == nil {
		return nil, false
	}
	for _, e := range f.entries {
		if e.Source.RepositoryID == id {
			return e.Err, true
		}
	}
	return nil, false
}

// Map returns the failures keyed by repository id. When several handles
// share an id, the later ones are keyed "id#position".
func (f *Failures) Map() map[RepositoryID]error {
	out := make(map[RepositoryID]error, f.Len())
	if f == nil {
		return out
	}
	for _, e := range f.entries {
		key := e.Source.RepositoryID
		if _, dup := out[key]; dup {
			key = RepositoryID(fmt.Sprintf("%s#%d", key, e.Source.Position))
		}
		out[key] = e.Err
	}
	return out
}

func (f *Failures) String() string {
	if f.Len() == 0 {
		return ""
	}
	parts := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		parts = append(parts, fmt.Sprintf("%s: %v", e.Source.RepositoryID, causeOf(e.Err)))
	}
	return strings.Join(parts, "; ")
}

func causeOf(err error) error {
	if fe, ok := err.(*Error); ok && fe.Cause != nil {
		return fe.Cause
	}
	return err
}
