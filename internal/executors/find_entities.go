package executors

import (
	"cohortq/internal/federation"
	"cohortq/internal/metadata"
	"fmt"
	"time"
)

// EntityListResult is the consolidated answer of a find-entities call.
type EntityListResult struct {
	Entities []*metadata.EntityDetail `json:"entities" yaml:"entities"`
	// Sources maps each returned entity GUID to the repository whose copy won.
	Sources map[string]federation.RepositoryID `json:"sources,omitempty" yaml:"sources,omitempty"`
	// Total is the number of distinct entities found before paging.
	Total int `json:"total" yaml:"total"`
}

// Found reports whether any repository had a matching entity.
func (r EntityListResult) Found() bool {
	return r.Total > 0
}

// FindEntities searches every repository in the cohort and merges the
// matches, deduplicating by GUID. It is never satisfied early.
type FindEntities struct {
	req         metadata.FindEntitiesRequest
	maxPageSize int
	strict      bool
	merged      *consolidator[metadata.EntityDetail]
}

type FindEntitiesOption func(*FindEntities)

// WithStrictSearch aborts on malformed responses and on conflicting copies.
func WithStrictSearch() FindEntitiesOption {
	return func(e *FindEntities) { e.strict = true }
}

func WithSearchMaxPageSize(n int) FindEntitiesOption {
	return func(e *FindEntities) { e.maxPageSize = n }
}

func NewFindEntities(req metadata.FindEntitiesRequest, opts ...FindEntitiesOption) *FindEntities {
	e := &FindEntities{req: req, maxPageSize: metadata.DefaultMaxPageSize}
	for _, apply := range opts {
		apply(e)
	}
	e.merged = newConsolidator(e.strict,
		func(d *metadata.EntityDetail) string { return d.GUID },
		func(d *metadata.EntityDetail) (int64, time.Time) { return d.Version, d.UpdateTime },
		func(a, b *metadata.EntityDetail) bool { return a.SameContent(b) },
	)
	return e
}

func (e *FindEntities) Accept(src federation.Source, resp federation.Response) error {
	entities, err := entitiesFromResponse(resp)
	if err != nil {
		return err
	}
	// Validate the whole page before folding any of it in.
	for _, d := range entities {
		if err := d.Validate(); err != nil {
			return err
		}
		if !e.req.Matches(d) {
			return fmt.Errorf("entity %s does not match the search criteria", d.GUID)
		}
	}
	for _, d := range entities {
		if err := e.merged.add(src, d); err != nil {
			return err
		}
	}
	return nil
}

// Satisfied is always false: every repository has to be searched.
func (e *FindEntities) Satisfied() bool {
	return false
}

func (e *FindEntities) Result() any {
	all := e.merged.sorted()
	start, end := e.req.Paging.Window(len(all), e.maxPageSize)

	res := EntityListResult{
		Entities: make([]*metadata.EntityDetail, 0, end-start),
		Sources:  make(map[string]federation.RepositoryID, end-start),
		Total:    len(all),
	}
	for _, h := range all[start:end] {
		res.Entities = append(res.Entities, h.item)
		res.Sources[h.item.GUID] = h.src.RepositoryID
	}
	return res
}

func (e *FindEntities) Policy() federation.Policy {
	return federation.Policy{Strict: e.strict}
}

func entitiesFromResponse(resp federation.Response) ([]*metadata.EntityDetail, error) {
	switch v := resp.(type) {
	case nil:
		return nil, nil
	case []*metadata.EntityDetail:
		return v, nil
	case []metadata.EntityDetail:
		out := make([]*metadata.EntityDetail, len(v))
		for i := range v {
			out[i] = &v[i]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of entities, got %T", resp)
	}
}
