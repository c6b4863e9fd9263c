package executors

import (
	"cohortq/internal/federation"
	"cohortq/internal/metadata"
	"fmt"
	"time"
)

type RelationshipListResult struct {
	Relationships []*metadata.Relationship           `json:"relationships" yaml:"relationships"`
	Sources       map[string]federation.RepositoryID `json:"sources,omitempty" yaml:"sources,omitempty"`
	Total         int                                `json:"total" yaml:"total"`
}

func (r RelationshipListResult) Found() bool {
	return r.Total > 0
}

// GetRelationships gathers the relationships of one entity from every
// repository, deduplicating by relationship GUID.
type GetRelationships struct {
	req         metadata.GetRelationshipsRequest
	maxPageSize int
	strict      bool
	merged      *consolidator[metadata.Relationship]
}

type GetRelationshipsOption func(*GetRelationships)

func WithStrictRelationships() GetRelationshipsOption {
	return func(e *GetRelationships) { e.strict = true }
}

func WithRelationshipsMaxPageSize(n int) GetRelationshipsOption {
	return func(e *GetRelationships) { e.maxPageSize = n }
}

func NewGetRelationships(req metadata.GetRelationshipsRequest, opts ...GetRelationshipsOption) *GetRelationships {
	e := &GetRelationships{req: req, maxPageSize: metadata.DefaultMaxPageSize}
	for _, apply := range opts {
		apply(e)
	}
	e.merged = newConsolidator(e.strict,
		func(r *metadata.Relationship) string { return r.GUID },
		func(r *metadata.Relationship) (int64, time.Time) { return r.Version, r.UpdateTime },
		func(a, b *metadata.Relationship) bool { return a.SameContent(b) },
	)
	return e
}

func (e *GetRelationships) Accept(src federation.Source, resp federation.Response) error {
	rels, err := relationshipsFromResponse(resp)
	if err != nil {
		return err
	}
	for _, r := range rels {
		if err := r.Validate(); err != nil {
			return err
		}
		if !r.Touches(e.req.EntityGUID) {
			return fmt.Errorf("relationship %s does not involve entity %s", r.GUID, e.req.EntityGUID)
		}
		if e.req.TypeName != "" && r.TypeName != e.req.TypeName {
			return fmt.Errorf("relationship %s has type %s, asked for %s", r.GUID, r.TypeName, e.req.TypeName)
		}
	}
	for _, r := range rels {
		if err := e.merged.add(src, r); err != nil {
			return err
		}
	}
	return nil
}

func (e *GetRelationships) Satisfied() bool {
	return false
}

func (e *GetRelationships) Result() any {
	all := e.merged.sorted()
	start, end := e.req.Paging.Window(len(all), e.maxPageSize)

	res := RelationshipListResult{
		Relationships: make([]*metadata.Relationship, 0, end-start),
		Sources:       make(map[string]federation.RepositoryID, end-start),
		Total:         len(all),
	}
	for _, h := range all[start:end] {
		res.Relationships = append(res.Relationships, h.item)
		res.Sources[h.item.GUID] = h.src.RepositoryID
	}
	return res
}

func (e *GetRelationships) Policy() federation.Policy {
	return federation.Policy{Strict: e.strict}
}

func relationshipsFromResponse(resp federation.Response) ([]*metadata.Relationship, error) {
	switch v := resp.(type) {
	case nil:
		return nil, nil
	case []*metadata.Relationship:
		return v, nil
	case []metadata.Relationship:
		out := make([]*metadata.Relationship, len(v))
		for i := range v {
			out[i] = &v[i]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of relationships, got %T", resp)
	}
}
