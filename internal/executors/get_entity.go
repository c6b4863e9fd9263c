// Package executors holds one federation.Executor per federated operation.
package executors

import (
	"cohortq/internal/federation"
	"cohortq/internal/metadata"
	"fmt"
)

// EntityResult is the consolidated answer of a get-entity call.
type EntityResult struct {
	Entity *metadata.EntityDetail `json:"entity,omitempty" yaml:"entity,omitempty"`
	// Source is the repository the entity was taken from.
	Source federation.RepositoryID `json:"source,omitempty" yaml:"source,omitempty"`
}

// Found reports whether any repository had the entity.
func (r EntityResult) Found() bool {
	return r.Entity != nil
}

// GetEntity finds one entity by GUID across the cohort. It is satisfied by the
// first repository that has the entity.
//
// By default the first responder is authoritative, which ties the result to
// the handle order and restricts the executor to sequential runs. With
// WithPositionTieBreak the executor keeps the accepted copy from the
// lowest handle position instead, which makes it usable in parallel.
type GetEntity struct {
	req            metadata.GetEntityRequest
	strict         bool
	positionRanked bool

	entity   *metadata.EntityDetail
	source   federation.Source
	accepted bool
}

type GetEntityOption func(*GetEntity)

// WithPositionTieBreak resolves competing answers by handle position rather
// than arrival order.
func WithPositionTieBreak() GetEntityOption {
	return func(e *GetEntity) { e.positionRanked = true }
}

// WithStrictEntity aborts on malformed responses and on copies whose home
// collection disagrees with the one already accepted.
func WithStrictEntity() GetEntityOption {
	return func(e *GetEntity) { e.strict = true }
}

func NewGetEntity(req metadata.GetEntityRequest, opts ...GetEntityOption) *GetEntity {
	e := &GetEntity{req: req}
	for _, apply := range opts {
		apply(e)
	}
	return e
}

func (e *GetEntity) Accept(src federation.Source, resp federation.Response) error {
	entity, err := entityFromResponse(resp)
	if err != nil {
		return err
	}
	if entity == nil {
		return nil
	}
	if err := entity.Validate(); err != nil {
		return err
	}
	if entity.GUID != e.req.GUID {
		return fmt.Errorf("asked for entity %s, got %s", e.req.GUID, entity.GUID)
	}

	if e.accepted {
		if e.strict && entity.HomeCollectionID != e.entity.HomeCollectionID {
			return federation.Conflicting(src.RepositoryID, fmt.Errorf(
				"entity %s is homed in %q by %s but in %q by %s",
				entity.GUID, e.entity.HomeCollectionID, e.source.RepositoryID, entity.HomeCollectionID, src.RepositoryID))
		}
		if !e.positionRanked || src.Position >= e.source.Position {
			return nil
		}
	}

	e.entity = entity
	e.source = src
	e.accepted = true
	return nil
}

// Satisfied reports whether no later answer can change the result. Under
// position tie-break only a copy from the first handle is final.
func (e *GetEntity) Satisfied() bool {
	if e.positionRanked {
		return e.accepted && e.source.Position == 0
	}
	return e.accepted
}

func (e *GetEntity) Result() any {
	if !e.accepted {
		return EntityResult{}
	}
	return EntityResult{Entity: e.entity, Source: e.source.RepositoryID}
}

func (e *GetEntity) Policy() federation.Policy {
	return federation.Policy{Strict: e.strict, FirstResponderWins: !e.positionRanked}
}

func entityFromResponse(resp federation.Response) (*metadata.EntityDetail, error) {
	switch v := resp.(type) {
	case nil:
		return nil, nil
	case *metadata.EntityDetail:
		return v, nil
	case metadata.EntityDetail:
		return &v, nil
	default:
		return nil, fmt.Errorf("expected an entity, got %T", resp)
	}
}
