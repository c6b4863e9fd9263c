package operations

import (
	"cohortq/internal/executors"
	"cohortq/internal/federation"
	"cohortq/internal/metadata"
	"fmt"
	"strings"
)

func init() {
	Register(getEntity{})
	Register(findEntities{})
	Register(getRelationships{})
}

var pagingOptions = []Option{
	{Name: "from", Description: "Index of the first result in the GUID-ordered list", Default: "0"},
	{Name: "size", Description: "Page size (0 means the maximum page size)", Default: "0"},
}

func pagingParams(params map[string]string) (metadata.Paging, error) {
	from, err := intParam(params, "from")
	if err != nil {
		return metadata.Paging{}, err
	}
	size, err := intParam(params, "size")
	if err != nil {
		return metadata.Paging{}, err
	}
	return metadata.Paging{FromIndex: from, PageSize: size}, nil
}

type getEntity struct{}

func (getEntity) ID() string    { return metadata.OpGetEntity }
func (getEntity) Title() string { return "Get entity by GUID" }
func (getEntity) Description() string {
	return "Asks the cohort for one entity and returns the first copy found. " +
		"With the parallel strategy the lowest cohort position wins instead."
}
func (getEntity) DefaultStrategy() string { return "sequential" }

func (getEntity) Options() []Option {
	return []Option{
		{Name: "guid", Description: "GUID of the entity", Required: true},
	}
}

func (op getEntity) Build(params map[string]string, s Settings) (federation.Request, federation.Executor, error) {
	if err := checkParams(op, params); err != nil {
		return nil, nil, err
	}
	req := metadata.GetEntityRequest{UserID: s.UserID, GUID: strings.TrimSpace(params["guid"])}
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	var opts []executors.GetEntityOption
	if s.Strict {
		opts = append(opts, executors.WithStrictEntity())
	}
	if s.Parallel {
		opts = append(opts, executors.WithPositionTieBreak())
	}
	return req, executors.NewGetEntity(req, opts...), nil
}

type findEntities struct{}

func (findEntities) ID() string    { return metadata.OpFindEntities }
func (findEntities) Title() string { return "Find entities by property" }
func (findEntities) Description() string {
	return "Searches every repository and merges the matches by GUID, keeping the newest copy of each entity."
}
func (findEntities) DefaultStrategy() string { return "parallel" }

func (findEntities) Options() []Option {
	return append([]Option{
		{Name: "type", Description: "Restrict matches to this entity type"},
		{Name: "property.", Description: "Property value to match, e.g. property.owner=ops", Prefix: true},
		{Name: "match-all", Description: "Require every property to match instead of any one", Default: "false"},
	}, pagingOptions...)
}

func (op findEntities) Build(params map[string]string, s Settings) (federation.Request, federation.Executor, error) {
	if err := checkParams(op, params); err != nil {
		return nil, nil, err
	}
	matchAll, err := boolParam(params, "match-all")
	if err != nil {
		return nil, nil, err
	}
	paging, err := pagingParams(params)
	if err != nil {
		return nil, nil, err
	}

	req := metadata.FindEntitiesRequest{
		UserID:   s.UserID,
		TypeName: strings.TrimSpace(params["type"]),
		MatchAll: matchAll,
		Paging:   paging,
	}
	for k, v := range params {
		if name, ok := strings.CutPrefix(k, "property."); ok {
			if req.Properties == nil {
				req.Properties = make(map[string]string)
			}
			req.Properties[name] = v
		}
	}
	if err := req.Validate(s.MaxPageSize); err != nil {
		return nil, nil, fmt.Errorf("invalid %s request: %w", op.ID(), err)
	}

	opts := []executors.FindEntitiesOption{executors.WithSearchMaxPageSize(s.MaxPageSize)}
	if s.Strict {
		opts = append(opts, executors.WithStrictSearch())
	}
	return req, executors.NewFindEntities(req, opts...), nil
}

type getRelationships struct{}

func (getRelationships) ID() string    { return metadata.OpGetRelationships }
func (getRelationships) Title() string { return "Get relationships of an entity" }
func (getRelationships) Description() string {
	return "Gathers the relationships touching one entity from every repository, keeping the newest copy of each."
}
func (getRelationships) DefaultStrategy() string { return "parallel" }

func (getRelationships) Options() []Option {
	return append([]Option{
		{Name: "guid", Description: "GUID of the entity at either end", Required: true},
		{Name: "type", Description: "Restrict to this relationship type"},
	}, pagingOptions...)
}

func (op getRelationships) Build(params map[string]string, s Settings) (federation.Request, federation.Executor, error) {
	if err := checkParams(op, params); err != nil {
		return nil, nil, err
	}
	paging, err := pagingParams(params)
	if err != nil {
		return nil, nil, err
	}

	req := metadata.GetRelationshipsRequest{
		UserID:     s.UserID,
		EntityGUID: strings.TrimSpace(params["guid"]),
		TypeName:   strings.TrimSpace(params["type"]),
		Paging:     paging,
	}
	if err := req.Validate(s.MaxPageSize); err != nil {
		return nil, nil, fmt.Errorf("invalid %s request: %w", op.ID(), err)
	}

	opts := []executors.GetRelationshipsOption{executors.WithRelationshipsMaxPageSize(s.MaxPageSize)}
	if s.Strict {
		opts = append(opts, executors.WithStrictRelationships())
	}
	return req, executors.NewGetRelationships(req, opts...), nil
}
