package metadata

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	OpGetEntity        = "get-entity"
	OpFindEntities     = "find-entities"
	OpGetRelationships = "get-relationships"
)

// Paging is the window a caller wants out of a consolidated, GUID-ordered list.
type Paging struct {
	FromIndex int `json:"fromIndex"`
	PageSize  int `json:"pageSize"`
}

// Validate rejects windows that would be unbounded or negative.
func (p Paging) Validate(maxPageSize int) error {
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	if p.FromIndex < 0 {
		return fmt.Errorf("fromIndex must be >= 0, got %d", p.FromIndex)
	}
	if p.PageSize < 0 {
		return fmt.Errorf("pageSize must be >= 0, got %d", p.PageSize)
	}
	if p.PageSize > maxPageSize {
		return fmt.Errorf("pageSize %d exceeds the maximum of %d", p.PageSize, maxPageSize)
	}
	return nil
}

// Window returns the bounds of the page within a list of n items. A zero page
// size means the maximum page size. Out-of-range paging yields an empty or
// clamped window rather than invalid bounds.
func (p Paging) Window(n, maxPageSize int) (start, end int) {
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	size := p.PageSize
	if size == 0 {
		size = maxPageSize
	}
	start = min(max(p.FromIndex, 0), n)
	end = min(start+max(size, 0), n)
	return start, end
}

// GetEntityRequest asks each repository for the entity with GUID.
type GetEntityRequest struct {
	UserID string `json:"userId,omitempty"`
	GUID   string `json:"guid"`
}

func (GetEntityRequest) Operation() string { return OpGetEntity }

func (r GetEntityRequest) Validate() error {
	if strings.TrimSpace(r.GUID) == "" {
		return errors.New("guid is required")
	}
	return nil
}

// FindEntitiesRequest asks each repository for entities whose properties match.
type FindEntitiesRequest struct {
	UserID     string            `json:"userId,omitempty"`
	TypeName   string            `json:"typeName,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	// MatchAll requires every property to match; otherwise any one suffices.
	MatchAll bool `json:"matchAll"`
	Paging
}

func (FindEntitiesRequest) Operation() string { return OpFindEntities }

func (r FindEntitiesRequest) Validate(maxPageSize int) error {
	if r.TypeName == "" && len(r.Properties) == 0 {
		return errors.New("at least a type name or one property is required")
	}
	return r.Paging.Validate(maxPageSize)
}

// Matches applies the request's search criteria to an entity. Property values
// are compared by their string form.
func (r FindEntitiesRequest) Matches(e *EntityDetail) bool {
	if e == nil {
		return false
	}
	if r.TypeName != "" && e.TypeName != r.TypeName {
		return false
	}
	if len(r.Properties) == 0 {
		return true
	}

	keys := make([]string, 0, len(r.Properties))
	for k := range r.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	matched := 0
	for _, k := range keys {
		v, ok := e.Properties[k]
		if ok && fmt.Sprint(v) == r.Properties[k] {
			matched++
			if !r.MatchAll {
				return true
			}
		}
	}
	return r.MatchAll && matched == len(keys)
}

// GetRelationshipsRequest asks each repository for relationships of an entity.
type GetRelationshipsRequest struct {
	UserID     string `json:"userId,omitempty"`
	EntityGUID string `json:"entityGuid"`
	TypeName   string `json:"typeName,omitempty"`
	Paging
}

func (GetRelationshipsRequest) Operation() string { return OpGetRelationships }

func (r GetRelationshipsRequest) Validate(maxPageSize int) error {
	if strings.TrimSpace(r.EntityGUID) == "" {
		return errors.New("entity guid is required")
	}
	return r.Paging.Validate(maxPageSize)
}
