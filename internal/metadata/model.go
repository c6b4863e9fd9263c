// Package metadata defines the instance types exchanged with cohort repositories
// and the requests the federated operations send to them.
package metadata

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// DefaultMaxPageSize bounds how many instances a single federated call may return.
const DefaultMaxPageSize = 1000

// EntityDetail is one entity instance as held by a repository.
type EntityDetail struct {
	GUID             string         `json:"guid" yaml:"guid"`
	TypeName         string         `json:"typeName" yaml:"typeName"`
	HomeCollectionID string         `json:"metadataCollectionId" yaml:"metadataCollectionId"`
	Version          int64          `json:"version" yaml:"version"`
	CreatedBy        string         `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	UpdateTime       time.Time      `json:"updateTime" yaml:"updateTime"`
	Properties       map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Validate checks the fields every repository must populate.
func (e *EntityDetail) Validate() error {
	if e == nil {
		return errors.New("entity is nil")
	}
	if strings.TrimSpace(e.GUID) == "" {
		return errors.New("entity has no guid")
	}
	if strings.TrimSpace(e.TypeName) == "" {
		return fmt.Errorf("entity %s has no type name", e.GUID)
	}
	if e.Version < 0 {
		return fmt.Errorf("entity %s has negative version %d", e.GUID, e.Version)
	}
	return nil
}

// SameContent reports whether two copies of an entity carry the same data.
func (e *EntityDetail) SameContent(o *EntityDetail) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.GUID == o.GUID &&
		e.TypeName == o.TypeName &&
		e.HomeCollectionID == o.HomeCollectionID &&
		e.Version == o.Version &&
		reflect.DeepEqual(e.Properties, o.Properties)
}

// Relationship links two entities.
type Relationship struct {
	GUID             string         `json:"guid" yaml:"guid"`
	TypeName         string         `json:"typeName" yaml:"typeName"`
	End1GUID         string         `json:"end1Guid" yaml:"end1Guid"`
	End2GUID         string         `json:"end2Guid" yaml:"end2Guid"`
	HomeCollectionID string         `json:"metadataCollectionId" yaml:"metadataCollectionId"`
	Version          int64          `json:"version" yaml:"version"`
	UpdateTime       time.Time      `json:"updateTime" yaml:"updateTime"`
	Properties       map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

func (r *Relationship) Validate() error {
	if r == nil {
		return errors.New("relationship is nil")
	}
	if strings.TrimSpace(r.GUID) == "" {
		return errors.New("relationship has no guid")
	}
	if r.End1GUID == "" || r.End2GUID == "" {
		return fmt.Errorf("relationship %s is missing an end", r.GUID)
	}
	if r.Version < 0 {
		return fmt.Errorf("relationship %s has negative version %d", r.GUID, r.Version)
	}
	return nil
}

// Touches reports whether entityGUID is one of the relationship's ends.
func (r *Relationship) Touches(entityGUID string) bool {
	return r.End1GUID == entityGUID || r.End2GUID == entityGUID
}

// SameContent reports whether two copies of a relationship carry the same data.
func (r *Relationship) SameContent(o *Relationship) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.GUID == o.GUID &&
		r.TypeName == o.TypeName &&
		r.End1GUID == o.End1GUID &&
		r.End2GUID == o.End2GUID &&
		r.HomeCollectionID == o.HomeCollectionID &&
		r.Version == o.Version &&
		reflect.DeepEqual(r.Properties, o.Properties)
}

// Newer reports whether a copy stamped (version, updated) supersedes one
// stamped (otherVersion, otherUpdated): higher version wins, then later
// update time.
func Newer(version int64, updated time.Time, otherVersion int64, otherUpdated time.Time) bool {
	if version != otherVersion {
		return version > otherVersion
	}
	return updated.After(otherUpdated)
}
