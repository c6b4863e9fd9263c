// Package memory provides an in-process repository. It backs the demo cohort
// and stands in for remote repositories in tests.
package memory

import (
	"cohortq/internal/federation"
	"cohortq/internal/metadata"
	"context"
	"fmt"
	"maps"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Repository holds entities and relationships in maps. Failure and latency
// can be injected to simulate an unhealthy member of the cohort.
type Repository struct {
	id federation.RepositoryID

	mu            sync.RWMutex
	entities      map[string]*metadata.EntityDetail
	relationships map[string]*metadata.Relationship
	failure       error
	identifyErr   error
	latency       time.Duration

	invocations atomic.Int64
}

type Option func(*Repository)

// WithLatency delays every Invoke by d, or until the context ends.
func WithLatency(d time.Duration) Option {
	return func(r *Repository) { r.latency = d }
}

// WithFailure makes every Invoke return err.
func WithFailure(err error) Option {
	return func(r *Repository) { r.failure = err }
}

func WithSeed(seed Seed) Option {
	return func(r *Repository) {
		for i := range seed.Entities {
			e := seed.Entities[i]
			r.putEntity(&e)
		}
		for i := range seed.Relationships {
			rel := seed.Relationships[i]
			r.putRelationship(&rel)
		}
	}
}

func New(id federation.RepositoryID, opts ...Option) *Repository {
	r := &Repository{
		id:            id,
		entities:      make(map[string]*metadata.EntityDetail),
		relationships: make(map[string]*metadata.Relationship),
	}
	for _, apply := range opts {
		if apply != nil {
			apply(r)
		}
	}
	return r
}

// PutEntity stores e, homing it in this repository when it has no home.
func (r *Repository) PutEntity(e metadata.EntityDetail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putEntity(cloneEntity(&e))
}

func (r *Repository) putEntity(e *metadata.EntityDetail) {
	if e.HomeCollectionID == "" {
		e.HomeCollectionID = string(r.id)
	}
	r.entities[e.GUID] = e
}

func (r *Repository) PutRelationship(rel metadata.Relationship) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putRelationship(cloneRelationship(&rel))
}

func (r *Repository) putRelationship(rel *metadata.Relationship) {
	if rel.HomeCollectionID == "" {
		rel.HomeCollectionID = string(r.id)
	}
	r.relationships[rel.GUID] = rel
}

// SetFailure replaces the injected Invoke failure. A nil err heals the repository.
func (r *Repository) SetFailure(err error) {
	r.mu.Lock()
	r.failure = err
	r.mu.Unlock()
}

// SetIdentifyFailure makes Identify return err.
func (r *Repository) SetIdentifyFailure(err error) {
	r.mu.Lock()
	r.identifyErr = err
	r.mu.Unlock()
}

// Invocations returns how many times Invoke has been called.
func (r *Repository) Invocations() int64 {
	return r.invocations.Load()
}

func (r *Repository) HandleKey() string {
	return "memory://" + string(r.id)
}

func (r *Repository) Identify(ctx context.Context, _ string) (federation.RepositoryID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.identifyErr != nil {
		return "", r.identifyErr
	}
	return r.id, nil
}

func (r *Repository) Invoke(ctx context.Context, req federation.Request) (federation.Response, error) {
	r.invocations.Add(1)

	r.mu.RLock()
	latency, failure := r.latency, r.failure
	r.mu.RUnlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if failure != nil {
		return nil, failure
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	switch q := req.(type) {
	case metadata.GetEntityRequest:
		e, ok := r.entities[q.GUID]
		if !ok {
			return nil, nil
		}
		return cloneEntity(e), nil
	case metadata.FindEntitiesRequest:
		return r.findEntities(q), nil
	case metadata.GetRelationshipsRequest:
		return r.relationshipsOf(q), nil
	default:
		return nil, federation.Malformed(r.id, fmt.Errorf("unsupported operation %q", req.Operation()))
	}
}

func (r *Repository) findEntities(q metadata.FindEntitiesRequest) []*metadata.EntityDetail {
	var out []*metadata.EntityDetail
	for _, e := range r.entities {
		if q.Matches(e) {
			out = append(out, cloneEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GUID < out[j].GUID })
	return out
}

// Copies handed in or out never share a properties map with the store.
func cloneEntity(e *metadata.EntityDetail) *metadata.EntityDetail {
	cp := *e
	cp.Properties = maps.Clone(e.Properties)
	return &cp
}

func cloneRelationship(rel *metadata.Relationship) *metadata.Relationship {
	cp := *rel
	cp.Properties = maps.Clone(rel.Properties)
	return &cp
}

func (r *Repository) relationshipsOf(q metadata.GetRelationshipsRequest) []*metadata.Relationship {
	var out []*metadata.Relationship
	for _, rel := range r.relationships {
		if !rel.Touches(q.EntityGUID) {
			continue
		}
		if q.TypeName != "" && rel.TypeName != q.TypeName {
			continue
		}
		out = append(out, cloneRelationship(rel))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GUID < out[j].GUID })
	return out
}

// Seed is the on-disk content of a memory repository.
type Seed struct {
	Entities      []metadata.EntityDetail `yaml:"entities"`
	Relationships []metadata.Relationship `yaml:"relationships"`
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (Seed, error) {
	var seed Seed
	b, err := os.ReadFile(path)
	if err != nil {
		return seed, fmt.Errorf("read seed %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &seed); err != nil {
		return seed, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return seed, nil
}
