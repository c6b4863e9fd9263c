package memory

import (
	"cohortq/internal/executors"
	"cohortq/internal/federation"
	"cohortq/internal/metadata"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var updated = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func asset(guid string, version int64, owner string) metadata.EntityDetail {
	return metadata.EntityDetail{
		GUID:       guid,
		TypeName:   "Asset",
		Version:    version,
		UpdateTime: updated,
		Properties: map[string]any{"owner": owner},
	}
}

func TestRepositoryInvoke(t *testing.T) {
	r := New("repo-a")
	r.PutEntity(asset("g2", 1, "ops"))
	r.PutEntity(asset("g1", 1, "dev"))
	r.PutRelationship(metadata.Relationship{GUID: "r1", TypeName: "Owns", End1GUID: "g1", End2GUID: "g2"})
	r.PutRelationship(metadata.Relationship{GUID: "r2", TypeName: "Uses", End1GUID: "g3", End2GUID: "g4"})
	ctx := context.Background()

	id, err := r.Identify(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, federation.RepositoryID("repo-a"), id)
	assert.Equal(t, "memory://repo-a", r.HandleKey())

	resp, err := r.Invoke(ctx, metadata.GetEntityRequest{GUID: "g1"})
	require.NoError(t, err)
	got := resp.(*metadata.EntityDetail)
	assert.Equal(t, "repo-a", got.HomeCollectionID)

	resp, err = r.Invoke(ctx, metadata.GetEntityRequest{GUID: "missing"})
	require.NoError(t, err)
	assert.Nil(t, resp)

	resp, err = r.Invoke(ctx, metadata.FindEntitiesRequest{TypeName: "Asset"})
	require.NoError(t, err)
	list := resp.([]*metadata.EntityDetail)
	require.Len(t, list, 2)
	assert.Equal(t, "g1", list[0].GUID)

	resp, err = r.Invoke(ctx, metadata.GetRelationshipsRequest{EntityGUID: "g2"})
	require.NoError(t, err)
	rels := resp.([]*metadata.Relationship)
	require.Len(t, rels, 1)
	assert.Equal(t, "r1", rels[0].GUID)

	assert.Equal(t, int64(4), r.Invocations())
}

func TestRepositoryReturnsIndependentCopies(t *testing.T) {
	r := New("repo-a")
	stored := asset("g1", 1, "ops")
	r.PutEntity(stored)
	stored.Properties["owner"] = "changed-by-caller"
	ctx := context.Background()

	resp, err := r.Invoke(ctx, metadata.GetEntityRequest{GUID: "g1"})
	require.NoError(t, err)
	got := resp.(*metadata.EntityDetail)
	assert.Equal(t, "ops", got.Properties["owner"])
	got.Properties["owner"] = "changed-by-consumer"

	resp, err = r.Invoke(ctx, metadata.FindEntitiesRequest{TypeName: "Asset"})
	require.NoError(t, err)
	found := resp.([]*metadata.EntityDetail)
	require.Len(t, found, 1)
	assert.Equal(t, "ops", found[0].Properties["owner"])
	found[0].Properties["owner"] = "changed-again"

	resp, err = r.Invoke(ctx, metadata.GetEntityRequest{GUID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, "ops", resp.(*metadata.EntityDetail).Properties["owner"])
}

func TestRepositoryInjectedFaults(t *testing.T) {
	down := errors.New("maintenance window")
	r := New("repo-a", WithFailure(down))

	_, err := r.Invoke(context.Background(), metadata.GetEntityRequest{GUID: "g1"})
	assert.ErrorIs(t, err, down)

	r.SetFailure(nil)
	_, err = r.Invoke(context.Background(), metadata.GetEntityRequest{GUID: "g1"})
	assert.NoError(t, err)

	slow := New("repo-b", WithLatency(time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = slow.Invoke(ctx, metadata.GetEntityRequest{GUID: "g1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	content := `
entities:
  - guid: g1
    typeName: Asset
    version: 3
    updateTime: 2026-03-01T12:00:00Z
    properties:
      owner: ops
relationships:
  - guid: r1
    typeName: Owns
    end1Guid: g1
    end2Guid: g2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, seed.Entities, 1)
	assert.Equal(t, int64(3), seed.Entities[0].Version)
	assert.True(t, seed.Entities[0].UpdateTime.Equal(updated))
	assert.Equal(t, "ops", seed.Entities[0].Properties["owner"])

	r := New("repo-a", WithSeed(seed))
	resp, err := r.Invoke(context.Background(), metadata.GetRelationshipsRequest{EntityGUID: "g1"})
	require.NoError(t, err)
	assert.Len(t, resp.([]*metadata.Relationship), 1)

	_, err = LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFederatedLookupAcrossMemoryCohort(t *testing.T) {
	unavailable := New("repo-1", WithFailure(federation.Unavailable("", errors.New("connection refused"))))
	holder := New("repo-2")
	holder.PutEntity(asset("g1", 2, "ops"))
	spare := New("repo-3")
	spare.PutEntity(asset("g1", 1, "ops"))

	c := federation.NewController([]federation.Handle{unavailable, holder, spare},
		federation.WithIdentityResolver(federation.NewIdentityResolver(nil, nil)))
	req := metadata.GetEntityRequest{GUID: "g1"}

	out, err := c.Run(context.Background(), req, executors.NewGetEntity(req), federation.Sequential())
	require.NoError(t, err)

	res := out.Result.(executors.EntityResult)
	assert.Equal(t, federation.RepositoryID("repo-2"), res.Source)
	assert.Equal(t, int64(2), res.Entity.Version)
	assert.Equal(t, []federation.RepositoryID{"repo-1"}, out.Failures.IDs())
	assert.Zero(t, spare.Invocations())
}

func TestFederatedSearchAcrossMemoryCohort(t *testing.T) {
	a := New("repo-a")
	a.PutEntity(asset("g1", 1, "ops"))
	a.PutEntity(asset("g2", 4, "ops"))
	b := New("repo-b", WithLatency(5*time.Millisecond))
	b.PutEntity(asset("g2", 5, "ops"))
	b.PutEntity(asset("g3", 1, "ops"))
	b.PutEntity(asset("g4", 1, "dev"))
	broken := New("repo-c", WithFailure(errors.New("timeout talking to store")))

	req := metadata.FindEntitiesRequest{Properties: map[string]string{"owner": "ops"}}
	c := federation.NewController([]federation.Handle{a, b, broken})

	out, err := c.Run(context.Background(), req, executors.NewFindEntities(req), federation.Parallel(2))
	require.NoError(t, err)
	assert.Equal(t, federation.StateExhausted, out.State)
	assert.Equal(t, "2 of 3 repositories answered", out.Coverage())

	res := out.Result.(executors.EntityListResult)
	guids := make([]string, 0, len(res.Entities))
	for _, e := range res.Entities {
		guids = append(guids, e.GUID)
	}
	assert.Equal(t, []string{"g1", "g2", "g3"}, guids)
	assert.Equal(t, federation.RepositoryID("repo-b"), res.Sources["g2"])
}
