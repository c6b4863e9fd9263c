package rest

import (
	"cohortq/internal/federation"
	"cohortq/internal/metadata"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newRepositoryServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Handle) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	h, err := New(srv.URL + "/repository/")
	require.NoError(t, err)
	return srv, h
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRejectsBadURLs(t *testing.T) {
	for _, raw := range []string{"", "   ", "ftp://repo", "://nope"} {
		_, err := New(raw)
		assert.Error(t, err, raw)
	}
}

func TestIdentify(t *testing.T) {
	_, h := newRepositoryServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/repository/metadata-collection-id", r.URL.Path)
		assert.Equal(t, "auditor", r.URL.Query().Get("userId"))
		writeJSON(w, map[string]string{"metadataCollectionId": "coll-1"})
	})

	id, err := h.Identify(context.Background(), "auditor")
	require.NoError(t, err)
	assert.Equal(t, federation.RepositoryID("coll-1"), id)
	assert.Contains(t, h.HandleKey(), "/repository")
}

func TestInvokeRoutes(t *testing.T) {
	updated := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	_, h := newRepositoryServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		switch r.URL.Path {
		case "/repository/instances/entity/g1":
			writeJSON(w, map[string]any{"entity": metadata.EntityDetail{GUID: "g1", TypeName: "Asset", Version: 2, UpdateTime: updated}})
		case "/repository/instances/entity/g404":
			http.NotFound(w, r)
		case "/repository/instances/entities/by-property":
			var q entitiesQuery
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&q))
			assert.Equal(t, map[string]string{"owner": "ops"}, q.Properties)
			assert.True(t, q.MatchAll)
			writeJSON(w, map[string]any{"entities": []metadata.EntityDetail{{GUID: "g1", TypeName: "Asset"}, {GUID: "g2", TypeName: "Asset"}}})
		case "/repository/instances/entity/g1/relationships":
			var q relationshipsQuery
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&q))
			assert.Equal(t, "Owns", q.TypeName)
			writeJSON(w, map[string]any{"relationships": []metadata.Relationship{{GUID: "r1", End1GUID: "g1", End2GUID: "g2"}}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	ctx := context.Background()

	resp, err := h.Invoke(ctx, metadata.GetEntityRequest{GUID: "g1"})
	require.NoError(t, err)
	e := resp.(*metadata.EntityDetail)
	assert.Equal(t, int64(2), e.Version)
	assert.True(t, e.UpdateTime.Equal(updated))

	resp, err = h.Invoke(ctx, metadata.GetEntityRequest{GUID: "g404"})
	require.NoError(t, err)
	assert.Nil(t, resp)

	resp, err = h.Invoke(ctx, metadata.FindEntitiesRequest{Properties: map[string]string{"owner": "ops"}, MatchAll: true})
	require.NoError(t, err)
	assert.Len(t, resp.([]*metadata.EntityDetail), 2)

	resp, err = h.Invoke(ctx, metadata.GetRelationshipsRequest{EntityGUID: "g1", TypeName: "Owns"})
	require.NoError(t, err)
	assert.Len(t, resp.([]*metadata.Relationship), 1)
}

func TestInvokeClassifiesFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind federation.Kind
		wantMsg  string
	}{
		{"server error", http.StatusInternalServerError, "store offline", federation.KindRepositoryUnavailable, "store offline"},
		{"unavailable", http.StatusServiceUnavailable, "", federation.KindRepositoryUnavailable, "503"},
		{"throttled", http.StatusTooManyRequests, "", federation.KindRepositoryUnavailable, "429"},
		{"bad request", http.StatusBadRequest, "unknown property", federation.KindMalformedRepositoryState, "unknown property"},
		{"forbidden", http.StatusForbidden, "", federation.KindMalformedRepositoryState, "403"},
		{"garbage body", http.StatusOK, "{not json", federation.KindMalformedRepositoryState, "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, h := newRepositoryServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := h.Invoke(context.Background(), metadata.GetEntityRequest{GUID: "g1"})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, federation.KindOf(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestInvokeTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	h, err := New(url)
	require.NoError(t, err)
	_, err = h.Invoke(context.Background(), metadata.GetEntityRequest{GUID: "g1"})
	assert.Equal(t, federation.KindRepositoryUnavailable, federation.KindOf(err))
	assert.True(t, federation.IsRetryable(err))
}

func TestInvokeHonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	_, h := newRepositoryServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := h.Invoke(context.Background(), metadata.GetEntityRequest{GUID: "g1"})
	assert.Equal(t, federation.KindRepositoryUnavailable, federation.KindOf(err))

	// The second call is refused locally without reaching the server.
	_, err = h.Invoke(context.Background(), metadata.GetEntityRequest{GUID: "g1"})
	assert.ErrorIs(t, err, ErrCoolingDown)
	assert.Equal(t, federation.KindRepositoryUnavailable, federation.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, h.budget.CooldownUntil().IsZero())
}

func TestInvokeSendsBearerTokenAndLogs(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		writeJSON(w, map[string]any{"entities": []any{}})
	}))
	defer srv.Close()

	h, err := New(srv.URL, WithToken("s3cret"), WithVerbose(true), WithLogger(zap.New(core)), WithRateLimit(100, 1))
	require.NoError(t, err)
	_, err = h.Invoke(context.Background(), metadata.FindEntitiesRequest{TypeName: "Asset"})
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("repository request").Len())
	assert.Equal(t, 1, logs.FilterMessage("repository response").Len())
}

func TestInvokeUnsupportedRequest(t *testing.T) {
	h, err := New("http://127.0.0.1:1")
	require.NoError(t, err)
	_, err = h.Invoke(context.Background(), unsupported{})
	assert.Equal(t, federation.KindMalformedRepositoryState, federation.KindOf(err))
}

type unsupported struct{}

func (unsupported) Operation() string { return "classify-entity" }
