package federation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Keyed is implemented by handles that can name themselves before they are
// identified (typically by endpoint). Only keyed handles have their
// repository id cached.
type Keyed interface {
	HandleKey() string
}

// IdentityCache stores repository ids by handle key.
type IdentityCache interface {
	Get(ctx context.Context, key string) (RepositoryID, bool, error)
	Set(ctx context.Context, key string, id RepositoryID) error
}

// MemoryIdentityCache is a process-local IdentityCache.
type MemoryIdentityCache struct {
	data sync.Map
}

func NewMemoryIdentityCache() *MemoryIdentityCache {
	return &MemoryIdentityCache{}
}

func (c *MemoryIdentityCache) Get(_ context.Context, key string) (RepositoryID, bool, error) {
	v, ok := c.data.Load(key)
	if !ok {
		return "", false, nil
	}
	return v.(RepositoryID), true, nil
}

func (c *MemoryIdentityCache) Set(_ context.Context, key string, id RepositoryID) error {
	c.data.Store(key, id)
	return nil
}

// IdentityResolver resolves handle repository ids, caching them by handle key
// and collapsing concurrent resolutions of the same handle into one call.
type IdentityResolver struct {
	cache  IdentityCache
	group  singleflight.Group
	logger *zap.Logger
}

func NewIdentityResolver(cache IdentityCache, logger *zap.Logger) *IdentityResolver {
	if cache == nil {
		cache = NewMemoryIdentityCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityResolver{
		cache:  cache,
		logger: logger.With(zap.String("component", "identity")),
	}
}

// Resolve returns the repository id of h. Failures are never cached.
func (r *IdentityResolver) Resolve(ctx context.Context, h Handle, callerID string) (RepositoryID, error) {
	if h == nil {
		return "", Malformed("", errors.New("nil handle"))
	}
	keyed, ok := h.(Keyed)
	if !ok || keyed.HandleKey() == "" {
		return identifyOnce(ctx, h, callerID)
	}
	key := keyed.HandleKey()

	id, found, err := r.cache.Get(ctx, key)
	if err != nil {
		// A broken cache only costs an extra Identify.
		r.logger.Warn("identity cache read failed", zap.String("handle", key), zap.Error(err))
	} else if found && id != "" {
		return id, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		id, err := identifyOnce(ctx, h, callerID)
		if err != nil {
			return RepositoryID(""), err
		}
		if err := r.cache.Set(ctx, key, id); err != nil {
			r.logger.Warn("identity cache write failed", zap.String("handle", key), zap.Error(err))
		}
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(RepositoryID), nil
}

func identifyOnce(ctx context.Context, h Handle, callerID string) (RepositoryID, error) {
	id, err := h.Identify(ctx, callerID)
	if err != nil {
		return "", fmt.Errorf("identify: %w", err)
	}
	if id == "" {
		return "", Malformed("", errors.New("handle returned an empty repository id"))
	}
	return id, nil
}
