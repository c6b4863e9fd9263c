// Package identitycache shares resolved repository ids between cohortq
// processes through Redis.
package identitycache

import (
	"cohortq/internal/federation"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultPrefix = "cohortq:identity:"

type Config struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// Redis is a federation.IdentityCache backed by Redis string keys.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// Connect dials Redis and verifies the connection with PING.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("identity cache: redis address is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("identity cache: connect to redis: %w", err)
	}
	return New(client, cfg.Prefix, cfg.TTL, logger), nil
}

// New wraps an existing client. A zero ttl keeps entries until evicted.
func New(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *Redis {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "identitycache")),
	}
}

func (r *Redis) Get(ctx context.Context, key string) (federation.RepositoryID, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("identity cache get: %w", err)
	}
	return federation.RepositoryID(val), true, nil
}

func (r *Redis) Set(ctx context.Context, key string, id federation.RepositoryID) error {
	if err := r.client.Set(ctx, r.prefix+key, string(id), r.ttl).Err(); err != nil {
		return fmt.Errorf("identity cache set: %w", err)
	}
	r.logger.Debug("cached repository id", zap.String("handle", key), zap.String("repository_id", string(id)))
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
