package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/appweaver/api/internal/models"
)

// Redis wraps the Redis client
type Redis struct {
	client *redis.Client
}

// NewRedis creates a new Redis client
func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return &Redis{client: client}, nil
}

// Client returns the underlying Redis client
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	return r.client.Close()
}

func sessionKey(sandboxID string) string {
	return "sandbox:session:" + sandboxID
}

// CacheSession stores a sandbox status probe result. Sandbox state is
// externally owned, so the TTL keeps staleness bounded.
func (r *Redis) CacheSession(ctx context.Context, session models.SandboxSession, ttl time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, sessionKey(session.SandboxID), payload, ttl).Err()
}

// GetSession returns a cached sandbox session. The bool reports a hit;
// Redis errors degrade to a miss because the probe is cheap to repeat.
func (r *Redis) GetSession(ctx context.Context, sandboxID string) (models.SandboxSession, bool) {
	payload, err := r.client.Get(ctx, sessionKey(sandboxID)).Bytes()
	if err != nil {
		return models.SandboxSession{}, false
	}
	var session models.SandboxSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return models.SandboxSession{}, false
	}
	return session, true
}

// DropSession evicts a cached session, used after a sandbox is killed.
func (r *Redis) DropSession(ctx context.Context, sandboxID string) {
	r.client.Del(ctx, sessionKey(sandboxID))
}
