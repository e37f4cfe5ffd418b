package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aesop-rag/aesop/internal/model"
	"github.com/redis/go-redis/v9"
)

// Redis is the production Store backend. Sessions are stored as JSON blobs
// under "aesop:session:{id}" with a TTL refreshed on every write only (§6);
// reads never extend a session's lifetime.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps an existing go-redis client.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, sessionID string) (*model.SessionContext, error) {
	raw, err := r.client.Get(ctx, KeyFor(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sessionstore.Get: %w", err)
	}

	var sc model.SessionContext
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("sessionstore.Get: decode: %w", err)
	}

	return &sc, nil
}

func (r *Redis) Set(ctx context.Context, sc *model.SessionContext) error {
	raw, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("sessionstore.Set: encode: %w", err)
	}
	if err := r.client.Set(ctx, KeyFor(sc.SessionID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("sessionstore.Set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, KeyFor(sessionID)).Err(); err != nil {
		return fmt.Errorf("sessionstore.Delete: %w", err)
	}
	return nil
}
