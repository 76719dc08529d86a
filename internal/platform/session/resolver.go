package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"urclec/internal/identity"
)

type Resolver interface {
	Resolve(ctx context.Context, sessionID string) (identity.Identity, error)
}

// PGResolver loads live sessions with their user, roles and chef.
type PGResolver struct {
	pool *pgxpool.Pool
}

func NewPGResolver(pool *pgxpool.Pool) *PGResolver {
	return &PGResolver{pool: pool}
}

func (r *PGResolver) Resolve(ctx context.Context, sessionID string) (identity.Identity, error) {
	var (
		id    identity.Identity
		roles []string
	)
	row := r.pool.QueryRow(ctx, `
		SELECT u.user_id::text, u.email, u.full_name, COALESCE(u.chef_id::text, ''),
		       COALESCE(array_agg(ur.role) FILTER (WHERE ur.role IS NOT NULL), '{}')
		FROM sessions s
		JOIN users u ON u.user_id = s.user_id
		LEFT JOIN user_roles ur ON ur.user_id = u.user_id
		WHERE s.session_id = $1
		  AND s.revoked_at IS NULL
		  AND s.expires_at > now()
		  AND u.active
		GROUP BY u.user_id
	`, sessionID)
	if err := row.Scan(&id.UserID, &id.Email, &id.FullName, &id.ChefID, &roles); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identity.Identity{}, ErrSessionNotFound
		}
		return identity.Identity{}, fmt.Errorf("resolve session: %w", err)
	}
	id.SessionID = sessionID
	id.Roles = identity.NormalizeRoles(roles)
	return id, nil
}

// CachedResolver keeps resolved identities in Redis for a short TTL. Cache
// failures fall through to the wrapped resolver.
type CachedResolver struct {
	next   Resolver
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewCachedResolver(next Resolver, client redis.Cmdable, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedResolver{next: next, client: client, ttl: ttl, prefix: "urclec:session:"}
}

func (c *CachedResolver) Resolve(ctx context.Context, sessionID string) (identity.Identity, error) {
	key := c.prefix + sessionID
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var id identity.Identity
		if err := json.Unmarshal(raw, &id); err == nil && !id.IsZero() {
			return id, nil
		}
	}

	id, err := c.next.Resolve(ctx, sessionID)
	if err != nil {
		return identity.Identity{}, err
	}
	if raw, err := json.Marshal(id); err == nil {
		_ = c.client.Set(ctx, key, raw, c.ttl).Err()
	}
	return id, nil
}

// Invalidate drops a session from the cache, e.g. on logout.
func (c *CachedResolver) Invalidate(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, c.prefix+sessionID).Err()
}

// NewRedisClient parses a redis:// URL and checks the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Close releases the Redis client behind the cache.
func (c *CachedResolver) Close() error {
	if closer, ok := c.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Build returns the Postgres resolver, fronted by a Redis cache when
// redisURL is set. cache is nil without Redis.
func Build(ctx context.Context, pool *pgxpool.Pool, redisURL string, ttl time.Duration) (Resolver, *CachedResolver, error) {
	base := NewPGResolver(pool)
	if redisURL == "" {
		return base, nil, nil
	}
	client, err := NewRedisClient(ctx, redisURL)
	if err != nil {
		return nil, nil, err
	}
	cache := NewCachedResolver(base, client, ttl)
	return cache, cache, nil
}
