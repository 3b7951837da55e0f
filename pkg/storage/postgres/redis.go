package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// NewRedisClient parses the URL, applies overrides and pings the server
func NewRedisClient(ctx context.Context, config RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB > 0 {
		opts.DB = config.DB
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

const livenessKeyPrefix = "gatehouse:token:"

// cachedToken is the JSON value stored per token secret. A tombstone only
// sets Revoked.
type cachedToken struct {
	UserID       int64     `json:"user_id,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Revoked      bool      `json:"revoked,omitempty"`
}

// RedisLivenessCache keeps token records in Redis so that verification can
// skip the database. Entries live until the earlier of the configured TTL and
// the record's own expiry. Revocation overwrites them with tombstones that
// live for the full TTL, and Remember never overwrites an existing key.
type RedisLivenessCache struct {
	client  *redis.Client
	ttl     time.Duration
	now     func() time.Time
	metrics *observability.Metrics
}

// NewRedisLivenessCache creates a liveness cache with the given entry TTL
func NewRedisLivenessCache(client *redis.Client, ttl time.Duration, metrics *observability.Metrics) *RedisLivenessCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLivenessCache{
		client:  client,
		ttl:     ttl,
		now:     time.Now,
		metrics: metrics,
	}
}

// Lookup returns the cached record for secret, or auth.CacheRevoked for a
// tombstone
func (c *RedisLivenessCache) Lookup(ctx context.Context, secret string) (*auth.TokenRecord, auth.CacheStatus, error) {
	data, err := c.client.Get(ctx, livenessKeyPrefix+secret).Bytes()
	if err == redis.Nil {
		c.observe(false)
		return nil, auth.CacheMiss, nil
	}
	if err != nil {
		return nil, auth.CacheMiss, fmt.Errorf("redis get failed: %w", err)
	}

	var cached cachedToken
	if err := json.Unmarshal(data, &cached); err != nil {
		c.client.Del(ctx, livenessKeyPrefix+secret)
		return nil, auth.CacheMiss, fmt.Errorf("failed to unmarshal token record: %w", err)
	}
	c.observe(true)
	if cached.Revoked {
		return nil, auth.CacheRevoked, nil
	}
	return toTokenRecord(secret, cached), auth.CacheLive, nil
}

// Remember caches rec unless the key exists. Records that are already
// expired are not stored.
func (c *RedisLivenessCache) Remember(ctx context.Context, rec *auth.TokenRecord) error {
	ttl := min(c.ttl, rec.ExpiresAt.Sub(c.now()))
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(cachedToken{
		UserID:       rec.UserID,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}
	return c.client.SetNX(ctx, livenessKeyPrefix+rec.TokenSecret, data, ttl).Err()
}

// MarkRevoked writes tombstones for secrets in one MULTI/EXEC
func (c *RedisLivenessCache) MarkRevoked(ctx context.Context, secrets ...string) error {
	if len(secrets) == 0 {
		return nil
	}
	tombstone, err := json.Marshal(cachedToken{Revoked: true})
	if err != nil {
		return fmt.Errorf("failed to marshal tombstone: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, secret := range secrets {
			pipe.Set(ctx, livenessKeyPrefix+secret, tombstone, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write token tombstones: %w", err)
	}
	return nil
}

func (c *RedisLivenessCache) observe(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues("token").Inc()
		return
	}
	c.metrics.CacheMissesTotal.WithLabelValues("token").Inc()
}

func toTokenRecord(secret string, cached cachedToken) *auth.TokenRecord {
	return &auth.TokenRecord{
		UserID:       cached.UserID,
		AccessToken:  cached.AccessToken,
		RefreshToken: cached.RefreshToken,
		TokenSecret:  secret,
		ExpiresAt:    cached.ExpiresAt,
	}
}
