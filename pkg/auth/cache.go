package auth

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedUserStore keeps recent UserByID results in an expiring LRU. Misses
// and errors are not cached.
type CachedUserStore struct {
	next  UserStore
	cache *expirable.LRU[int64, User]
}

// NewCachedUserStore wraps next with an LRU of size entries that live for ttl
func NewCachedUserStore(next UserStore, size int, ttl time.Duration) *CachedUserStore {
	if size <= 0 {
		size = 1024
	}
	return &CachedUserStore{
		next:  next,
		cache: expirable.NewLRU[int64, User](size, nil, ttl),
	}
}

// UserByID implements UserStore
func (c *CachedUserStore) UserByID(ctx context.Context, id int64) (*User, error) {
	if user, ok := c.cache.Get(id); ok {
		return &user, nil
	}
	user, err := c.next.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, *user)
	return user, nil
}

// UserByUsername implements UserStore
func (c *CachedUserStore) UserByUsername(ctx context.Context, username string) (*User, error) {
	return c.next.UserByUsername(ctx, username)
}

// Forget drops a cached user, e.g. after a registration rollback
func (c *CachedUserStore) Forget(id int64) {
	c.cache.Remove(id)
}
