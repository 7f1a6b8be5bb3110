package attr

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

type cachedEntry struct {
	value Value
	ok    bool
}

// CachedStore is a read-through cache in front of another Store. Writes
// go to the backing store and invalidate the cached key.
type CachedStore struct {
	next  Store
	cache *cache.Cache
}

// NewCachedStore wraps next with an in-memory cache whose entries expire after ttl.
func NewCachedStore(next Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func cacheKey(entityType string, entityID int64, name string) string {
	return fmt.Sprintf("%s/%d/%s", entityType, entityID, name)
}

// Get returns the cached attribute or loads it from the backing store.
// Missing attributes are cached too.
func (s *CachedStore) Get(ctx context.Context, entityType string, entityID int64, name string) (Value, bool, error) {
	key := cacheKey(entityType, entityID, name)
	if hit, found := s.cache.Get(key); found {
		e := hit.(cachedEntry)
		return e.value, e.ok, nil
	}

	v, ok, err := s.next.Get(ctx, entityType, entityID, name)
	if err != nil {
		return Value{}, false, err
	}
	s.cache.SetDefault(key, cachedEntry{value: v, ok: ok})
	return v, ok, nil
}

// Set writes through and drops the cached key once the write succeeded,
// so a read racing the write cannot leave the old value cached.
func (s *CachedStore) Set(ctx context.Context, entityType string, entityID int64, name string, v Value) error {
	if err := s.next.Set(ctx, entityType, entityID, name, v); err != nil {
		return err
	}
	s.cache.Delete(cacheKey(entityType, entityID, name))
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, entityType string, entityID int64, name string) error {
	if err := s.next.Delete(ctx, entityType, entityID, name); err != nil {
		return err
	}
	s.cache.Delete(cacheKey(entityType, entityID, name))
	return nil
}
