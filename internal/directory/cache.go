package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"incidentdesk/internal/models"
	"incidentdesk/internal/redis"
)

const (
	cacheKeyPrefix  = "directory:"
	DefaultCacheTTL = 5 * time.Minute
)

// Cache is the subset of the redis client used for participant caching.
// Misses are reported as redis.ErrCacheMiss.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// CachedDirectory serves lookups from the cache and falls back to the wrapped directory.
// Cache failures degrade to direct lookups.
type CachedDirectory struct {
	next  Directory
	cache Cache
	ttl   time.Duration
	log   zerolog.Logger
}

func NewCachedDirectory(next Directory, cache Cache, ttl time.Duration, log zerolog.Logger) *CachedDirectory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedDirectory{next: next, cache: cache, ttl: ttl, log: log}
}

func cacheKey(ref models.Ref) string {
	return fmt.Sprintf("%s%s:%d", cacheKeyPrefix, ref.Role, ref.ID)
}

func (d *CachedDirectory) FindByID(ctx context.Context, role models.Role, id int64) (*models.Participant, error) {
	key := cacheKey(models.Ref{Role: role, ID: id})
	raw, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		var p models.Participant
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			return &p, nil
		}
		d.log.Warn().Str("key", key).Msg("directory cache entry undecodable, refreshing")
	case !errors.Is(err, redis.ErrCacheMiss):
		d.log.Warn().Err(err).Str("key", key).Msg("directory cache read failed")
	}

	p, err := d.next.FindByID(ctx, role, id)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return p, nil
	}
	if err := d.cache.Set(ctx, key, data, d.ttl); err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("directory cache write failed")
	}
	return p, nil
}

// Invalidate drops the cached entry for ref.
func (d *CachedDirectory) Invalidate(ctx context.Context, ref models.Ref) error {
	if err := d.cache.Del(ctx, cacheKey(ref)); err != nil {
		return fmt.Errorf("invalidate %s: %w", ref, err)
	}
	return nil
}
