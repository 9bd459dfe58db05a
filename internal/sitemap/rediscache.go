package sitemap

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mealie-tools/recipe-dredger/internal/domain"
)

// RedisCache keeps sitemap scan results in Redis so multiple dredger
// instances share one scan of a site. Entries carry a TTL matching the
// cache expiry; the age check in Discover still applies on top.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCache(addr string, ttl time.Duration, logger *zap.Logger) *RedisCache {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisCache{client: rdb, ttl: ttl, logger: logger}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) key(site string) string {
	return fmt.Sprintf("sitemap:%s", site)
}

func (c *RedisCache) Get(site string) (domain.SitemapCacheEntry, bool) {
	raw, err := c.client.Get(context.Background(), c.key(site)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("sitemap cache read failed", zap.String("site", site), zap.Error(err))
		}
		return domain.SitemapCacheEntry{}, false
	}
	var entry domain.SitemapCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("sitemap cache entry corrupted", zap.String("site", site), zap.Error(err))
		return domain.SitemapCacheEntry{}, false
	}
	return entry, true
}

func (c *RedisCache) Put(site string, entry domain.SitemapCacheEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.client.Set(context.Background(), c.key(site), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("sitemap cache write failed", zap.String("site", site), zap.Error(err))
	}
}
