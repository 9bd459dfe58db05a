package state

import "github.com/mealie-tools/recipe-dredger/internal/domain"

// SitemapCache adapts the store's sitemap records to the cache interface the
// sitemap source consumes. Entries persist with the rest of the state files.
type SitemapCache struct {
	store *Store
}

func (s *Store) SitemapCache() *SitemapCache {
	return &SitemapCache{store: s}
}

func (c *SitemapCache) Get(site string) (domain.SitemapCacheEntry, bool) {
	return c.store.GetSitemap(site)
}

func (c *SitemapCache) Put(site string, entry domain.SitemapCacheEntry) {
	c.store.PutSitemap(site, entry)
}
