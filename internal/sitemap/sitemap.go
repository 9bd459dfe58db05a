// Package sitemap discovers candidate page URLs for a site through its
// sitemaps, with a time-expiring cache in front of the network.
package sitemap

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mealie-tools/recipe-dredger/internal/domain"
	"github.com/mealie-tools/recipe-dredger/internal/fetch"
	"github.com/mealie-tools/recipe-dredger/internal/ratelimit"
)

// Cache stores sitemap scan results per site. Implementations decide where
// entries live; expiry is enforced here.
type Cache interface {
	Get(site string) (domain.SitemapCacheEntry, bool)
	Put(site string, entry domain.SitemapCacheEntry)
}

// Source locates and walks a site's sitemaps.
type Source struct {
	client  *http.Client
	limiter *ratelimit.Limiter
	cache   Cache
	expiry  time.Duration
	logger  *zap.Logger

	// maxIndexDepth bounds sitemapindex recursion; maxChildren bounds how
	// many child sitemaps of one index are followed.
	maxIndexDepth int
	maxChildren   int

	now func() time.Time
}

func NewSource(client *http.Client, limiter *ratelimit.Limiter, cache Cache, expiry time.Duration, logger *zap.Logger) *Source {
	return &Source{
		client:        client,
		limiter:       limiter,
		cache:         cache,
		expiry:        expiry,
		logger:        logger,
		maxIndexDepth: 2,
		maxChildren:   3,
		now:           time.Now,
	}
}

// Discover returns candidate page URLs for a site, at most maxURLs of them.
// A cache entry younger than the expiry short-circuits all network calls;
// bypassCache skips the cache read but still writes a fresh entry.
func (s *Source) Discover(ctx context.Context, site string, maxURLs int, bypassCache bool) ([]domain.Candidate, error) {
	site = strings.TrimSuffix(strings.TrimSpace(site), "/")

	if !bypassCache {
		if entry, ok := s.cache.Get(site); ok && s.now().Sub(entry.FetchedAt) <= s.expiry {
			return capCandidates(entry.URLs, maxURLs), nil
		}
	}

	sitemapURL := s.findSitemap(ctx, site)
	if sitemapURL == "" {
		return nil, &DiscoveryError{Site: site, Reason: "no sitemap found"}
	}

	budget := maxURLs
	urls := s.fetchSitemapURLs(ctx, sitemapURL, 0, &budget)
	s.cache.Put(site, domain.SitemapCacheEntry{
		SitemapURL: sitemapURL,
		URLs:       urls,
		FetchedAt:  s.now(),
	})
	return capCandidates(urls, maxURLs), nil
}

// DiscoveryError means a site could not be scanned this run. The site is
// skipped without any state mutation.
type DiscoveryError struct {
	Site   string
	Reason string
}

func (e *DiscoveryError) Error() string {
	return "sitemap discovery failed for " + e.Site + ": " + e.Reason
}

func capCandidates(urls []string, maxURLs int) []domain.Candidate {
	if maxURLs > 0 && len(urls) > maxURLs {
		urls = urls[:maxURLs]
	}
	out := make([]domain.Candidate, 0, len(urls))
	for _, u := range urls {
		out = append(out, domain.Candidate{URL: u})
	}
	return out
}

// findSitemap prefers robots.txt Sitemap: directives, then probes the
// conventional locations.
func (s *Source) findSitemap(ctx context.Context, site string) string {
	if fromRobots := s.sitemapFromRobots(ctx, site); fromRobots != "" {
		return fromRobots
	}

	for _, path := range []string{
		"/sitemap_index.xml",
		"/sitemap.xml",
		"/wp-sitemap.xml",
		"/post-sitemap.xml",
		"/recipe-sitemap.xml",
	} {
		if found := s.probe(ctx, site+path); found != "" {
			return found
		}
	}
	return ""
}

func (s *Source) sitemapFromRobots(ctx context.Context, site string) string {
	s.limiter.Wait(ctx, site)
	req, err := fetch.NewRequest(ctx, http.MethodGet, site+"/robots.txt")
	if err != nil {
		return ""
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(strings.ToLower(line), "sitemap:") {
			return strings.TrimSpace(line[len("sitemap:"):])
		}
	}
	return ""
}

// probe issues a cheap HEAD existence check, falling back to GET for servers
// that reject HEAD. Returns the final URL after redirects, or "".
func (s *Source) probe(ctx context.Context, candidate string) string {
	s.limiter.Wait(ctx, candidate)

	req, err := fetch.NewRequest(ctx, http.MethodHead, candidate)
	if err != nil {
		return ""
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return ""
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Request.URL.String()
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
		getReq, err := fetch.NewRequest(ctx, http.MethodGet, candidate)
		if err != nil {
			return ""
		}
		getResp, err := s.client.Do(getReq)
		if err != nil {
			return ""
		}
		getResp.Body.Close()
		if getResp.StatusCode == http.StatusOK {
			return getResp.Request.URL.String()
		}
	}
	return ""
}

// fetchSitemapURLs walks one sitemap document, recursing into index entries.
// budget counts page URLs still wanted across the whole recursion.
func (s *Source) fetchSitemapURLs(ctx context.Context, sitemapURL string, depth int, budget *int) []string {
	if depth > s.maxIndexDepth || *budget <= 0 {
		return nil
	}

	s.limiter.Wait(ctx, sitemapURL)
	req, err := fetch.NewRequest(ctx, http.MethodGet, sitemapURL)
	if err != nil {
		return nil
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("sitemap fetch failed", zap.String("url", sitemapURL), zap.Error(err))
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	pages, children, err := parseSitemap(resp.Body)
	if err != nil {
		s.logger.Warn("sitemap parse failed", zap.String("url", sitemapURL), zap.Error(err))
		return nil
	}

	if len(children) > 0 {
		targets := preferContentSitemaps(children)
		if len(targets) > s.maxChildren {
			targets = targets[:s.maxChildren]
		}
		var all []string
		for _, child := range targets {
			if *budget <= 0 {
				break
			}
			all = append(all, s.fetchSitemapURLs(ctx, child, depth+1, budget)...)
		}
		return all
	}

	var urls []string
	for _, page := range pages {
		if *budget <= 0 {
			break
		}
		if !strings.HasPrefix(page, "http://") && !strings.HasPrefix(page, "https://") {
			continue
		}
		urls = append(urls, page)
		*budget--
	}
	return urls
}

// preferContentSitemaps narrows an index to sub-sitemaps whose names suggest
// posts or recipes, falling back to all children when none match.
func preferContentSitemaps(children []string) []string {
	var targets []string
	for _, child := range children {
		if strings.Contains(child, "post") || strings.Contains(child, "recipe") {
			targets = append(targets, child)
		}
	}
	if len(targets) == 0 {
		return children
	}
	return targets
}
