package sitemap

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mealie-tools/recipe-dredger/internal/domain"
	"github.com/mealie-tools/recipe-dredger/internal/ratelimit"
)

type memCache struct {
	entries map[string]domain.SitemapCacheEntry
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]domain.SitemapCacheEntry)}
}

func (c *memCache) Get(site string) (domain.SitemapCacheEntry, bool) {
	e, ok := c.entries[site]
	return e, ok
}

func (c *memCache) Put(site string, entry domain.SitemapCacheEntry) {
	c.entries[site] = entry
}

func urlset(urls ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, u := range urls {
		fmt.Fprintf(&b, "<url><loc>%s</loc></url>", u)
	}
	b.WriteString(`</urlset>`)
	return b.String()
}

func sitemapindex(urls ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, u := range urls {
		fmt.Fprintf(&b, "<sitemap><loc>%s</loc></sitemap>", u)
	}
	b.WriteString(`</sitemapindex>`)
	return b.String()
}

func newTestSource(cache Cache, expiry time.Duration) *Source {
	limiter := ratelimit.New(0, false, nil)
	return NewSource(http.DefaultClient, limiter, cache, expiry, zap.NewNop())
}

func TestDiscoverViaRobotsDirective(t *testing.T) {
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "User-agent: *\nSitemap: %s/custom-map.xml\n", server.URL)
	})
	mux.HandleFunc("/custom-map.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, urlset(server.URL+"/recipe/1", server.URL+"/recipe/2"))
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	src := newTestSource(newMemCache(), time.Hour)
	got, err := src.Discover(context.Background(), server.URL, 100, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2: %v", len(got), got)
	}
	if got[0].URL != server.URL+"/recipe/1" {
		t.Errorf("unexpected first candidate %q", got[0].URL)
	}
}

func TestDiscoverProbesConventionalPaths(t *testing.T) {
	var server *httptest.Server
	headSeen := false
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/sitemap_index.xml", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			headSeen = true
			// Some servers reject HEAD; the probe must retry with GET.
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		fmt.Fprint(w, urlset(server.URL+"/recipe/1"))
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	src := newTestSource(newMemCache(), time.Hour)
	got, err := src.Discover(context.Background(), server.URL, 100, false)
	if err != nil {
		t.Fatal(err)
	}
	if !headSeen {
		t.Error("probe never issued a HEAD request")
	}
	if len(got) != 1 || got[0].URL != server.URL+"/recipe/1" {
		t.Fatalf("unexpected candidates %v", got)
	}
}

func TestDiscoverNoSitemapFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	src := newTestSource(newMemCache(), time.Hour)
	_, err := src.Discover(context.Background(), server.URL, 100, false)
	if err == nil {
		t.Fatal("expected discovery error")
	}
	if !strings.Contains(err.Error(), "no sitemap found") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestDiscoverPrefersContentSitemaps(t *testing.T) {
	var server *httptest.Server
	fetched := make(map[string]int)
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap_index.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sitemapindex(
			server.URL+"/page-sitemap.xml",
			server.URL+"/post-sitemap.xml",
			server.URL+"/recipe-sitemap1.xml",
			server.URL+"/recipe-sitemap2.xml",
			server.URL+"/recipe-sitemap3.xml",
		))
	})
	handler := func(path, page string) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				fetched[path]++
			}
			fmt.Fprint(w, urlset(server.URL+page))
		})
	}
	handler("/page-sitemap.xml", "/about")
	handler("/post-sitemap.xml", "/post/1")
	handler("/recipe-sitemap1.xml", "/recipe/1")
	handler("/recipe-sitemap2.xml", "/recipe/2")
	handler("/recipe-sitemap3.xml", "/recipe/3")
	server = httptest.NewServer(mux)
	defer server.Close()

	src := newTestSource(newMemCache(), time.Hour)
	got, err := src.Discover(context.Background(), server.URL, 100, false)
	if err != nil {
		t.Fatal(err)
	}

	if fetched["/page-sitemap.xml"] != 0 {
		t.Error("non-content sitemap was fetched despite content matches")
	}
	// Four children match post/recipe but only three may be followed.
	if followed := len(fetched); followed != 3 {
		t.Errorf("followed %d child sitemaps, want 3: %v", followed, fetched)
	}
	if len(got) != 3 {
		t.Errorf("got %d candidates, want 3: %v", len(got), got)
	}
}

func TestDiscoverHonorsURLBudget(t *testing.T) {
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		var urls []string
		for i := 0; i < 50; i++ {
			urls = append(urls, fmt.Sprintf("%s/recipe/%d", server.URL, i))
		}
		fmt.Fprint(w, urlset(urls...))
	})
	mux.HandleFunc("/sitemap_index.xml", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	src := newTestSource(newMemCache(), time.Hour)
	got, err := src.Discover(context.Background(), server.URL, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d candidates, want 10", len(got))
	}
}

func TestDiscoverUsesFreshCacheEntry(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.NotFound(w, r)
	}))
	defer server.Close()

	cache := newMemCache()
	cache.Put(server.URL, domain.SitemapCacheEntry{
		SitemapURL: server.URL + "/sitemap.xml",
		URLs:       []string{server.URL + "/recipe/1"},
		FetchedAt:  time.Now(),
	})

	src := newTestSource(cache, time.Hour)
	got, err := src.Discover(context.Background(), server.URL, 100, false)
	if err != nil {
		t.Fatal(err)
	}
	if requests != 0 {
		t.Errorf("network touched %d times despite fresh cache", requests)
	}
	if len(got) != 1 {
		t.Fatalf("unexpected candidates %v", got)
	}
}

func TestDiscoverExpiredCacheRefetches(t *testing.T) {
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap_index.xml", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, urlset(server.URL+"/recipe/new"))
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	cache := newMemCache()
	cache.Put(server.URL, domain.SitemapCacheEntry{
		SitemapURL: server.URL + "/sitemap.xml",
		URLs:       []string{server.URL + "/recipe/stale"},
		FetchedAt:  time.Now().Add(-8 * 24 * time.Hour),
	})

	src := newTestSource(cache, 7*24*time.Hour)
	got, err := src.Discover(context.Background(), server.URL, 100, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].URL != server.URL+"/recipe/new" {
		t.Fatalf("stale cache served: %v", got)
	}
	if entry, ok := cache.Get(server.URL); !ok || entry.URLs[0] != server.URL+"/recipe/new" {
		t.Error("refreshed result not written back to cache")
	}
}

func TestDiscoverBypassCacheStillWrites(t *testing.T) {
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap_index.xml", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, urlset(server.URL+"/recipe/live"))
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	cache := newMemCache()
	cache.Put(server.URL, domain.SitemapCacheEntry{
		URLs:      []string{server.URL + "/recipe/cached"},
		FetchedAt: time.Now(),
	})

	src := newTestSource(cache, time.Hour)
	got, err := src.Discover(context.Background(), server.URL, 100, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].URL != server.URL+"/recipe/live" {
		t.Fatalf("cache not bypassed: %v", got)
	}
	if entry, _ := cache.Get(server.URL); entry.URLs[0] != server.URL+"/recipe/live" {
		t.Error("bypass fetch did not refresh the cache entry")
	}
}

func TestParseSitemapIgnoresNestedImageLocs(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"
        xmlns:image="http://www.google.com/schemas/sitemap-image/1.1">
  <url>
    <loc>https://example.com/recipe/1</loc>
    <image:image>
      <image:loc>https://example.com/wp-content/uploads/pie.jpg</image:loc>
    </image:image>
  </url>
</urlset>`
	pages, children, err := parseSitemap(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 0 {
		t.Errorf("unexpected children %v", children)
	}
	if len(pages) != 1 || pages[0] != "https://example.com/recipe/1" {
		t.Fatalf("pages = %v, want only the page loc", pages)
	}
}

func TestParseSitemapIndex(t *testing.T) {
	doc := sitemapindex("https://example.com/post-sitemap.xml", "https://example.com/page-sitemap.xml")
	pages, children, err := parseSitemap(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 0 {
		t.Errorf("unexpected pages %v", pages)
	}
	if len(children) != 2 {
		t.Fatalf("children = %v, want 2 entries", children)
	}
}
