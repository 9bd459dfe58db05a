package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mealie-tools/recipe-dredger/internal/domain"
)

func openTestStore(t *testing.T, threshold int) (*Store, *FileBackend) {
	t.Helper()
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store, err := Open(context.Background(), backend, threshold, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return store, backend
}

func assertMembership(t *testing.T, s *Store, canonical string, imported, rejected, retrying bool) {
	t.Helper()
	if got := s.IsImported(canonical); got != imported {
		t.Errorf("IsImported(%q) = %v, want %v", canonical, got, imported)
	}
	if got := s.IsRejected(canonical); got != rejected {
		t.Errorf("IsRejected(%q) = %v, want %v", canonical, got, rejected)
	}
	_, got := s.RetryEntry(canonical)
	if got != retrying {
		t.Errorf("retry membership for %q = %v, want %v", canonical, got, retrying)
	}
}

func TestSetMembershipIsMutuallyExclusive(t *testing.T) {
	s, _ := openTestStore(t, 100)
	const key = "https://example.com/pie"

	s.PutRetry(key, domain.RetryEntry{Attempts: 1, NextAttemptAt: time.Now()})
	assertMembership(t, s, key, false, false, true)

	s.MarkRejected(key, "no recipe detected")
	assertMembership(t, s, key, false, true, false)

	// A reject is overridden by a later import (duplicate discovered).
	s.MarkImported(key, "example.com", "")
	assertMembership(t, s, key, true, false, false)

	// Imported records cannot be demoted by reject or retry writes.
	s.MarkRejected(key, "late reject")
	s.PutRetry(key, domain.RetryEntry{Attempts: 1})
	assertMembership(t, s, key, true, false, false)
}

func TestRejectedURLNotRequeued(t *testing.T) {
	s, _ := openTestStore(t, 100)
	const key = "https://example.com/cake"
	s.MarkRejected(key, "listicle")
	s.PutRetry(key, domain.RetryEntry{Attempts: 1})
	assertMembership(t, s, key, false, true, false)
}

func TestReserveIsExclusive(t *testing.T) {
	s, _ := openTestStore(t, 100)
	const key = "https://example.com/stew"

	var wg sync.WaitGroup
	wins := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- s.Reserve(key)
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("%d workers reserved the same canonical URL, want exactly 1", won)
	}

	s.MarkImported(key, "example.com", "")
	if s.Reserve(key) {
		t.Fatal("reserve succeeded for an already-imported URL")
	}
}

func TestReleaseAllowsReclaim(t *testing.T) {
	s, _ := openTestStore(t, 100)
	const key = "https://example.com/soup"
	if !s.Reserve(key) {
		t.Fatal("initial reserve failed")
	}
	s.Release(key)
	if !s.Reserve(key) {
		t.Fatal("reserve after release failed")
	}
}

func TestFlushThresholdPersists(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	s, err := Open(context.Background(), backend, 3, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	s.MarkImported("https://a.com/1", "a.com", "")
	s.MarkImported("https://a.com/2", "a.com", "")

	// Below threshold: a fresh store sees nothing yet.
	fresh, err := Open(context.Background(), backend, 3, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if fresh.IsImported("https://a.com/1") {
		t.Fatal("flush happened before threshold")
	}

	s.MarkImported("https://a.com/3", "a.com", "")

	fresh, err = Open(context.Background(), backend, 3, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range []string{"https://a.com/1", "https://a.com/2", "https://a.com/3"} {
		if !fresh.IsImported(u) {
			t.Errorf("%s missing after threshold flush", u)
		}
	}
}

func TestExplicitFlushRoundTrip(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	s, err := Open(context.Background(), backend, 1000, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	s.MarkImported("https://a.com/1", "a.com", "lib-1")
	s.MarkRejected("https://a.com/2", "no recipe detected")
	s.PutRetry("https://a.com/3", domain.RetryEntry{
		Attempts:      2,
		NextAttemptAt: time.Now().Add(time.Hour).UTC(),
		LastError:     "HTTP 503",
	})
	s.UpdateStats("https://a.com", domain.SiteStats{SiteURL: "https://a.com", Imported: 1})
	s.PutSitemap("https://a.com", domain.SitemapCacheEntry{
		SitemapURL: "https://a.com/sitemap.xml",
		URLs:       []string{"https://a.com/1"},
		FetchedAt:  time.Now().UTC(),
	})
	s.MarkSlugVerified("lemon-cake")
	s.SaveHostSnapshot([]string{"a.com", "b.com"})

	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	fresh, err := Open(context.Background(), backend, 1000, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	if !fresh.IsImported("https://a.com/1") || !fresh.IsRejected("https://a.com/2") {
		t.Fatal("imported/reject records lost across reload")
	}
	entry, ok := fresh.RetryEntry("https://a.com/3")
	if !ok || entry.Attempts != 2 || entry.LastError != "HTTP 503" {
		t.Fatalf("retry entry lost or mangled: %+v ok=%v", entry, ok)
	}
	if !fresh.IsSlugVerified("lemon-cake") {
		t.Fatal("verified slug lost")
	}
	if hosts := fresh.HostSnapshot(); len(hosts) != 2 {
		t.Fatalf("host snapshot lost: %v", hosts)
	}
	if _, ok := fresh.GetSitemap("https://a.com"); !ok {
		t.Fatal("sitemap cache entry lost")
	}
	stats := fresh.StatsSnapshot()
	if stats["https://a.com"].Imported != 1 {
		t.Fatalf("stats lost: %+v", stats)
	}
}

func TestRemoveImported(t *testing.T) {
	s, _ := openTestStore(t, 100)
	s.MarkImported("https://a.com/1", "a.com", "")
	s.RemoveImported("https://a.com/1")
	if s.IsImported("https://a.com/1") {
		t.Fatal("record still imported after removal")
	}
	// Now a reject can take its place (cleaner flow).
	s.MarkRejected("https://a.com/1", "junk content")
	assertMembership(t, s, "https://a.com/1", false, true, false)
}
