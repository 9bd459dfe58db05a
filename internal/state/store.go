// Package state owns all durable pipeline records: imported, rejected,
// retry queue, per-site stats, sitemap cache, and the alignment host
// snapshot. A canonical URL belongs to at most one of the imported,
// rejected, and retrying sets at any time; the transition methods here are
// the only way records move between them.
package state

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mealie-tools/recipe-dredger/internal/domain"
)

// Records is the full persisted snapshot handled by a Backend.
type Records struct {
	Imported map[string]domain.ImportRecord      `json:"imported"`
	Rejects  map[string]domain.RejectRecord      `json:"rejects"`
	Retries  map[string]domain.RetryEntry        `json:"retries"`
	Stats    map[string]domain.SiteStats         `json:"stats"`
	Sitemaps map[string]domain.SitemapCacheEntry `json:"sitemaps"`
	Verified map[string]struct{}                 `json:"verified"`
	Hosts    []string                            `json:"hosts"`
}

func newRecords() *Records {
	return &Records{
		Imported: make(map[string]domain.ImportRecord),
		Rejects:  make(map[string]domain.RejectRecord),
		Retries:  make(map[string]domain.RetryEntry),
		Stats:    make(map[string]domain.SiteStats),
		Sitemaps: make(map[string]domain.SitemapCacheEntry),
		Verified: make(map[string]struct{}),
	}
}

func (r *Records) normalize() {
	if r.Imported == nil {
		r.Imported = make(map[string]domain.ImportRecord)
	}
	if r.Rejects == nil {
		r.Rejects = make(map[string]domain.RejectRecord)
	}
	if r.Retries == nil {
		r.Retries = make(map[string]domain.RetryEntry)
	}
	if r.Stats == nil {
		r.Stats = make(map[string]domain.SiteStats)
	}
	if r.Sitemaps == nil {
		r.Sitemaps = make(map[string]domain.SitemapCacheEntry)
	}
	if r.Verified == nil {
		r.Verified = make(map[string]struct{})
	}
}

// Backend persists a Records snapshot.
type Backend interface {
	Load(ctx context.Context) (*Records, error)
	Save(ctx context.Context, records *Records) error
}

// Store is the in-process state with a single mutation lock. Mutations are
// buffered and flushed to the backend once flushThreshold changes
// accumulate, and again on shutdown; an abrupt crash loses at most
// flushThreshold-1 changes.
type Store struct {
	mu       sync.Mutex
	backend  Backend
	logger   *zap.Logger
	records  *Records
	reserved map[string]struct{}

	flushThreshold int
	changes        int

	now func() time.Time
}

// Open loads existing records through the backend.
func Open(ctx context.Context, backend Backend, flushThreshold int, logger *zap.Logger) (*Store, error) {
	records, err := backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = newRecords()
	}
	records.normalize()

	return &Store{
		backend:        backend,
		logger:         logger,
		records:        records,
		reserved:       make(map[string]struct{}),
		flushThreshold: flushThreshold,
		now:            time.Now,
	}, nil
}

// IsImported reports O(1) membership in the imported set.
func (s *Store) IsImported(canonical string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records.Imported[canonical]
	return ok
}

// IsRejected reports O(1) membership in the reject set.
func (s *Store) IsRejected(canonical string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records.Rejects[canonical]
	return ok
}

// IsKnown reports membership in any of the three record sets.
func (s *Store) IsKnown(canonical string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records.Imported[canonical]; ok {
		return true
	}
	if _, ok := s.records.Rejects[canonical]; ok {
		return true
	}
	_, ok := s.records.Retries[canonical]
	return ok
}

// Reserve claims a canonical URL for one in-flight import. It returns false
// when the URL is already imported or another worker holds the claim. The
// check-and-claim happens under the mutation lock so two workers can never
// both conclude "not yet imported".
func (s *Store) Reserve(canonical string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records.Imported[canonical]; ok {
		return false
	}
	if _, ok := s.reserved[canonical]; ok {
		return false
	}
	s.reserved[canonical] = struct{}{}
	return true
}

// Release drops a reservation without recording an outcome, for candidates
// abandoned mid-flight (shutdown, circuit breaker).
func (s *Store) Release(canonical string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved, canonical)
}

// MarkImported transitions a canonical URL into the imported set, clearing
// any retry or reject record and the reservation.
func (s *Store) MarkImported(canonical, sourceHost, libraryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records.Imported[canonical] = domain.ImportRecord{
		CanonicalURL: canonical,
		SourceHost:   sourceHost,
		ImportedAt:   s.now(),
		LibraryID:    libraryID,
	}
	delete(s.records.Retries, canonical)
	delete(s.records.Rejects, canonical)
	delete(s.reserved, canonical)
	s.bump(ctxless)
}

// MarkRejected transitions a canonical URL into the reject set. Imported
// URLs are left alone; use RemoveImported first when the library copy was
// deleted.
func (s *Store) MarkRejected(canonical, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records.Imported[canonical]; ok {
		delete(s.reserved, canonical)
		return
	}
	s.records.Rejects[canonical] = domain.RejectRecord{
		CanonicalURL: canonical,
		Reason:       reason,
		RejectedAt:   s.now(),
	}
	delete(s.records.Retries, canonical)
	delete(s.reserved, canonical)
	s.bump(ctxless)
}

// RemoveImported deletes an import record, used when the cleaner or an
// alignment pass removes the item from the library.
func (s *Store) RemoveImported(canonical string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records.Imported[canonical]; !ok {
		return
	}
	delete(s.records.Imported, canonical)
	s.bump(ctxless)
}

// RetryEntry returns the queue entry for a canonical URL, if any.
func (s *Store) RetryEntry(canonical string) (domain.RetryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records.Retries[canonical]
	return e, ok
}

// PutRetry records a transient failure. URLs already imported or rejected
// are not re-queued, preserving set exclusivity.
func (s *Store) PutRetry(canonical string, entry domain.RetryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records.Imported[canonical]; ok {
		delete(s.reserved, canonical)
		return
	}
	if _, ok := s.records.Rejects[canonical]; ok {
		delete(s.reserved, canonical)
		return
	}
	s.records.Retries[canonical] = entry
	delete(s.reserved, canonical)
	s.bump(ctxless)
}

// RemoveRetry drops a retry entry without recording any other outcome.
func (s *Store) RemoveRetry(canonical string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records.Retries[canonical]; !ok {
		return
	}
	delete(s.records.Retries, canonical)
	s.bump(ctxless)
}

// RetrySnapshot returns a copy of the retry queue for the retry pass.
func (s *Store) RetrySnapshot() map[string]domain.RetryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.RetryEntry, len(s.records.Retries))
	for k, v := range s.records.Retries {
		out[k] = v
	}
	return out
}

// ImportedSnapshot returns a copy of the imported records, keyed by
// canonical URL.
func (s *Store) ImportedSnapshot() map[string]domain.ImportRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.ImportRecord, len(s.records.Imported))
	for k, v := range s.records.Imported {
		out[k] = v
	}
	return out
}

// UpdateStats overwrites a site's stats for this run.
func (s *Store) UpdateStats(site string, stats domain.SiteStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records.Stats[site] = stats
	s.bump(ctxless)
}

// StatsSnapshot returns a copy of all per-site stats.
func (s *Store) StatsSnapshot() map[string]domain.SiteStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.SiteStats, len(s.records.Stats))
	for k, v := range s.records.Stats {
		out[k] = v
	}
	return out
}

// Counts reports the sizes of the three record sets.
func (s *Store) Counts() (imported, rejected, retrying int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records.Imported), len(s.records.Rejects), len(s.records.Retries)
}

// IsSlugVerified reports whether the cleaner has already deep-checked a
// library slug.
func (s *Store) IsSlugVerified(slug string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records.Verified[slug]
	return ok
}

func (s *Store) MarkSlugVerified(slug string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records.Verified[slug] = struct{}{}
	s.bump(ctxless)
}

func (s *Store) UnmarkSlugVerified(slug string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records.Verified[slug]; !ok {
		return
	}
	delete(s.records.Verified, slug)
	s.bump(ctxless)
}

// HostSnapshot returns the rolling set of previously-seen site hosts used as
// the implicit alignment baseline.
func (s *Store) HostSnapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.records.Hosts))
	copy(out, s.records.Hosts)
	return out
}

func (s *Store) SaveHostSnapshot(hosts []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records.Hosts = make([]string, len(hosts))
	copy(s.records.Hosts, hosts)
	s.bump(ctxless)
}

// GetSitemap returns the raw cached entry; callers decide expiry.
func (s *Store) GetSitemap(site string) (domain.SitemapCacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.records.Sitemaps[site]
	return e, ok
}

func (s *Store) PutSitemap(site string, entry domain.SitemapCacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records.Sitemaps[site] = entry
	s.bump(ctxless)
}

var ctxless = context.Background()

// bump is called with the lock held.
func (s *Store) bump(ctx context.Context) {
	s.changes++
	if s.changes < s.flushThreshold {
		return
	}
	if err := s.backend.Save(ctx, s.records); err != nil {
		s.logger.Error("state flush failed", zap.Error(err))
		return
	}
	s.changes = 0
}

// Flush force-writes all buffered changes, used on graceful shutdown and at
// site boundaries.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Save(ctx, s.records); err != nil {
		return err
	}
	s.changes = 0
	return nil
}
