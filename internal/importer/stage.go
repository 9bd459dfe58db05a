// Package importer posts verified candidates to the target library with a
// bounded worker pool, duplicate-safe prechecks, and a per-site circuit
// breaker.
package importer

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mealie-tools/recipe-dredger/internal/domain"
	"github.com/mealie-tools/recipe-dredger/internal/state"
	"github.com/mealie-tools/recipe-dredger/internal/urlutil"
)

// Library is the slice of the library client the import stage needs.
type Library interface {
	CreateFromURL(ctx context.Context, url string) (domain.ImportOutcome, error)
	KnownSource(ctx context.Context, url string) bool
}

// Options tune one import stage.
type Options struct {
	Workers          int
	Precheck         bool
	FailureThreshold int
	// RequeuePending decides what happens to candidates still waiting when
	// the breaker trips: requeue them as immediately-due retries, or drop
	// them for rediscovery on a later run.
	RequeuePending bool
}

// Result aggregates one batch's outcomes. Imported includes duplicates,
// which are recorded as imported to stop future rechecking.
type Result struct {
	Imported   int
	Duplicates int
	Rejected   int
	Retried    int
	Skipped    int
	Tripped    bool
}

// Stage imports batches of verified canonical URLs.
type Stage struct {
	library Library
	store   *state.Store
	policy  *RetryPolicy
	opts    Options
	logger  *zap.Logger
}

func NewStage(library Library, store *state.Store, policy *RetryPolicy, opts Options, logger *zap.Logger) *Stage {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Stage{
		library: library,
		store:   store,
		policy:  policy,
		opts:    opts,
		logger:  logger,
	}
}

// breaker counts consecutive library failures for one batch.
type breaker struct {
	mu          sync.Mutex
	consecutive int
	threshold   int
	open        bool
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	if b.threshold > 0 && b.consecutive >= b.threshold {
		b.open = true
	}
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// ImportAll posts one site's verified batch. URLs must already be canonical.
// The precheck-then-create sequence for any one URL is serialized through the
// store's reservation lock, so racing workers cannot double-create.
func (s *Stage) ImportAll(ctx context.Context, site string, urls []string) Result {
	var (
		mu     sync.Mutex
		result Result
	)
	brk := &breaker{threshold: s.opts.FailureThreshold}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for _, url := range urls {
		url := url
		g.Go(func() error {
			outcome := s.importOne(ctx, brk, url)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case domain.ImportSuccess:
				result.Imported++
			case domain.ImportDuplicate:
				result.Imported++
				result.Duplicates++
			case domain.ImportPermanentReject:
				result.Rejected++
			case domain.ImportTransientFailure:
				result.Retried++
			case domain.ImportSkipped:
				if s.opts.RequeuePending {
					result.Retried++
				} else {
					result.Skipped++
				}
			}
			return nil
		})
	}
	g.Wait()

	result.Tripped = brk.isOpen()
	if result.Tripped {
		s.logger.Warn("circuit breaker tripped, aborted remaining imports",
			zap.String("site", site),
			zap.Int("threshold", s.opts.FailureThreshold))
	}
	return result
}

func (s *Stage) importOne(ctx context.Context, brk *breaker, url string) domain.ImportOutcome {
	if brk.isOpen() || ctx.Err() != nil {
		s.abandon(url)
		return domain.ImportSkipped
	}

	if !s.store.Reserve(url) {
		// Already imported, or another worker won the race for this URL.
		return domain.ImportDuplicate
	}

	if s.opts.Precheck && s.library.KnownSource(ctx, url) {
		s.logger.Info("duplicate source, skipping import", zap.String("url", url))
		s.store.MarkImported(url, urlutil.Host(url), "")
		return domain.ImportDuplicate
	}

	outcome, err := s.library.CreateFromURL(ctx, url)
	switch outcome {
	case domain.ImportSuccess, domain.ImportDuplicate:
		brk.success()
		s.store.MarkImported(url, urlutil.Host(url), "")
	case domain.ImportTransientFailure:
		brk.failure()
		if s.ScheduleRetry(url, errString(err)) {
			s.logger.Warn("transient import failure queued for retry",
				zap.String("url", url), zap.Error(err))
		} else {
			outcome = domain.ImportPermanentReject
		}
		s.store.Release(url)
	case domain.ImportPermanentReject:
		brk.failure()
		s.logger.Warn("import rejected", zap.String("url", url), zap.Error(err))
		s.store.MarkRejected(url, errString(err))
	}
	return outcome
}

// ScheduleRetry advances the URL's retry entry, finalizing to rejection when
// the attempt cap is reached. Returns false when finalized.
func (s *Stage) ScheduleRetry(url, lastError string) bool {
	entry, _ := s.store.RetryEntry(url)
	next, ok := s.policy.Next(entry, lastError)
	if !ok || s.policy.Exhausted(next) {
		s.logger.Warn("max retries reached, rejecting", zap.String("url", url))
		s.store.RemoveRetry(url)
		s.store.MarkRejected(url, "retry attempts exhausted: "+lastError)
		return false
	}
	s.store.PutRetry(url, next)
	return true
}

// abandon disposes of a candidate never attempted because the breaker opened.
func (s *Stage) abandon(url string) {
	if !s.opts.RequeuePending {
		return
	}
	if s.store.IsKnown(url) {
		return
	}
	entry, _ := s.store.RetryEntry(url)
	s.store.PutRetry(url, domain.RetryEntry{
		Attempts:      entry.Attempts,
		NextAttemptAt: entry.NextAttemptAt,
		LastError:     "import aborted: circuit breaker open",
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
