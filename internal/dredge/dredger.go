// Package dredge drives the per-site crawl loop: discover, filter against
// known state, verify, import, and record outcomes.
package dredge

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/mealie-tools/recipe-dredger/internal/domain"
	"github.com/mealie-tools/recipe-dredger/internal/importer"
	"github.com/mealie-tools/recipe-dredger/internal/monitoring"
	"github.com/mealie-tools/recipe-dredger/internal/sitemap"
	"github.com/mealie-tools/recipe-dredger/internal/state"
	"github.com/mealie-tools/recipe-dredger/internal/urlutil"
	"github.com/mealie-tools/recipe-dredger/internal/verify"
)

// Options bound one run.
type Options struct {
	TargetPerSite int
	ScanDepth     int
	BypassCache   bool
}

// Summary aggregates outcomes across all sites in one run.
type Summary struct {
	Sites    int
	Found    int
	Imported int
	Rejected int
	Retried  int
	Errors   int
}

// Dredger orchestrates one ingestion run over a list of sites.
type Dredger struct {
	source   *sitemap.Source
	verifier *verify.Verifier
	stage    *importer.Stage
	store    *state.Store
	policy   *importer.RetryPolicy
	canon    *urlutil.Canonicalizer
	opts     Options
	logger   *zap.Logger

	metrics *monitoring.Metrics
	rng     *rand.Rand
}

func New(source *sitemap.Source, verifier *verify.Verifier, stage *importer.Stage, store *state.Store, policy *importer.RetryPolicy, canon *urlutil.Canonicalizer, opts Options, logger *zap.Logger) *Dredger {
	return &Dredger{
		source:   source,
		verifier: verifier,
		stage:    stage,
		store:    store,
		policy:   policy,
		canon:    canon,
		opts:     opts,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetMetrics attaches run counters. Safe to leave unset.
func (d *Dredger) SetMetrics(m *monitoring.Metrics) {
	d.metrics = m
}

// Run processes the retry queue, then crawls each site. Site order and
// candidate order are shuffled to spread load across runs. Per-item failures
// never abort the run; cancellation finishes the current item and returns.
func (d *Dredger) Run(ctx context.Context, sites []string) Summary {
	var summary Summary

	d.processRetryQueue(ctx)

	shuffled := append([]string(nil), sites...)
	d.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	for _, site := range shuffled {
		if ctx.Err() != nil {
			break
		}
		stats := d.dredgeSite(ctx, site)
		summary.Sites++
		summary.Found += stats.Found
		summary.Imported += stats.Imported
		summary.Rejected += stats.Rejected
		summary.Errors += stats.Errors
		if d.metrics != nil {
			d.metrics.ObserveSite(site, stats)
		}
		// Persist at site boundaries so a crash mid-run loses at most the
		// current site's records.
		if err := d.store.Flush(ctx); err != nil {
			d.logger.Warn("state flush failed", zap.Error(err))
		}
	}

	imported, rejected, retrying := d.store.Counts()
	summary.Retried = retrying
	if d.metrics != nil {
		d.metrics.SetRetryQueueDepth(retrying)
	}
	d.logger.Info("run complete",
		zap.Int("sites", summary.Sites),
		zap.Int("found", summary.Found),
		zap.Int("imported", summary.Imported),
		zap.Int("rejected", summary.Rejected),
		zap.Int("errors", summary.Errors),
		zap.Int("total_imported", imported),
		zap.Int("total_rejected", rejected),
		zap.Int("retry_queue", retrying))
	return summary
}

// dredgeSite runs the discover-filter-verify-import loop for one site, up to
// the per-site import target or the scan depth, whichever comes first.
func (d *Dredger) dredgeSite(ctx context.Context, site string) domain.SiteStats {
	stats := domain.SiteStats{SiteURL: site, LastRun: time.Now().UTC()}
	log := d.logger.With(zap.String("site", site))

	candidates, err := d.source.Discover(ctx, site, d.opts.ScanDepth, d.opts.BypassCache)
	if err != nil {
		var derr *sitemap.DiscoveryError
		if errors.As(err, &derr) {
			log.Warn("site skipped", zap.String("reason", derr.Reason))
		} else {
			log.Warn("site skipped", zap.Error(err))
		}
		stats.Errors++
		d.store.UpdateStats(site, stats)
		return stats
	}
	log.Info("candidates discovered", zap.Int("count", len(candidates)))

	d.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	var batch []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		result := d.stage.ImportAll(ctx, site, batch)
		stats.Imported += result.Imported
		stats.Rejected += result.Rejected
		batch = batch[:0]
	}

	inspected := 0
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		if stats.Imported >= d.opts.TargetPerSite || inspected >= d.opts.ScanDepth {
			break
		}
		inspected++

		canonical := d.canon.Canonicalize(candidate.URL)
		if d.store.IsKnown(canonical) {
			continue
		}

		result := d.verifier.Verify(ctx, candidate.URL)
		key := result.CanonicalURL
		if key == "" {
			key = canonical
		}

		switch {
		case result.IsRecipe:
			if d.store.IsKnown(key) {
				continue
			}
			stats.Found++
			batch = append(batch, key)
			// Flush in small groups so the import target is honored
			// without verifying far past it.
			if need := d.opts.TargetPerSite - stats.Imported; len(batch) >= 8 || len(batch) >= need {
				flush()
			}
		case result.Transient:
			if d.stage.ScheduleRetry(key, result.Reason) {
				log.Info("transient verification failure queued for retry",
					zap.String("url", candidate.URL), zap.String("reason", result.Reason))
			} else {
				stats.Rejected++
			}
		default:
			log.Debug("candidate rejected",
				zap.String("url", candidate.URL), zap.String("reason", result.Reason))
			d.store.MarkRejected(key, result.Reason)
			stats.Rejected++
		}
	}
	flush()

	d.store.UpdateStats(site, stats)
	log.Info("site complete",
		zap.Int("found", stats.Found),
		zap.Int("imported", stats.Imported),
		zap.Int("rejected", stats.Rejected),
		zap.Int("errors", stats.Errors))
	return stats
}

// processRetryQueue re-attempts due entries before crawling. Entries not yet
// due are skipped silently; exhausted entries are finalized to rejection.
func (d *Dredger) processRetryQueue(ctx context.Context) {
	pending := d.store.RetrySnapshot()
	if len(pending) == 0 {
		return
	}
	d.logger.Info("processing retry queue", zap.Int("entries", len(pending)))

	for url, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		if d.policy.Exhausted(entry) {
			d.store.RemoveRetry(url)
			d.store.MarkRejected(url, "retry attempts exhausted: "+entry.LastError)
			if d.metrics != nil {
				d.metrics.IncError("retry_exhausted")
			}
			continue
		}
		if !d.policy.Due(entry) {
			continue
		}

		result := d.verifier.Verify(ctx, url)
		if !result.IsRecipe {
			if result.Transient {
				d.stage.ScheduleRetry(url, result.Reason)
			} else {
				d.store.RemoveRetry(url)
				d.store.MarkRejected(url, result.Reason)
			}
			continue
		}

		key := result.CanonicalURL
		if key == "" {
			key = url
		}
		d.stage.ImportAll(ctx, "retry-queue", []string{key})
		if d.store.IsImported(key) && key != url {
			// The entry was keyed under the old canonical form.
			d.store.RemoveRetry(url)
		}
	}
}
