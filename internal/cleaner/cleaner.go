// Package cleaner removes junk, duplicates and broken entries from an
// already-populated library. It runs in three phases: duplicate-source
// dedupe, name-based filtering, then a deep per-recipe integrity scan.
package cleaner

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mealie-tools/recipe-dredger/internal/mealie"
	"github.com/mealie-tools/recipe-dredger/internal/state"
	"github.com/mealie-tools/recipe-dredger/internal/urlutil"
	"github.com/mealie-tools/recipe-dredger/internal/verify"
)

// Library is the slice of the library client the cleaner needs.
type Library interface {
	ListRecipes(ctx context.Context, perPage int) ([]mealie.Recipe, error)
	GetRecipeDetail(ctx context.Context, slug string) (map[string]any, error)
	Delete(ctx context.Context, id, slug string) error
	Rename(ctx context.Context, id, slug, newName string) error
}

// Options tune one cleaner run.
type Options struct {
	// DryRun leaves all local record state untouched. The library client
	// carries its own dry-run flag for the API side.
	DryRun bool
	// DedupeBySource enables the phase that collapses entries sharing a
	// canonical source URL.
	DedupeBySource bool
	// RenameSalvage renames how-to entries instead of deleting them when a
	// better name can be derived.
	RenameSalvage bool
	// RemoveNonTargetLanguage deletes entries whose payload fails the
	// language policy during the integrity scan.
	RemoveNonTargetLanguage bool
	Workers                 int
	PerPage                 int
}

// Result summarizes what one run did.
type Result struct {
	Scanned           int
	DuplicateGroups   int
	DuplicatesRemoved int
	Deleted           int
	Renamed           int
	RenameFailed      int
	Verified          int
	Kept              int
}

type Cleaner struct {
	library Library
	store   *state.Store
	canon   *urlutil.Canonicalizer
	policy  verify.LanguagePolicy
	opts    Options
	logger  *zap.Logger
}

func New(library Library, store *state.Store, canon *urlutil.Canonicalizer, policy verify.LanguagePolicy, opts Options, logger *zap.Logger) *Cleaner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.PerPage < 50 {
		opts.PerPage = 250
	}
	return &Cleaner{
		library: library,
		store:   store,
		canon:   canon,
		policy:  policy,
		opts:    opts,
		logger:  logger,
	}
}

// languageCleanup reports whether the integrity scan enforces the language
// policy. When it does, previously verified entries are re-checked.
func (c *Cleaner) languageCleanup() bool {
	return c.policy.FilterEnabled && c.opts.RemoveNonTargetLanguage && c.policy.Target != ""
}

// Run executes all enabled phases against the full library listing.
func (c *Cleaner) Run(ctx context.Context) (Result, error) {
	var res Result

	recipes, err := c.library.ListRecipes(ctx, c.opts.PerPage)
	if err != nil {
		return res, err
	}
	res.Scanned = len(recipes)
	if len(recipes) == 0 {
		c.logger.Info("library is empty, nothing to clean")
		return res, nil
	}
	c.logger.Info("cleaner started",
		zap.Int("recipes", len(recipes)),
		zap.Bool("dry_run", c.opts.DryRun),
		zap.Int("workers", c.opts.Workers),
		zap.Bool("language_cleanup", c.languageCleanup()))

	if c.opts.DedupeBySource {
		recipes = c.dedupeBySource(ctx, recipes, &res)
		c.logger.Info("duplicate source scan done",
			zap.Int("groups", res.DuplicateGroups),
			zap.Int("removed", res.DuplicatesRemoved))
	}

	recipes = c.filterByName(ctx, recipes, &res)
	c.logger.Info("name filter scan done",
		zap.Int("deleted", res.Deleted),
		zap.Int("renamed", res.Renamed),
		zap.Int("rename_failed", res.RenameFailed),
		zap.Int("remaining", len(recipes)))

	if err := c.integrityScan(ctx, recipes, &res); err != nil {
		return res, err
	}
	res.Kept = res.Scanned - res.DuplicatesRemoved - res.Deleted
	c.logger.Info("cleanup complete",
		zap.Int("verified", res.Verified),
		zap.Int("deleted", res.Deleted),
		zap.Int("kept", res.Kept))
	return res, nil
}

// dedupeBySource groups entries by canonical source URL and deletes all but
// the best-named entry of each group.
func (c *Cleaner) dedupeBySource(ctx context.Context, recipes []mealie.Recipe, res *Result) []mealie.Recipe {
	groups := make(map[string][]int)
	for i, r := range recipes {
		source := c.canon.Canonicalize(r.SourceURL())
		if source == "" {
			continue
		}
		groups[source] = append(groups[source], i)
	}

	remove := make(map[int]bool)
	for source, indices := range groups {
		if len(indices) < 2 {
			continue
		}
		res.DuplicateGroups++
		sort.Slice(indices, func(a, b int) bool {
			return keeperLess(recipes[indices[a]], recipes[indices[b]])
		})
		keeper := recipes[indices[0]]
		c.logger.Info("duplicate source detected",
			zap.String("source", source),
			zap.Int("copies", len(indices)),
			zap.String("keeping", keeper.Name))

		for _, idx := range indices[1:] {
			dup := recipes[idx]
			if dup.Slug == "" {
				continue
			}
			c.deleteRecipe(ctx, dup, "Duplicate source URL: "+source)
			remove[idx] = true
			res.DuplicatesRemoved++
		}
	}
	if len(remove) == 0 {
		return recipes
	}

	kept := recipes[:0]
	for i, r := range recipes {
		if !remove[i] {
			kept = append(kept, r)
		}
	}
	return kept
}

// keeperLess orders duplicate-group members so the entry to keep sorts
// first: no duplicate counter in the name, lowest counter, shortest base
// name, shortest slug.
func keeperLess(a, b mealie.Recipe) bool {
	aSuffix, bSuffix := btoi(urlutil.HasNameSuffix(a.Name)), btoi(urlutil.HasNameSuffix(b.Name))
	if aSuffix != bSuffix {
		return aSuffix < bSuffix
	}
	if av, bv := urlutil.NameSuffixValue(a.Name), urlutil.NameSuffixValue(b.Name); av != bv {
		return av < bv
	}
	if al, bl := len(urlutil.StripNameSuffix(a.Name)), len(urlutil.StripNameSuffix(b.Name)); al != bl {
		return al < bl
	}
	return len(a.Slug) < len(b.Slug)
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

// filterByName applies the name-level rules, deleting junk and renaming
// salvageable how-to entries. Returns the entries that survive.
func (c *Cleaner) filterByName(ctx context.Context, recipes []mealie.Recipe, res *Result) []mealie.Recipe {
	kept := recipes[:0]
	for _, r := range recipes {
		if r.Slug == "" {
			c.logger.Debug("skipping recipe with missing slug", zap.String("name", r.Name))
			continue
		}

		action, reason, newName := classify(r.Name, r.SourceURL(), r.Slug, c.opts.RenameSalvage)
		switch action {
		case ActionDelete:
			c.deleteRecipe(ctx, r, reason)
			res.Deleted++
			continue
		case ActionRename:
			if err := c.library.Rename(ctx, string(r.ID), r.Slug, newName); err != nil {
				c.logger.Warn("rename failed",
					zap.String("slug", r.Slug),
					zap.String("name", r.Name),
					zap.Error(err))
				res.RenameFailed++
			} else {
				c.logger.Info("renamed",
					zap.String("from", r.Name),
					zap.String("to", newName))
				res.Renamed++
			}
		}
		kept = append(kept, r)
	}
	return kept
}

// integrityScan fetches each remaining entry's full payload and deletes
// entries with placeholder instructions or a language policy violation.
// Entries verified on a previous run are skipped unless language cleanup is
// active.
func (c *Cleaner) integrityScan(ctx context.Context, recipes []mealie.Recipe, res *Result) error {
	c.logger.Info("deep integrity scan", zap.Int("recipes", len(recipes)))
	recheckVerified := c.languageCleanup()

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)

	for _, r := range recipes {
		if !recheckVerified && c.store.IsSlugVerified(r.Slug) {
			continue
		}
		r := r
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			payload, err := c.library.GetRecipeDetail(ctx, r.Slug)
			if err != nil {
				c.logger.Warn("detail fetch failed, skipping",
					zap.String("slug", r.Slug), zap.Error(err))
				return nil
			}

			reason := ""
			if !validInstructions(payload["recipeInstructions"]) {
				reason = "Empty/Broken Instructions"
			} else if recheckVerified {
				reason = languageIssue(payload, c.policy)
			}

			mu.Lock()
			defer mu.Unlock()
			if reason != "" {
				c.deleteRecipe(ctx, r, reason)
				res.Deleted++
				return nil
			}
			res.Verified++
			if !c.opts.DryRun {
				c.store.MarkSlugVerified(r.Slug)
			}
			return nil
		})
	}
	return g.Wait()
}

// deleteRecipe removes one entry from the library and records its source as
// rejected so the next crawl does not re-import it.
func (c *Cleaner) deleteRecipe(ctx context.Context, r mealie.Recipe, reason string) {
	c.logger.Info("deleting from library",
		zap.String("name", r.Name),
		zap.String("slug", r.Slug),
		zap.String("reason", reason))
	if err := c.library.Delete(ctx, string(r.ID), r.Slug); err != nil {
		c.logger.Warn("delete failed",
			zap.String("slug", r.Slug), zap.Error(err))
	}

	if c.opts.DryRun {
		return
	}
	if source := r.SourceURL(); source != "" {
		key := c.canon.Canonicalize(source)
		c.store.RemoveImported(key)
		c.store.MarkRejected(key, reason)
	}
	c.store.UnmarkSlugVerified(r.Slug)
}
