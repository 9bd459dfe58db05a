// Package align prunes imported records whose source host was removed from
// the active site list. The prune scope is always the baseline-to-current
// diff; hosts that were never in the baseline are untouched.
package align

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mealie-tools/recipe-dredger/internal/mealie"
	"github.com/mealie-tools/recipe-dredger/internal/state"
	"github.com/mealie-tools/recipe-dredger/internal/urlutil"
)

// Library is the slice of the library client alignment needs.
type Library interface {
	ListRecipes(ctx context.Context, perPage int) ([]mealie.Recipe, error)
	Delete(ctx context.Context, id, slug string) error
	Backup(ctx context.Context) error
}

// Options tune one alignment pass.
type Options struct {
	// IncludeMissingSource also prunes records with no recoverable host.
	IncludeMissingSource bool
	// PruneOutsideCurrent widens the scope to every host absent from the
	// current site list, ignoring the baseline diff. Destructive; off by
	// default.
	PruneOutsideCurrent bool
	// Backup triggers a library backup before applying; a failed backup
	// aborts the apply.
	Backup bool
	// DryRun keeps local import records intact during Apply. The library
	// client carries its own dry-run switch for the API side; this one
	// covers the state store, mirroring the cleaner.
	DryRun bool
	// AssumeYes skips the interactive confirmation.
	AssumeYes bool
	// PreviewLimit caps how many candidates are logged before summarizing.
	PreviewLimit int
}

// Candidate is one record the plan would remove.
type Candidate struct {
	CanonicalURL string
	Host         string
	Name         string
	ID           string
	Slug         string
	// InLibrary is false when the listing no longer carries the record's
	// source; only the local record is removed then.
	InLibrary bool
}

// Plan is the preview of an alignment pass.
type Plan struct {
	RemovedHosts  []string
	Candidates    []Candidate
	TotalRecords  int
	MissingSource int
}

// Report summarizes an applied plan.
type Report struct {
	Deleted        int
	Failed         int
	RecordsRemoved int
}

type Aligner struct {
	library Library
	store   *state.Store
	opts    Options
	logger  *zap.Logger

	// confirm input, swappable in tests.
	stdin io.Reader
}

func New(library Library, store *state.Store, opts Options, logger *zap.Logger) *Aligner {
	if opts.PreviewLimit <= 0 {
		opts.PreviewLimit = 50
	}
	return &Aligner{
		library: library,
		store:   store,
		opts:    opts,
		logger:  logger,
		stdin:   os.Stdin,
	}
}

// Hosts extracts the set of normalized hosts from a list of site URLs.
func Hosts(sites []string) []string {
	seen := make(map[string]struct{})
	var hosts []string
	for _, site := range sites {
		host := urlutil.Host(site)
		if host == "" {
			continue
		}
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

// BuildPlan diffs the baseline host set against the current one and collects
// the imported records to prune. A nil baseline falls back to the rolling
// host snapshot from previous runs; with no snapshot either, the diff is
// empty and nothing outside it is touched.
func (a *Aligner) BuildPlan(ctx context.Context, currentSites, baselineHosts []string) (Plan, error) {
	var plan Plan

	current := hostSet(Hosts(currentSites))
	if len(current) == 0 {
		return plan, fmt.Errorf("no valid hosts in the active site list")
	}
	if baselineHosts == nil {
		baselineHosts = a.store.HostSnapshot()
	}

	removed := make(map[string]struct{})
	for _, host := range baselineHosts {
		host = urlutil.NormalizeHost(host)
		if host != "" && !urlutil.HostAllowed(host, current) {
			removed[host] = struct{}{}
		}
	}
	for host := range removed {
		plan.RemovedHosts = append(plan.RemovedHosts, host)
	}
	sort.Strings(plan.RemovedHosts)

	shouldPrune := func(host string) bool {
		if a.opts.PruneOutsideCurrent {
			return !urlutil.HostAllowed(host, current)
		}
		return urlutil.HostAllowed(host, removed)
	}

	records := a.store.ImportedSnapshot()
	plan.TotalRecords = len(records)

	var keys []string
	for key, rec := range records {
		host := rec.SourceHost
		if host == "" {
			plan.MissingSource++
			if !a.opts.IncludeMissingSource {
				continue
			}
		} else if !shouldPrune(host) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return plan, nil
	}

	index, err := a.libraryIndex(ctx)
	if err != nil {
		return plan, err
	}
	for _, key := range keys {
		rec := records[key]
		candidate := Candidate{
			CanonicalURL: key,
			Host:         rec.SourceHost,
			ID:           rec.LibraryID,
		}
		if entry, ok := index[key]; ok {
			candidate.Name = entry.Name
			candidate.ID = string(entry.ID)
			candidate.Slug = entry.Slug
			candidate.InLibrary = true
		}
		plan.Candidates = append(plan.Candidates, candidate)
	}
	return plan, nil
}

// libraryIndex maps canonical source URLs to listing entries.
func (a *Aligner) libraryIndex(ctx context.Context) (map[string]mealie.Recipe, error) {
	recipes, err := a.library.ListRecipes(ctx, 1000)
	if err != nil {
		return nil, fmt.Errorf("listing library: %w", err)
	}
	index := make(map[string]mealie.Recipe, len(recipes))
	for _, r := range recipes {
		if source := r.SourceURL(); source != "" {
			index[urlutil.Canonicalize(source)] = r
		}
	}
	return index, nil
}

// Preview logs the plan the way an operator reviews it.
func (a *Aligner) Preview(plan Plan) {
	a.logger.Info("alignment plan",
		zap.Int("records", plan.TotalRecords),
		zap.Int("missing_source", plan.MissingSource),
		zap.Strings("removed_hosts", plan.RemovedHosts),
		zap.Int("to_prune", len(plan.Candidates)))

	limit := a.opts.PreviewLimit
	for i, c := range plan.Candidates {
		if i >= limit {
			a.logger.Info(fmt.Sprintf("... and %d more", len(plan.Candidates)-limit))
			break
		}
		name := c.Name
		if name == "" {
			name = "(not in library)"
		}
		a.logger.Info("would prune",
			zap.String("name", name),
			zap.String("host", c.Host),
			zap.String("url", c.CanonicalURL))
	}
}

// Apply deletes the planned candidates from the library and drops their
// import records. It asks for confirmation first unless AssumeYes is set,
// and aborts when the optional pre-apply backup fails. Under DryRun the
// local records survive so a later live pass still sees them.
func (a *Aligner) Apply(ctx context.Context, plan Plan) (Report, error) {
	var report Report
	if len(plan.Candidates) == 0 {
		a.logger.Info("nothing to prune")
		return report, nil
	}

	a.Preview(plan)
	if !a.opts.AssumeYes {
		ok, err := a.confirm(len(plan.Candidates))
		if err != nil {
			return report, err
		}
		if !ok {
			a.logger.Info("aborted by operator")
			return report, nil
		}
	}

	if a.opts.Backup {
		if err := a.library.Backup(ctx); err != nil {
			return report, fmt.Errorf("pre-apply backup failed, aborting: %w", err)
		}
		a.logger.Info("library backup triggered")
	}

	for _, c := range plan.Candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if c.InLibrary {
			if err := a.library.Delete(ctx, c.ID, c.Slug); err != nil {
				report.Failed++
				a.logger.Warn("delete failed",
					zap.String("name", c.Name),
					zap.String("url", c.CanonicalURL),
					zap.Error(err))
				continue
			}
			report.Deleted++
		}
		if a.opts.DryRun {
			continue
		}
		a.store.RemoveImported(c.CanonicalURL)
		report.RecordsRemoved++
	}

	a.logger.Info("alignment applied",
		zap.Int("deleted", report.Deleted),
		zap.Int("failed", report.Failed),
		zap.Int("records_removed", report.RecordsRemoved),
		zap.Bool("dry_run", a.opts.DryRun))
	return report, nil
}

// SaveSnapshot records the current hosts as the implicit baseline for the
// next run.
func (a *Aligner) SaveSnapshot(currentSites []string) {
	a.store.SaveHostSnapshot(Hosts(currentSites))
}

func (a *Aligner) confirm(count int) (bool, error) {
	fmt.Fprintf(os.Stderr, "Prune %d recipes? [y/N]: ", count)
	reader := bufio.NewReader(a.stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func hostSet(hosts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		set[h] = struct{}{}
	}
	return set
}
