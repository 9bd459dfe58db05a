package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mealie-tools/recipe-dredger/internal/align"
	"github.com/mealie-tools/recipe-dredger/internal/api"
	"github.com/mealie-tools/recipe-dredger/internal/cleaner"
	"github.com/mealie-tools/recipe-dredger/internal/config"
	"github.com/mealie-tools/recipe-dredger/internal/dredge"
	"github.com/mealie-tools/recipe-dredger/internal/fetch"
	"github.com/mealie-tools/recipe-dredger/internal/importer"
	"github.com/mealie-tools/recipe-dredger/internal/logging"
	"github.com/mealie-tools/recipe-dredger/internal/mealie"
	"github.com/mealie-tools/recipe-dredger/internal/monitoring"
	"github.com/mealie-tools/recipe-dredger/internal/ratelimit"
	"github.com/mealie-tools/recipe-dredger/internal/sitemap"
	"github.com/mealie-tools/recipe-dredger/internal/sites"
	"github.com/mealie-tools/recipe-dredger/internal/state"
	"github.com/mealie-tools/recipe-dredger/internal/urlutil"
	"github.com/mealie-tools/recipe-dredger/internal/verify"
)

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogJSON, cfg.LogFile)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	switch cmd {
	case "run":
		code = runCmd(ctx, cfg, logger, args)
	case "clean":
		code = cleanCmd(ctx, cfg, logger, args)
	case "align":
		code = alignCmd(ctx, cfg, logger, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want run, clean, or align)\n", cmd)
		code = 2
	}
	os.Exit(code)
}

// app bundles the wiring every subcommand shares.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *state.Store
	pg      *state.PostgresBackend
	limiter *ratelimit.Limiter
	canon   *urlutil.Canonicalizer
	client  *mealie.Client
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var backend state.Backend
	if cfg.PostgresURL != "" {
		pg, err := state.NewPostgresBackend(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		a.pg = pg
		backend = pg
	} else {
		fb, err := state.NewFileBackend(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		backend = fb
	}

	store, err := state.Open(ctx, backend, cfg.FlushThreshold, logger)
	if err != nil {
		return nil, err
	}
	a.store = store

	a.limiter = ratelimit.New(cfg.CrawlDelay, cfg.RespectRobots, fetch.NewClient(cfg.RequestTimeout))
	a.canon = urlutil.New(urlutil.DefaultSuffixRules)
	a.client = mealie.NewClient(mealie.Config{
		BaseURL: cfg.MealieURL,
		Token:   cfg.MealieAPIToken,
		Timeout: cfg.MealieImportTimeout,
		Enabled: cfg.MealieEnabled,
		DryRun:  cfg.DryRun,
	}, a.limiter, a.canon, logger)
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.store.Flush(ctx); err != nil {
		a.logger.Error("final state flush failed", zap.Error(err))
	}
	if a.pg != nil {
		a.pg.Close()
	}
}

func (a *app) languagePolicy() verify.LanguagePolicy {
	return verify.LanguagePolicy{
		Target:        a.cfg.TargetLanguage,
		FilterEnabled: a.cfg.LanguageFilterEnabled,
		Strict:        a.cfg.LanguageStrict,
		MinConfidence: a.cfg.LanguageMinConfidence,
	}
}

func runCmd(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	sitesPath := fs.String("sites", "", "path to JSON file with site URLs")
	limit := fs.Int("limit", cfg.TargetPerSite, "recipes to import per site")
	depth := fs.Int("depth", cfg.ScanDepth, "URLs to scan per site")
	noCache := fs.Bool("no-cache", false, "force a fresh crawl, ignoring the sitemap cache")
	dryRun := fs.Bool("dry-run", false, "scan without importing")
	fs.Parse(args)
	if *dryRun {
		cfg.DryRun = true
	}

	siteList := sites.Resolve(*sitesPath, cfg.SitesFile, logger)
	if len(siteList) == 0 {
		logger.Error("no sites to crawl; provide --sites, SITES, or sites.json")
		return 1
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}
	defer a.close()

	httpClient := fetch.NewClient(cfg.RequestTimeout)
	deps := make(map[string]api.Pinger)
	if a.pg != nil {
		deps["postgres"] = a.pg
	}

	var cache sitemap.Cache = a.store.SitemapCache()
	if cfg.RedisAddr != "" {
		redisCache := sitemap.NewRedisCache(cfg.RedisAddr, cfg.CacheExpiry(), logger)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, using local sitemap cache", zap.Error(err))
		} else {
			cache = redisCache
			deps["redis"] = redisCache
		}
	}

	source := sitemap.NewSource(httpClient, a.limiter, cache, cfg.CacheExpiry(), logger)
	verifier := verify.New(httpClient, a.limiter, a.canon, a.languagePolicy(), logger)
	policy := importer.NewRetryPolicy(cfg.MaxRetryAttempts, cfg.RetryBackoffBase)
	stage := importer.NewStage(a.client, a.store, policy, importer.Options{
		Workers:          cfg.ImportWorkers,
		Precheck:         cfg.ImportPrecheck,
		FailureThreshold: cfg.SiteFailureThreshold,
		RequeuePending:   cfg.BreakerRequeuePending,
	}, logger)

	registry := prometheus.NewRegistry()
	metrics := monitoring.New(registry)
	var server *api.Server
	if cfg.StatusAddr != "" {
		server = api.NewServer(cfg.StatusAddr, a.store, registry, deps, logger)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
		logger.Info("status server listening", zap.String("addr", cfg.StatusAddr))
	}

	aligner := align.New(a.client, a.store, align.Options{AssumeYes: true, DryRun: cfg.DryRun}, logger)
	if cfg.AlignOnRun {
		plan, err := aligner.BuildPlan(ctx, siteList, nil)
		if err != nil {
			logger.Warn("pre-run alignment skipped", zap.Error(err))
		} else if len(plan.Candidates) > 0 {
			if _, err := aligner.Apply(ctx, plan); err != nil {
				logger.Warn("pre-run alignment failed", zap.Error(err))
			}
		}
	}

	dredger := dredge.New(source, verifier, stage, a.store, policy, a.canon, dredge.Options{
		TargetPerSite: *limit,
		ScanDepth:     *depth,
		BypassCache:   *noCache,
	}, logger)
	dredger.SetMetrics(metrics)

	summary := dredger.Run(ctx, siteList)
	// A dry run must not advance the baseline: hosts it would have pruned
	// stay visible to the next live alignment.
	if !cfg.DryRun {
		aligner.SaveSnapshot(siteList)
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("status server shutdown failed", zap.Error(err))
		}
	}

	logger.Info("dredge finished",
		zap.Int("sites", summary.Sites),
		zap.Int("imported", summary.Imported),
		zap.Int("rejected", summary.Rejected),
		zap.Int("errors", summary.Errors))
	return 0
}

func cleanCmd(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) int {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	live := fs.Bool("live", false, "actually delete; default is a dry run")
	workers := fs.Int("workers", cfg.CleanerWorkers, "concurrent integrity checks")
	fs.Parse(args)
	if *live {
		cfg.DryRun = false
	} else {
		cfg.DryRun = true
	}

	if !cfg.MealieEnabled {
		logger.Warn("library integration disabled; cleaner has nothing to do")
		return 0
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}
	defer a.close()

	c := cleaner.New(a.client, a.store, a.canon, a.languagePolicy(), cleaner.Options{
		DryRun:                  cfg.DryRun,
		DedupeBySource:          cfg.CleanerDedupeBySource,
		RenameSalvage:           cfg.CleanerRenameSalvage,
		RemoveNonTargetLanguage: cfg.CleanerRemoveNonTarget,
		Workers:                 *workers,
		PerPage:                 cfg.CleanerPerPage,
	}, logger)

	if _, err := c.Run(ctx); err != nil {
		logger.Error("cleaner failed", zap.Error(err))
		return 1
	}
	return 0
}

func alignCmd(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) int {
	fs := flag.NewFlagSet("align", flag.ExitOnError)
	sitesPath := fs.String("sites", "", "path to JSON file with the current site URLs")
	baselinePath := fs.String("baseline", "", "baseline sites JSON; prunes only hosts removed since then")
	apply := fs.Bool("apply", false, "apply deletions; default is a dry-run preview")
	yes := fs.Bool("yes", false, "skip the interactive confirmation")
	backup := fs.Bool("backup", false, "trigger a library backup before applying")
	includeMissing := fs.Bool("include-missing-source", false, "also prune records with no source URL")
	pruneAll := fs.Bool("prune-all", false, "prune every host absent from the current list, ignoring the baseline")
	previewLimit := fs.Int("preview-limit", 50, "candidate lines to print before summarizing")
	fs.Parse(args)
	// -apply is the live switch, like clean -live; without it nothing may
	// touch the library or the local records.
	if *apply {
		cfg.DryRun = false
	} else {
		cfg.DryRun = true
	}

	siteList := sites.Resolve(*sitesPath, cfg.SitesFile, logger)
	if len(siteList) == 0 {
		logger.Error("no sites to align against; provide --sites, SITES, or sites.json")
		return 1
	}

	var baselineHosts []string
	if *baselinePath != "" {
		baselineSites, err := sites.FromFile(*baselinePath)
		if err != nil {
			logger.Error("failed to load baseline sites", zap.Error(err))
			return 1
		}
		baselineHosts = align.Hosts(baselineSites)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}
	defer a.close()

	aligner := align.New(a.client, a.store, align.Options{
		IncludeMissingSource: *includeMissing,
		PruneOutsideCurrent:  *pruneAll,
		Backup:               *backup,
		AssumeYes:            *yes,
		DryRun:               cfg.DryRun,
		PreviewLimit:         *previewLimit,
	}, logger)

	plan, err := aligner.BuildPlan(ctx, siteList, baselineHosts)
	if err != nil {
		logger.Error("failed to build alignment plan", zap.Error(err))
		return 1
	}
	if !*apply {
		aligner.Preview(plan)
		logger.Info("dry run complete; re-run with -apply to delete")
		return 0
	}

	report, err := aligner.Apply(ctx, plan)
	if err != nil {
		logger.Error("alignment apply failed", zap.Error(err))
		return 1
	}
	aligner.SaveSnapshot(siteList)
	if report.Failed > 0 {
		return 2
	}
	return 0
}
