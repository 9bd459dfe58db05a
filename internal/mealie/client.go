// Package mealie is the HTTP client for the target recipe library.
package mealie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mealie-tools/recipe-dredger/internal/domain"
	"github.com/mealie-tools/recipe-dredger/internal/ratelimit"
	"github.com/mealie-tools/recipe-dredger/internal/urlutil"
)

// ErrDisabled is returned by mutating calls when the library integration is
// switched off.
var ErrDisabled = errors.New("mealie integration disabled")

// importEndpoints are tried in order; the first that answers is remembered
// for the rest of the run. Mealie moved this route between releases.
var importEndpoints = []string{
	"/api/recipes/create/url",
	"/api/recipes/create-url",
}

// Config carries the connection settings for one library instance.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Enabled bool
	DryRun  bool
}

// Client talks to one Mealie instance. Safe for concurrent use by import
// workers; the source index and sticky endpoint are mutex-guarded.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *ratelimit.Limiter
	canon   *urlutil.Canonicalizer
	logger  *zap.Logger

	mu            sync.Mutex
	importPath    string
	sources       map[string]struct{}
	sourcesLoaded bool
	sourcesFailed bool
}

func NewClient(cfg Config, limiter *ratelimit.Limiter, canon *urlutil.Canonicalizer, logger *zap.Logger) *Client {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		canon:   canon,
		logger:  logger,
		sources: make(map[string]struct{}),
	}
}

// flexID tolerates the string and integer id representations different
// Mealie versions emit.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexID(strconv.FormatInt(n, 10))
		return nil
	}
	return fmt.Errorf("unsupported id value %s", string(data))
}

// Recipe is the summary shape returned by the listing endpoint.
type Recipe struct {
	ID          flexID `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	OrgURL      string `json:"orgURL"`
	OriginalURL string `json:"originalURL"`
	Source      string `json:"source"`
}

// SourceURL returns the first populated source field.
func (r Recipe) SourceURL() string {
	for _, v := range []string{r.OrgURL, r.OriginalURL, r.Source} {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func (c *Client) request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// CreateFromURL asks the library to import one recipe by source URL. The
// returned error is nil for Success and Duplicate; for failures it carries
// the detail recorded in retry entries and reject records.
func (c *Client) CreateFromURL(ctx context.Context, url string) (domain.ImportOutcome, error) {
	if !c.cfg.Enabled {
		return domain.ImportPermanentReject, ErrDisabled
	}
	if c.cfg.DryRun {
		c.logger.Info("dry run: would import", zap.String("url", url))
		return domain.ImportSuccess, nil
	}

	c.limiter.Wait(ctx, c.cfg.BaseURL)

	var endpointErr error
	for _, path := range c.endpointOrder() {
		resp, err := c.request(ctx, http.MethodPost, path, map[string]string{"url": url})
		if err != nil {
			return domain.ImportTransientFailure, fmt.Errorf("library unreachable: %w", err)
		}
		body := readBody(resp)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			c.rememberEndpoint(path)
			c.AddKnownSource(url)
			return domain.ImportSuccess, nil
		case resp.StatusCode == http.StatusConflict:
			c.rememberEndpoint(path)
			c.AddKnownSource(url)
			return domain.ImportDuplicate, nil
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed:
			endpointErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			continue
		case domain.IsTransientStatus(resp.StatusCode):
			return domain.ImportTransientFailure, fmt.Errorf("HTTP %d", resp.StatusCode)
		default:
			if body != "" {
				return domain.ImportPermanentReject, fmt.Errorf("HTTP %d - %s", resp.StatusCode, body)
			}
			return domain.ImportPermanentReject, fmt.Errorf("HTTP %d", resp.StatusCode)
		}
	}

	if endpointErr == nil {
		endpointErr = errors.New("no compatible import endpoint found")
	}
	return domain.ImportPermanentReject, endpointErr
}

// endpointOrder puts the endpoint that last worked first.
func (c *Client) endpointOrder() []string {
	c.mu.Lock()
	sticky := c.importPath
	c.mu.Unlock()
	if sticky == "" {
		return importEndpoints
	}
	order := []string{sticky}
	for _, path := range importEndpoints {
		if path != sticky {
			order = append(order, path)
		}
	}
	return order
}

func (c *Client) rememberEndpoint(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.importPath != path {
		c.importPath = path
		c.logger.Info("using import endpoint", zap.String("path", path))
	}
}

// KnownSource reports whether the library already holds a recipe with the
// same canonical source URL. Returns false when the index could not be
// loaded, so the create call (and its 409 handling) decides.
func (c *Client) KnownSource(ctx context.Context, url string) bool {
	c.loadSourceIndex(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sourcesFailed {
		return false
	}
	canonical := c.canon.Canonicalize(url)
	_, ok := c.sources[canonical]
	return ok
}

// AddKnownSource records a source URL in the duplicate index.
func (c *Client) AddKnownSource(url string) {
	canonical := c.canon.Canonicalize(url)
	if canonical == "" {
		return
	}
	c.mu.Lock()
	c.sources[canonical] = struct{}{}
	c.mu.Unlock()
}

// loadSourceIndex pages through the library once and canonicalizes every
// recipe's source URL. One failed load disables the precheck for the run.
func (c *Client) loadSourceIndex(ctx context.Context) {
	c.mu.Lock()
	if c.sourcesLoaded || c.sourcesFailed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	recipes, err := c.ListRecipes(ctx, 1000)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.logger.Warn("duplicate precheck disabled", zap.Error(err))
		c.sourcesFailed = true
		return
	}
	for _, recipe := range recipes {
		if canonical := c.canon.Canonicalize(recipe.SourceURL()); canonical != "" {
			c.sources[canonical] = struct{}{}
		}
	}
	c.sourcesLoaded = true
	c.logger.Info("duplicate precheck source index loaded", zap.Int("entries", len(c.sources)))
}

// ListRecipes pages through the library's full recipe listing.
func (c *Client) ListRecipes(ctx context.Context, perPage int) ([]Recipe, error) {
	if !c.cfg.Enabled {
		return nil, nil
	}

	var all []Recipe
	for page := 1; ; page++ {
		resp, err := c.request(ctx, http.MethodGet, fmt.Sprintf("/api/recipes?page=%d&perPage=%d", page, perPage), nil)
		if err != nil {
			return nil, fmt.Errorf("listing recipes: %w", err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			return nil, errors.New("401 unauthorized: MEALIE_API_TOKEN must be an API token, not a password")
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("recipe listing HTTP %d", resp.StatusCode)
		}

		var payload struct {
			Items []Recipe `json:"items"`
		}
		err = json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding recipe listing: %w", err)
		}
		if len(payload.Items) == 0 {
			return all, nil
		}
		all = append(all, payload.Items...)
	}
}

// GetRecipeDetail fetches one recipe's full payload for integrity checks.
// A recipe the library no longer knows yields (nil, nil), not an error.
func (c *Client) GetRecipeDetail(ctx context.Context, slug string) (map[string]any, error) {
	resp, err := c.request(ctx, http.MethodGet, "/api/recipes/"+slug, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed {
		resp.Body.Close()
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body := readBody(resp)
		if isNoResult(resp.StatusCode, body) {
			return nil, nil
		}
		return nil, fmt.Errorf("recipe detail HTTP %d", resp.StatusCode)
	}
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Delete removes a recipe, trying its id first and falling back to the slug
// for versions that only route one of them.
func (c *Client) Delete(ctx context.Context, id, slug string) error {
	if !c.cfg.Enabled {
		return ErrDisabled
	}
	if c.cfg.DryRun {
		c.logger.Info("dry run: would delete", zap.String("slug", slug))
		return nil
	}

	var lastErr error
	for _, identifier := range identifiers(id, slug) {
		resp, err := c.request(ctx, http.MethodDelete, "/api/recipes/"+identifier, nil)
		if err != nil {
			return err
		}
		body := readBody(resp)

		if resp.StatusCode == http.StatusOK {
			return nil
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed || isNoResult(resp.StatusCode, body) {
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			continue
		}
		return fmt.Errorf("delete HTTP %d %s", resp.StatusCode, body)
	}
	if lastErr == nil {
		lastErr = errors.New("missing id and slug")
	}
	return fmt.Errorf("recipe not found by id or slug: %w", lastErr)
}

// Rename updates a recipe's name, preferring PATCH and falling back to PUT.
func (c *Client) Rename(ctx context.Context, id, slug, newName string) error {
	if !c.cfg.Enabled {
		return ErrDisabled
	}
	if newName == "" {
		return nil
	}
	if c.cfg.DryRun {
		c.logger.Info("dry run: would rename", zap.String("slug", slug), zap.String("name", newName))
		return nil
	}

	payload := map[string]string{"name": newName}
	var lastErr error
	for _, identifier := range identifiers(id, slug) {
		for _, method := range []string{http.MethodPatch, http.MethodPut} {
			resp, err := c.request(ctx, method, "/api/recipes/"+identifier, payload)
			if err != nil {
				lastErr = err
				continue
			}
			body := readBody(resp)

			if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
				return nil
			}
			if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed || isNoResult(resp.StatusCode, body) {
				continue
			}
			lastErr = fmt.Errorf("HTTP %d %s", resp.StatusCode, body)
		}
	}
	if lastErr == nil {
		lastErr = errors.New("recipe not found")
	}
	return fmt.Errorf("rename failed: %w", lastErr)
}

// Backup asks the library to snapshot itself before destructive operations.
func (c *Client) Backup(ctx context.Context) error {
	if !c.cfg.Enabled {
		return ErrDisabled
	}
	if c.cfg.DryRun {
		c.logger.Info("dry run: would trigger backup")
		return nil
	}

	resp, err := c.request(ctx, http.MethodPost, "/api/admin/backups", nil)
	if err != nil {
		return fmt.Errorf("backup request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backup HTTP %d", resp.StatusCode)
	}
	return nil
}

func identifiers(id, slug string) []string {
	var out []string
	for _, v := range []string{id, slug} {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		duplicate := false
		for _, seen := range out {
			if seen == v {
				duplicate = true
			}
		}
		if !duplicate {
			out = append(out, v)
		}
	}
	return out
}

// isNoResult matches Mealie error bodies where a 500 really means "no such
// recipe".
func isNoResult(status int, body string) bool {
	if status != http.StatusNotFound && status != http.StatusInternalServerError {
		return false
	}
	lowered := strings.ToLower(body)
	return strings.Contains(lowered, "noresultfound") || strings.Contains(lowered, "no result found")
}

func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return ""
	}
	body := strings.Join(strings.Fields(string(raw)), " ")
	if len(body) > 180 {
		body = body[:177] + "..."
	}
	return body
}
