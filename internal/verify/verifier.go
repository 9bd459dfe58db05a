// Package verify fetches candidate pages and classifies them as genuine
// recipes or not, based on embedded structured data and markup heuristics.
package verify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/mealie-tools/recipe-dredger/internal/domain"
	"github.com/mealie-tools/recipe-dredger/internal/fetch"
	"github.com/mealie-tools/recipe-dredger/internal/ratelimit"
	"github.com/mealie-tools/recipe-dredger/internal/urlutil"
)

// LanguagePolicy controls language-based rejection of otherwise genuine
// recipes. Strict additionally rejects pages whose language cannot be
// resolved at all.
type LanguagePolicy struct {
	Target        string
	FilterEnabled bool
	Strict        bool
	MinConfidence float64
}

// Verifier fetches and classifies candidate pages.
type Verifier struct {
	client  *http.Client
	limiter *ratelimit.Limiter
	canon   *urlutil.Canonicalizer
	rules   []Rule
	policy  LanguagePolicy
	logger  *zap.Logger
}

func New(client *http.Client, limiter *ratelimit.Limiter, canon *urlutil.Canonicalizer, policy LanguagePolicy, logger *zap.Logger) *Verifier {
	return &Verifier{
		client:  client,
		limiter: limiter,
		canon:   canon,
		rules:   DefaultRules(),
		policy:  policy,
		logger:  logger,
	}
}

// Rules exposes the classification rule set so batch operations over
// already-imported records apply the same policy.
func (v *Verifier) Rules() []Rule {
	return v.rules
}

// Verify fetches one candidate and classifies it. Classification failures are
// expressed in the result, never as an error; Transient marks fetch-level
// failures that belong in the retry queue.
func (v *Verifier) Verify(ctx context.Context, rawURL string) domain.VerificationResult {
	result := domain.VerificationResult{CanonicalURL: v.canon.Canonicalize(rawURL)}

	if reason := PreFilter(rawURL); reason != "" {
		result.Reason = reason
		return result
	}

	v.limiter.Wait(ctx, rawURL)

	req, err := fetch.NewRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		result.Reason = fmt.Sprintf("bad candidate URL: %v", err)
		return result
	}
	resp, err := v.client.Do(req)
	if err != nil {
		result.Reason = fmt.Sprintf("fetch failed: %v", err)
		result.Transient = true
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Reason = fmt.Sprintf("HTTP %d", resp.StatusCode)
		result.Transient = domain.IsTransientStatus(resp.StatusCode)
		return result
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		result.Reason = fmt.Sprintf("unparseable page: %v", err)
		return result
	}

	finalURL := resp.Request.URL.String()
	result.CanonicalURL = v.canonicalFromPage(doc, finalURL)

	hasRecipeType, strongPayload := recipeSchemaSignal(doc)
	if !strongPayload && !hasRecipeCard(doc) {
		if hasRecipeType {
			result.Reason = "Weak recipe schema"
		} else {
			result.Reason = "No recipe detected"
		}
		return result
	}

	lang, source, confidence := DetectLanguage(doc, v.policy.MinConfidence)
	result.Language = lang
	result.Confidence = confidence
	if v.policy.FilterEnabled && v.policy.Target != "" {
		if lang != "" && lang != v.policy.Target {
			result.Reason = "Language mismatch: " + lang
			return result
		}
		if v.policy.Strict && lang == "" {
			result.Reason = "Language unknown"
			return result
		}
	}
	v.logger.Debug("language resolved",
		zap.String("url", rawURL),
		zap.String("language", lang),
		zap.String("source", source))

	finding := Classify(v.rules, NewPage(finalURL, doc))
	switch finding.Verdict {
	case domain.VerdictSalvageable:
		result.Salvageable = true
		result.Reason = finding.Reason
		return result
	case domain.VerdictRejected:
		result.Reason = finding.Reason
		return result
	}

	result.IsRecipe = true
	return result
}

// canonicalFromPage prefers the page's own rel-canonical link over the URL it
// was fetched from.
func (v *Verifier) canonicalFromPage(doc *goquery.Document, fetchedURL string) string {
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok && href != "" {
		return v.canon.Canonicalize(href)
	}
	return v.canon.Canonicalize(fetchedURL)
}
