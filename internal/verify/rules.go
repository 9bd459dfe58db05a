package verify

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mealie-tools/recipe-dredger/internal/domain"
)

var (
	listicleSlugRe  = regexp.MustCompile(`(?i)\b(top|best)\b.*\b(recipes|meals|dishes|ideas|desserts|appetizers|snacks|soups|salads|sides|cocktails|drinks)\b`)
	numberedRe      = regexp.MustCompile(`(?i)^\s*\d{1,3}\b.*\b(recipes|meals|dishes|ideas|desserts|appetizers|snacks|soups|salads|sides|cocktails|drinks)\b`)
	listicleTitleRe = regexp.MustCompile(`(?i)(\b(top|best)\b|\b\d{1,3}\b).*\b(recipes|meals|dishes|ideas|desserts|appetizers|snacks|soups|salads|sides|cocktails|drinks)\b`)
	howToRe         = regexp.MustCompile(`(?i)^how\s+to\s+(cook|make)\b`)
	digestRe        = regexp.MustCompile(`(?i)\b(meal\s+plan|menu\s+plan|what\s+i\s+ate|weekly\s+(menu|meals|dinner)|newsletter|gift\s+guide|friday\s+favorites)\b`)
	slugSepRe       = regexp.MustCompile(`[-_]+`)

	recipeCardRe = regexp.MustCompile(`(wp-recipe-maker|tasty-recipes|mv-create-card|recipe-card)`)
)

var badKeywords = []string{
	"roundup",
	"collection",
	"guide",
	"review",
	"giveaway",
	"shop",
	"store",
	"product",
}

var nonRecipeExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg", ".bmp", ".ico",
	".pdf", ".zip", ".mp4", ".webm", ".mov", ".avi", ".mkv",
}

var nonRecipePathHints = []string{
	"/wp-content/uploads/",
	"/wp-json/",
	"/category/",
	"/tag/",
	"/author/",
	"/feed/",
}

// Page is a fetched candidate parsed for classification. Slug and Title are
// pre-normalized so rules stay pure string predicates.
type Page struct {
	URL   string
	Doc   *goquery.Document
	Slug  string
	Title string
}

// NewPage derives the normalized slug and title a fetched document exposes to
// the classification rules.
func NewPage(rawURL string, doc *goquery.Document) *Page {
	return &Page{
		URL:   rawURL,
		Doc:   doc,
		Slug:  normalizedSlug(rawURL),
		Title: strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text())),
	}
}

func normalizedSlug(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	slug := strings.ToLower(segments[len(segments)-1])
	return slugSepRe.ReplaceAllString(slug, " ")
}

// Finding is the decision one rule makes about a page; the first rule that
// returns one wins.
type Finding struct {
	Verdict domain.Verdict
	Reason  string
}

// Rule is a named pure predicate over a parsed page.
type Rule struct {
	Name  string
	Check func(p *Page) *Finding
}

// PreFilter rejects candidates by URL shape alone, before any fetch.
// Returns the reject reason, or "" to proceed.
func PreFilter(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	path := strings.ToLower(u.Path)

	for _, ext := range nonRecipeExtensions {
		if strings.HasSuffix(path, ext) {
			return "Non-HTML media URL"
		}
	}
	for _, hint := range nonRecipePathHints {
		if strings.Contains(path, hint) {
			return "Non-recipe path"
		}
	}
	if path == "/blog" || path == "/blog/" {
		return "Blog index path"
	}
	return ""
}

// DefaultRules is the ordered post-fetch rule set applied to pages that
// carry recipe markup. How-to articles are salvageable: they usually wrap a
// single real recipe and can be renamed rather than discarded.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "how-to-slug", Check: func(p *Page) *Finding {
			if howToRe.MatchString(p.Slug) {
				return &Finding{Verdict: domain.VerdictSalvageable, Reason: "How-to article"}
			}
			return nil
		}},
		{Name: "digest-slug", Check: func(p *Page) *Finding {
			if digestRe.MatchString(p.Slug) {
				return &Finding{Verdict: domain.VerdictRejected, Reason: "Digest/non-recipe post"}
			}
			return nil
		}},
		{Name: "listicle-slug", Check: func(p *Page) *Finding {
			if listicleSlugRe.MatchString(p.Slug) || numberedRe.MatchString(p.Slug) {
				return &Finding{Verdict: domain.VerdictRejected, Reason: "Listicle detected: " + p.Slug}
			}
			return nil
		}},
		{Name: "bad-keyword", Check: func(p *Page) *Finding {
			for _, keyword := range badKeywords {
				if strings.Contains(p.Slug, keyword) {
					return &Finding{Verdict: domain.VerdictRejected, Reason: "Bad keyword: " + keyword}
				}
			}
			return nil
		}},
		{Name: "how-to-title", Check: func(p *Page) *Finding {
			if howToRe.MatchString(p.Title) {
				return &Finding{Verdict: domain.VerdictSalvageable, Reason: "How-to title"}
			}
			return nil
		}},
		{Name: "digest-title", Check: func(p *Page) *Finding {
			if digestRe.MatchString(p.Title) {
				return &Finding{Verdict: domain.VerdictRejected, Reason: "Digest/non-recipe title"}
			}
			return nil
		}},
		{Name: "listicle-title", Check: func(p *Page) *Finding {
			if listicleTitleRe.MatchString(p.Title) || numberedRe.MatchString(p.Title) ||
				strings.Contains(p.Title, "best recipes") || strings.Contains(p.Title, "top 10") {
				return &Finding{Verdict: domain.VerdictRejected, Reason: "Listicle title"}
			}
			return nil
		}},
	}
}

// Classify runs the rules in order; the page is genuine when none object.
func Classify(rules []Rule, p *Page) Finding {
	for _, rule := range rules {
		if finding := rule.Check(p); finding != nil {
			return *finding
		}
	}
	return Finding{Verdict: domain.VerdictGenuine}
}

// IsHowTo reports whether a normalized slug or title reads as a how-to
// article. Exposed for library maintenance passes that only have names.
func IsHowTo(s string) bool { return howToRe.MatchString(s) }

// IsDigest reports whether the text matches a digest or meal-plan post.
func IsDigest(s string) bool { return digestRe.MatchString(s) }

// IsListicle reports whether the text matches any of the listicle shapes.
func IsListicle(s string) bool {
	return listicleSlugRe.MatchString(s) || numberedRe.MatchString(s) || listicleTitleRe.MatchString(s)
}

// hasRecipeCard reports whether any element carries one of the recipe plugin
// class names used as a fallback when structured data is absent.
func hasRecipeCard(doc *goquery.Document) bool {
	found := false
	doc.Find("[class]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if class, ok := s.Attr("class"); ok && recipeCardRe.MatchString(class) {
			found = true
			return false
		}
		return true
	})
	return found
}
