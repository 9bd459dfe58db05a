package cleaner

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/mealie-tools/recipe-dredger/internal/verify"
)

// Action is the cleaner's decision about one library entry.
type Action int

const (
	ActionKeep Action = iota
	ActionRename
	ActionDelete
)

// highRiskKeywords flag entries the crawl-time rules are too lenient to
// catch. These only ever appear in an already imported library, so the
// cleaner can afford a wider net than the verifier.
var highRiskKeywords = []string{
	"cleaning",
	"storing",
	"freezing",
	"pantry",
	"kitchen tools",
	"review",
	"giveaway",
	"shop",
	"store",
	"product",
	"gift",
	"unboxing",
	"news",
	"travel",
	"podcast",
	"interview",
	"night cream",
	"face mask",
	"skin care",
	"beauty",
	"diy",
	"weekly plan",
	"menu",
	"holiday guide",
	"foods to try",
	"things to eat",
	"we tried",
	"clear winner",
	"taste test",
	"detox water",
	"lose weight",
}

var utilityPageHints = []string{
	"privacy-policy",
	"contact",
	"about-us",
	"login",
	"cart",
}

var (
	sepRe        = regexp.MustCompile(`[-_]+`)
	spaceRe      = regexp.MustCompile(`\s+`)
	recipeForRe  = regexp.MustCompile(`(?i)^(recipe for)\s+`)
	howToLeadRe  = regexp.MustCompile(`(?i)^(how to)\s+`)
	cookMakeRe   = regexp.MustCompile(`(?i)^(cook|make)\s+`)
	trailRecipRe = regexp.MustCompile(`(?i)\b(recipe)$`)
)

// classify decides what to do with a library entry given only its name,
// source URL and slug. The returned newName is set only for ActionRename.
func classify(name, sourceURL, slug string, renameSalvage bool) (action Action, reason, newName string) {
	nameL := strings.ToLower(name)
	slugText := slugFallback(sourceURL, slug)
	normalizedSlug := strings.TrimSpace(sepRe.ReplaceAllString(slugText, " "))

	slugHowTo := verify.IsHowTo(normalizedSlug)
	nameHowTo := verify.IsHowTo(nameL)
	if slugHowTo || nameHowTo {
		if renameSalvage {
			if suggestion := suggestSalvageName(name, slugText); suggestion != "" {
				return ActionRename, "How-to naming cleanup", suggestion
			}
		}
		if slugHowTo && !nameHowTo {
			return ActionKeep, "How-to slug only with clean recipe title", ""
		}
		return ActionDelete, "How-to article", ""
	}

	if verify.IsDigest(normalizedSlug) || verify.IsDigest(nameL) {
		return ActionDelete, "Digest/non-recipe post", ""
	}

	for _, keyword := range highRiskKeywords {
		if strings.Contains(normalizedSlug, keyword) || strings.Contains(nameL, keyword) {
			return ActionDelete, "High-risk keyword: " + keyword, ""
		}
	}

	if verify.IsListicle(normalizedSlug) || verify.IsListicle(nameL) {
		return ActionDelete, "Listicle/roundup", ""
	}

	if sourceURL != "" {
		lowered := strings.ToLower(sourceURL)
		for _, hint := range utilityPageHints {
			if strings.Contains(lowered, hint) {
				return ActionDelete, "Utility/non-recipe page", ""
			}
		}
	}

	return ActionKeep, "", ""
}

// normalizeName turns a slug or mangled title into a presentable recipe name.
func normalizeName(candidate string) string {
	text := strings.TrimSpace(sepRe.ReplaceAllString(candidate, " "))
	text = spaceRe.ReplaceAllString(text, " ")
	text = recipeForRe.ReplaceAllString(text, "")
	text = howToLeadRe.ReplaceAllString(text, "")
	text = cookMakeRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(trailRecipRe.ReplaceAllString(text, ""))
	return titleCase(spaceRe.ReplaceAllString(text, " "))
}

// suggestSalvageName proposes a cleaned-up name, or "" when nothing better
// than the current one can be derived. The slug is only consulted when the
// title itself is explicitly a how-to.
func suggestSalvageName(name, slug string) string {
	original := strings.TrimSpace(name)
	if original == "" {
		return ""
	}

	fromName := normalizeName(original)
	if fromName != "" && !strings.EqualFold(fromName, original) {
		return fromName
	}

	if !verify.IsHowTo(strings.ToLower(original)) {
		return ""
	}
	if slug == "" {
		return ""
	}
	fromSlug := normalizeName(slug)
	if fromSlug != "" && !strings.EqualFold(fromSlug, original) {
		return fromSlug
	}
	return ""
}

// slugFallback prefers the stored slug and falls back to the last path
// segment of the source URL.
func slugFallback(sourceURL, slug string) string {
	if s := strings.ToLower(strings.TrimSpace(slug)); s != "" {
		return s
	}
	if sourceURL == "" {
		return ""
	}
	u, err := url.Parse(sourceURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	return strings.ToLower(segments[len(segments)-1])
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
