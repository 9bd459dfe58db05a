package verify

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// recipeSchemaSignal scans a page's JSON-LD blocks for Recipe objects.
// hasRecipeType means some object declares @type Recipe; strongPayload means
// at least one such object also carries a non-empty ingredient or instruction
// list. A bare @type with no payload is a common false positive on index and
// roundup pages.
func recipeSchemaSignal(doc *goquery.Document) (hasRecipeType, strongPayload bool) {
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}
		var payload any
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return true
		}

		for _, item := range flattenJSONLD(payload) {
			obj, ok := item.(map[string]any)
			if !ok || !isRecipeType(obj["@type"]) {
				continue
			}
			hasRecipeType = true
			if hasIngredients(obj["recipeIngredient"]) || hasInstructions(obj["recipeInstructions"]) {
				strongPayload = true
				return false
			}
		}
		return true
	})
	return hasRecipeType, strongPayload
}

// flattenJSONLD expands top-level arrays and @graph containers into the
// individual objects they hold.
func flattenJSONLD(payload any) []any {
	switch v := payload.(type) {
	case map[string]any:
		if graph, ok := v["@graph"].([]any); ok {
			var items []any
			for _, entry := range graph {
				items = append(items, flattenJSONLD(entry)...)
			}
			return items
		}
		return []any{v}
	case []any:
		var items []any
		for _, entry := range v {
			items = append(items, flattenJSONLD(entry)...)
		}
		return items
	default:
		return nil
	}
}

func isRecipeType(value any) bool {
	switch v := value.(type) {
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "recipe")
	case []any:
		for _, item := range v {
			if isRecipeType(item) {
				return true
			}
		}
	}
	return false
}

func hasIngredients(value any) bool {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v) != ""
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				return true
			}
		}
	}
	return false
}

// hasInstructions accepts the shapes Recipe markup uses in the wild: a plain
// string, a list of strings, HowToStep objects with text, and HowToSection
// objects nesting steps under itemListElement.
func hasInstructions(value any) bool {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v) != ""
	case []any:
		for _, item := range v {
			if hasInstructions(item) {
				return true
			}
		}
	case map[string]any:
		if text, ok := v["text"].(string); ok && strings.TrimSpace(text) != "" {
			return true
		}
		return hasInstructions(v["itemListElement"])
	}
	return false
}
