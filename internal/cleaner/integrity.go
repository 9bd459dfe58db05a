package cleaner

import (
	"strings"

	"github.com/mealie-tools/recipe-dredger/internal/verify"
)

// instructionPlaceholders are the strings scrapers leave behind when a page
// had recipe markup but no extractable steps.
var instructionPlaceholders = []string{
	"could not detect instructions",
	"could not detect instruction",
	"instructions unavailable",
	"instruction unavailable",
	"no instructions",
}

// validInstructions walks the recipeInstructions value a library detail
// payload carries and reports whether any step holds real text.
func validInstructions(inst any) bool {
	switch v := inst.(type) {
	case string:
		return validInstructionText(v)
	case []any:
		for _, step := range v {
			if validInstructions(step) {
				return true
			}
		}
		return false
	case map[string]any:
		if text, ok := v["text"].(string); ok && validInstructionText(text) {
			return true
		}
		if nested, ok := v["itemListElement"]; ok {
			return validInstructions(nested)
		}
		return false
	default:
		return false
	}
}

func validInstructionText(text string) bool {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if normalized == "" {
		return false
	}
	for _, marker := range instructionPlaceholders {
		if strings.Contains(normalized, marker) {
			return false
		}
	}
	return true
}

// languageIssue reports why a detail payload fails the language policy, or
// "" when it passes. Only meaningful when language cleanup is active.
func languageIssue(payload map[string]any, policy verify.LanguagePolicy) string {
	lang, _, _ := verify.DetectPayloadLanguage(payload, policy.MinConfidence)
	if lang != "" && lang != policy.Target {
		return "Language mismatch: " + lang
	}
	if policy.Strict && lang == "" {
		return "Language unknown"
	}
	return ""
}
