package verify

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/abadojack/whatlanggo"
)

// NormalizeLanguageCode reduces a declared language value ("en-US", "es_MX")
// to its primary subtag. Returns "" for empty or placeholder values.
func NormalizeLanguageCode(value string) string {
	cleaned := strings.ToLower(strings.TrimSpace(value))
	cleaned = strings.ReplaceAll(cleaned, "_", "-")
	if cleaned == "" || cleaned == "x-default" {
		return ""
	}
	primary := strings.SplitN(cleaned, "-", 2)[0]
	if len(primary) < 2 {
		return ""
	}
	return primary
}

// DetectLanguage resolves the language of a fetched page. A language the page
// declares about itself (html lang, content-language, og:locale, JSON-LD
// inLanguage) always wins over statistical detection; detection below the
// confidence floor yields "".
func DetectLanguage(doc *goquery.Document, minConfidence float64) (lang, source string, confidence float64) {
	if declared := declaredLanguage(doc); declared != "" {
		return declared, "declared", 1.0
	}

	detected, conf := detectFromText(pageText(doc), minConfidence)
	if detected != "" {
		return detected, "text", conf
	}
	return "", "unknown", conf
}

// DetectPayloadLanguage resolves the language of an already-imported recipe
// payload, used when re-checking library content without refetching the page.
func DetectPayloadLanguage(payload map[string]any, minConfidence float64) (lang, source string, confidence float64) {
	for _, key := range []string{"language", "recipeLanguage", "inLanguage", "orgLanguage", "originalLanguage"} {
		if value, ok := payload[key].(string); ok {
			if normalized := NormalizeLanguageCode(value); normalized != "" {
				return normalized, "field:" + key, 1.0
			}
		}
	}

	var parts []string
	appendText := func(v any) {
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		}
	}
	appendText(payload["name"])
	appendText(payload["description"])

	if ingredients, ok := payload["recipeIngredient"].([]any); ok {
		for _, ing := range ingredients {
			switch v := ing.(type) {
			case string:
				appendText(v)
			case map[string]any:
				appendText(v["title"])
				appendText(v["note"])
			}
		}
	}
	if instructions, ok := payload["recipeInstructions"].([]any); ok {
		for _, step := range instructions {
			switch v := step.(type) {
			case string:
				appendText(v)
			case map[string]any:
				appendText(v["text"])
				appendText(v["title"])
			}
		}
	}

	detected, conf := detectFromText(strings.Join(parts, " "), minConfidence)
	if detected != "" {
		return detected, "text", conf
	}
	return "", "unknown", conf
}

func detectFromText(text string, minConfidence float64) (string, float64) {
	text = strings.TrimSpace(text)
	if len(strings.Fields(text)) < 8 {
		return "", 0
	}

	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6391()
	if code == "" {
		code = info.Lang.Iso6393()
	}
	if code == "" || info.Confidence < minConfidence {
		return "", info.Confidence
	}
	return code, info.Confidence
}

// declaredLanguage checks the places a page can self-report its language, in
// decreasing order of trustworthiness.
func declaredLanguage(doc *goquery.Document) string {
	if lang, ok := doc.Find("html").First().Attr("lang"); ok {
		if normalized := NormalizeLanguageCode(lang); normalized != "" {
			return normalized
		}
	}

	for _, selector := range []string{
		`meta[http-equiv="content-language"]`,
		`meta[name="language"]`,
		`meta[property="og:locale"]`,
	} {
		if content, ok := doc.Find(selector).First().Attr("content"); ok {
			if normalized := NormalizeLanguageCode(content); normalized != "" {
				return normalized
			}
		}
	}

	return jsonLDDeclaredLanguage(doc)
}

func jsonLDDeclaredLanguage(doc *goquery.Document) string {
	found := ""
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var payload any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return true
		}
		found = findInLanguage(payload)
		return found == ""
	})
	return found
}

func findInLanguage(payload any) string {
	switch v := payload.(type) {
	case map[string]any:
		if raw, ok := v["inLanguage"]; ok {
			switch declared := raw.(type) {
			case string:
				if normalized := NormalizeLanguageCode(declared); normalized != "" {
					return normalized
				}
			case []any:
				for _, item := range declared {
					if s, ok := item.(string); ok {
						if normalized := NormalizeLanguageCode(s); normalized != "" {
							return normalized
						}
					}
				}
			}
		}
		for _, nested := range v {
			if found := findInLanguage(nested); found != "" {
				return found
			}
		}
	case []any:
		for _, nested := range v {
			if found := findInLanguage(nested); found != "" {
				return found
			}
		}
	}
	return ""
}

// pageText gathers the title, meta description, and leading headings and
// paragraphs into one sample for statistical detection.
func pageText(doc *goquery.Document) string {
	var parts []string
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		parts = append(parts, title)
	}
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		if desc = strings.TrimSpace(desc); desc != "" {
			parts = append(parts, desc)
		}
	}

	count := 0
	doc.Find("h1, h2, p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := strings.TrimSpace(s.Text()); text != "" {
			parts = append(parts, text)
			count++
		}
		return count < 25
	})

	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
