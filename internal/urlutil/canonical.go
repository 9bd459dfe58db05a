// Package urlutil normalizes URLs into the canonical keys used for
// deduplication across every record set.
package urlutil

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var trackingQueryKeys = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"igshid":  {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
	"ref_url": {},
	"s":       {},
	"spm":     {},
}

// SuffixRule strips a generated duplicate marker from the trailing path
// segment. Pattern must contain exactly one capture group holding the
// segment without the marker.
type SuffixRule struct {
	Name    string
	Pattern *regexp.Regexp
}

// DefaultSuffixRules covers the small numeric counters CMS plugins append to
// paginated duplicates ("/lemon-cake-2"). Counters above 19 are left alone so
// slugs that legitimately end in a number ("/recipe-42") survive intact.
var DefaultSuffixRules = []SuffixRule{
	{
		Name:    "numeric-duplicate-counter",
		Pattern: regexp.MustCompile(`^(.+)-(?:[2-9]|1[0-9])$`),
	},
}

// Canonicalizer normalizes URLs deterministically. The zero value is not
// usable; construct with New.
type Canonicalizer struct {
	suffixRules []SuffixRule
}

func New(rules []SuffixRule) *Canonicalizer {
	return &Canonicalizer{suffixRules: rules}
}

var defaultCanonicalizer = New(DefaultSuffixRules)

// Canonicalize normalizes with the default duplicate-suffix rule set.
func Canonicalize(raw string) string {
	return defaultCanonicalizer.Canonicalize(raw)
}

var multiSlashRe = regexp.MustCompile(`/+`)

// Canonicalize is total: malformed input yields a best-effort lowered string
// rather than an error. Dedup only needs determinism, not a perfect
// canonical form.
func (c *Canonicalizer) Canonicalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.ToLower(raw)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	path = multiSlashRe.ReplaceAllString(path, "/")
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	path = c.stripDuplicateSuffix(path)

	query := normalizeQuery(u.Query())

	out := scheme + "://" + host + path
	if query != "" {
		out += "?" + query
	}
	return out
}

func (c *Canonicalizer) stripDuplicateSuffix(path string) string {
	if path == "/" {
		return path
	}
	idx := strings.LastIndex(path, "/")
	prefix, segment := path[:idx+1], path[idx+1:]
	for _, rule := range c.suffixRules {
		if m := rule.Pattern.FindStringSubmatch(segment); m != nil {
			return prefix + m[1]
		}
	}
	return path
}

func normalizeQuery(values url.Values) string {
	type pair struct{ k, v string }
	var pairs []pair
	for key, vals := range values {
		lowered := strings.ToLower(key)
		if strings.HasPrefix(lowered, "utm_") {
			continue
		}
		if _, tracking := trackingQueryKeys[lowered]; tracking {
			continue
		}
		for _, v := range vals {
			pairs = append(pairs, pair{key, v})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	q := url.Values{}
	for _, p := range pairs {
		q.Add(p.k, p.v)
	}
	return q.Encode()
}

// Host extracts the normalized host (lowercase, www. stripped) from a URL,
// or "" when none is recoverable.
func Host(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return NormalizeHost(u.Host)
}

// NormalizeHost lower-cases a bare hostname and strips a www. prefix.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.TrimPrefix(host, "www.")
}

// HostAllowed reports whether host is one of allowed or a subdomain of one.
func HostAllowed(host string, allowed map[string]struct{}) bool {
	if _, ok := allowed[host]; ok {
		return true
	}
	for a := range allowed {
		if strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}
