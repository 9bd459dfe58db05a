package domain

import "time"

// Candidate is a page URL discovered from a sitemap, plus optional hints
// carried along from the discovery source.
type Candidate struct {
	URL     string
	LastMod time.Time
}

// Verdict is the tagged result of running the classification rules over a
// fetched page.
type Verdict int

const (
	VerdictGenuine Verdict = iota
	VerdictSalvageable
	VerdictRejected
)

func (v Verdict) String() string {
	switch v {
	case VerdictGenuine:
		return "genuine"
	case VerdictSalvageable:
		return "salvageable"
	case VerdictRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// VerificationResult is produced once per unverified candidate and consumed
// immediately; it is never persisted.
type VerificationResult struct {
	IsRecipe     bool
	CanonicalURL string
	Language     string
	Confidence   float64
	Salvageable  bool
	Reason       string
	// Transient marks fetch-level failures (timeout, 5xx, 429) that should
	// enter the retry queue rather than the reject set.
	Transient bool
}

// ImportRecord marks a canonical URL as present in the target library.
type ImportRecord struct {
	CanonicalURL string    `json:"canonical_url"`
	SourceHost   string    `json:"source_host"`
	ImportedAt   time.Time `json:"imported_at"`
	LibraryID    string    `json:"library_id,omitempty"`
}

// RejectRecord marks a canonical URL as permanently declined.
type RejectRecord struct {
	CanonicalURL string    `json:"canonical_url"`
	Reason       string    `json:"reason"`
	RejectedAt   time.Time `json:"rejected_at"`
}

// RetryEntry tracks a transiently failed canonical URL pending re-attempt.
type RetryEntry struct {
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error"`
}

// SiteStats accumulates per-site outcome counts, overwritten once per run.
type SiteStats struct {
	SiteURL  string    `json:"site_url"`
	Found    int       `json:"recipes_found"`
	Imported int       `json:"recipes_imported"`
	Rejected int       `json:"recipes_rejected"`
	Errors   int       `json:"errors"`
	LastRun  time.Time `json:"last_run"`
}

// SitemapCacheEntry is a cached sitemap scan result. Entries older than the
// configured expiry are treated as absent.
type SitemapCacheEntry struct {
	SitemapURL string    `json:"sitemap_url"`
	URLs       []string  `json:"urls"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// ImportOutcome classifies one library import attempt.
type ImportOutcome int

const (
	ImportSuccess ImportOutcome = iota
	ImportDuplicate
	ImportPermanentReject
	ImportTransientFailure
	// ImportSkipped is used for candidates abandoned after a circuit
	// breaker trip; no state is mutated for them.
	ImportSkipped
)

func (o ImportOutcome) String() string {
	switch o {
	case ImportSuccess:
		return "success"
	case ImportDuplicate:
		return "duplicate"
	case ImportPermanentReject:
		return "permanent_reject"
	case ImportTransientFailure:
		return "transient_failure"
	case ImportSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

var transientHTTPCodes = map[int]struct{}{
	408: {}, 425: {}, 429: {}, 500: {}, 502: {}, 503: {}, 504: {},
	520: {}, 521: {}, 522: {}, 523: {}, 524: {},
}

// IsTransientStatus reports whether an HTTP status code represents a
// recoverable backend condition worth retrying.
func IsTransientStatus(code int) bool {
	_, ok := transientHTTPCodes[code]
	return ok
}
