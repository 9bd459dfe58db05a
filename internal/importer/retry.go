package importer

import (
	"time"

	"github.com/mealie-tools/recipe-dredger/internal/domain"
)

// RetryPolicy schedules re-attempts for transient failures. Attempt n waits
// base * 2^(n-1); entries whose attempt count would exceed the cap are
// finalized to rejection instead of re-queued.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration

	now func() time.Time
}

func NewRetryPolicy(maxAttempts int, backoffBase time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		BackoffBase: backoffBase,
		now:         time.Now,
	}
}

// Next advances an entry after another transient failure. ok is false when
// the attempt cap is exhausted and the entry must be finalized.
func (p *RetryPolicy) Next(entry domain.RetryEntry, lastError string) (next domain.RetryEntry, ok bool) {
	attempts := entry.Attempts + 1
	if attempts > p.MaxAttempts {
		return entry, false
	}
	return domain.RetryEntry{
		Attempts:      attempts,
		NextAttemptAt: p.now().Add(p.BackoffBase << (attempts - 1)),
		LastError:     lastError,
	}, true
}

// Due reports whether an entry's backoff delay has elapsed.
func (p *RetryPolicy) Due(entry domain.RetryEntry) bool {
	return !entry.NextAttemptAt.After(p.now())
}

// Exhausted reports whether an entry has already consumed every attempt.
func (p *RetryPolicy) Exhausted(entry domain.RetryEntry) bool {
	return entry.Attempts >= p.MaxAttempts
}
