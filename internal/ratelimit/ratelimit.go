// Package ratelimit enforces per-domain request spacing for crawl courtesy.
package ratelimit

import (
	"bufio"
	"context"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mealie-tools/recipe-dredger/internal/fetch"
)

// Limiter spaces requests per domain. Source-site domains and the target
// library domain are separate buckets, so parallel import workers and the
// sequential crawl path can share one Limiter.
type Limiter struct {
	defaultDelay  time.Duration
	respectRobots bool
	client        *http.Client

	mu    sync.Mutex
	next  map[string]time.Time
	delay map[string]time.Duration
	rng   *rand.Rand

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func New(defaultDelay time.Duration, respectRobots bool, client *http.Client) *Limiter {
	if client == nil {
		client = fetch.NewClient(5 * time.Second)
	}
	return &Limiter{
		defaultDelay:  defaultDelay,
		respectRobots: respectRobots,
		client:        client,
		next:          make(map[string]time.Time),
		delay:         make(map[string]time.Duration),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		now:           time.Now,
		sleep:         sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Wait blocks until the per-domain delay since the previous request has
// elapsed, applying a jitter factor drawn uniformly from [0.5, 1.5) per
// call. It never fails; an unknown domain means zero wait. Safe for
// concurrent use.
func (l *Limiter) Wait(ctx context.Context, rawURL string) {
	domain := domainOf(rawURL)
	if domain == "" {
		return
	}

	delay := l.crawlDelay(ctx, domain)

	l.mu.Lock()
	now := l.now()
	jitter := 0.5 + l.rng.Float64()
	spacing := time.Duration(float64(delay) * jitter)

	// Reserve a slot so concurrent waiters on the same domain stay spaced
	// instead of all sleeping until the same instant.
	target := l.next[domain].Add(spacing)
	if target.Before(now) {
		target = now
	}
	l.next[domain] = target
	l.mu.Unlock()

	l.sleep(ctx, target.Sub(now))
}

// crawlDelay resolves the effective delay for a domain: the larger of the
// configured default and the robots.txt crawl-delay, cached per domain.
func (l *Limiter) crawlDelay(ctx context.Context, domain string) time.Duration {
	l.mu.Lock()
	if d, ok := l.delay[domain]; ok {
		l.mu.Unlock()
		return d
	}
	l.mu.Unlock()

	delay := l.defaultDelay
	if l.respectRobots {
		if d, ok := l.fetchRobotsDelay(ctx, domain); ok && d > delay {
			delay = d
		}
	}

	l.mu.Lock()
	l.delay[domain] = delay
	l.mu.Unlock()
	return delay
}

func (l *Limiter) fetchRobotsDelay(ctx context.Context, domain string) (time.Duration, bool) {
	return l.fetchRobotsDelayFromURL(ctx, "https://"+domain+"/robots.txt")
}

func (l *Limiter) fetchRobotsDelayFromURL(ctx context.Context, robotsURL string) (time.Duration, bool) {
	req, err := fetch.NewRequest(ctx, http.MethodGet, robotsURL)
	if err != nil {
		return 0, false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, false
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(strings.ToLower(line), "crawl-delay:") {
			continue
		}
		value := strings.TrimSpace(line[len("crawl-delay:"):])
		seconds, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		return time.Duration(seconds * float64(time.Second)), true
	}
	return 0, false
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
