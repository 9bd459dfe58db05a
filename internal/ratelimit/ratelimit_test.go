package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeClock drives the limiter without real sleeping: sleeps advance the
// clock instead.
type fakeClock struct {
	mu  sync.Mutex
	t   time.Time
	slp []time.Duration
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.t = c.t.Add(d)
	}
	c.slp = append(c.slp, d)
}

func newTestLimiter(delay time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := New(delay, false, nil)
	l.now = clock.now
	l.sleep = clock.sleep
	return l, clock
}

func TestFirstRequestDoesNotWait(t *testing.T) {
	l, clock := newTestLimiter(2 * time.Second)
	l.Wait(context.Background(), "https://example.com/a")
	if len(clock.slp) != 1 || clock.slp[0] > 0 {
		t.Fatalf("first request should not sleep, got %v", clock.slp)
	}
}

func TestSecondRequestWaitsWithinJitterBounds(t *testing.T) {
	l, clock := newTestLimiter(2 * time.Second)
	ctx := context.Background()
	l.Wait(ctx, "https://example.com/a")
	l.Wait(ctx, "https://example.com/b")

	slept := clock.slp[1]
	if slept < time.Second || slept >= 3*time.Second {
		t.Fatalf("second wait %v outside jittered [1s, 3s) window", slept)
	}
}

func TestDomainsAreIndependentBuckets(t *testing.T) {
	l, clock := newTestLimiter(2 * time.Second)
	ctx := context.Background()
	l.Wait(ctx, "https://source-site.com/a")
	l.Wait(ctx, "https://library.local/api")
	if clock.slp[1] > 0 {
		t.Fatalf("different domain should not wait, slept %v", clock.slp[1])
	}
}

func TestConcurrentWaitersStaySpaced(t *testing.T) {
	l, clock := newTestLimiter(time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Wait(ctx, "https://library.local/api/recipes")
		}()
	}
	wg.Wait()

	l.mu.Lock()
	next := l.next["library.local"]
	l.mu.Unlock()
	// Five waiters, four jittered gaps of at least 0.5s each.
	if next.Sub(time.Unix(1000, 0)) < 2*time.Second {
		t.Fatalf("reservations not spaced, next slot only %v out", next.Sub(time.Unix(1000, 0)))
	}
	_ = clock
}

func TestRobotsCrawlDelayWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nCrawl-delay: 9\n"))
	}))
	defer srv.Close()

	l, _ := newTestLimiter(2 * time.Second)
	l.respectRobots = true
	l.client = srv.Client()

	// Point robots fetches at the test server by resolving its delay directly.
	d, ok := l.fetchRobotsDelayFromURL(context.Background(), srv.URL+"/robots.txt")
	if !ok || d != 9*time.Second {
		t.Fatalf("robots delay = %v ok=%v, want 9s", d, ok)
	}
}

func TestMalformedURLNeverBlocks(t *testing.T) {
	l, clock := newTestLimiter(time.Second)
	l.Wait(context.Background(), "://not-a-url")
	if len(clock.slp) != 0 {
		t.Fatalf("malformed URL should be a no-op, slept %v", clock.slp)
	}
}
