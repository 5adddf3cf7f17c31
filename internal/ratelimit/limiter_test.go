package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"leadintel_backend/platform/apperr"
	"leadintel_backend/platform/config"
	"leadintel_backend/platform/logger"
	"leadintel_backend/platform/metrics"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func assertWindowBehaviour(t *testing.T, l *Limiter, clock func() time.Time, advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()
	const limit = 5
	window := time.Minute

	for i := 0; i < limit; i++ {
		d, err := l.Admit(ctx, "client-a", ClassAPI, limit, window)
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be admitted", i+1)
		}
		if d.Remaining != limit-i-1 {
			t.Fatalf("request %d: expected remaining %d, got %d", i+1, limit-i-1, d.Remaining)
		}
	}

	d, err := l.Admit(ctx, "client-a", ClassAPI, limit, window)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if d.Allowed || d.Remaining != 0 {
		t.Fatalf("request %d should be denied, got %+v", limit+1, d)
	}
	if !d.ResetAt.After(clock()) {
		t.Fatalf("resetAt %v must be in the future of %v", d.ResetAt, clock())
	}

	// Another route class has its own budget.
	if d, _ := l.Admit(ctx, "client-a", ClassEnrichment, 1, window); !d.Allowed {
		t.Fatalf("enrichment budget must be independent of api budget")
	}

	advance(window + time.Second)

	d, err = l.Admit(ctx, "client-a", ClassAPI, limit, window)
	if err != nil {
		t.Fatalf("admit after window: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("request after window elapsed should be admitted")
	}
}

func TestLimiterMemoryStoreWindow(t *testing.T) {
	clock := newClock()
	l := New(NewMemoryStore(clock.Now), logger.Nop(), metrics.New(), WithClock(clock.Now))
	assertWindowBehaviour(t, l, clock.Now, clock.Advance)
}

func TestLimiterRedisStoreWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := newClock()
	l := New(NewRedisStore(client, clock.Now), logger.Nop(), metrics.New(), WithClock(clock.Now))
	assertWindowBehaviour(t, l, clock.Now, func(d time.Duration) {
		clock.Advance(d)
		mr.FastForward(d)
	})
}

func TestLimiterRejectsInvalidBudget(t *testing.T) {
	l := New(NewMemoryStore(nil), logger.Nop(), nil)
	if _, err := l.Admit(context.Background(), "x", ClassAPI, 0, time.Minute); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for zero limit, got %v", err)
	}
	if _, err := l.Admit(context.Background(), "x", ClassAPI, 1, 0); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for zero window, got %v", err)
	}
}

type brokenStore struct{}

func (brokenStore) Increment(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("connection refused")
}

func TestLimiterFailsOpenAndCounts(t *testing.T) {
	m := metrics.New()
	l := New(brokenStore{}, logger.Nop(), m)

	for i := 0; i < 3; i++ {
		d, err := l.Admit(context.Background(), "client", ClassGoals, 1, time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed || !d.FailOpen {
			t.Fatalf("expected fail-open admit, got %+v", d)
		}
	}
	if got := counterValue(t, m, "leadpipeline_ratelimit_fail_open_total"); got != 3 {
		t.Fatalf("expected 3 fail-open events, got %v", got)
	}
}

func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestLimiterFailsOpenWhenRedisErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.SetError("LOADING server is loading")

	l := New(NewRedisStore(client, nil), logger.Nop(), nil)
	d, err := l.Admit(context.Background(), "client", ClassAPI, 1, time.Minute)
	if err != nil || !d.Allowed || !d.FailOpen {
		t.Fatalf("expected fail-open admit, got %+v err=%v", d, err)
	}
}

func TestMiddlewareSetsHeadersAndDenies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	clock := newClock()
	l := New(NewMemoryStore(clock.Now), logger.Nop(), nil, WithClock(clock.Now))

	r := gin.New()
	r.GET("/x", l.Middleware(ClassEnrichment, Budgets{
		ClassAPI:        {Limit: 100, Window: time.Minute},
		ClassEnrichment: {Limit: 1, Window: time.Minute},
	}), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/x", nil))
	if first.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", first.Code)
	}
	if first.Header().Get("X-RateLimit-Limit") != "1" || first.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected headers: %v", first.Header())
	}

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/x", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestMiddlewareFallsBackToAPIBudget(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := New(NewMemoryStore(nil), logger.Nop(), nil)
	budgets := Budgets{ClassAPI: config.RateBudget{Limit: 2, Window: time.Minute}}

	r := gin.New()
	r.GET("/y", l.Middleware("unknown", budgets), func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/y", nil))
	if rec.Header().Get("X-RateLimit-Limit") != "2" {
		t.Fatalf("expected api budget fallback, got %q", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestMemoryStorePurgesExpiredWindows(t *testing.T) {
	clock := newClock()
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()
	_, _, _ = s.Increment(ctx, "old", time.Second)
	clock.Advance(2 * time.Second)
	for i := 0; i < sweepEvery; i++ {
		_, _, _ = s.Increment(ctx, "hot", time.Minute)
	}
	if s.Len() != 1 {
		t.Fatalf("expected expired window to be purged, have %d", s.Len())
	}
}
