package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRateLimitReturnsRetryAfter(t *testing.T) {
	limiter := NewMemoryLimiter(2, time.Minute)
	h := RateLimit(limiter, "bookings")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bookings", nil))
		if w.Code != http.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i+1, w.Code)
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bookings", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestMemoryLimiterWindowResets(t *testing.T) {
	limiter := NewMemoryLimiter(1, time.Minute)
	now := time.Now()
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _, _ := limiter.Allow(ctx, "k"); !ok {
		t.Fatal("first hit must pass")
	}
	if ok, wait, _ := limiter.Allow(ctx, "k"); ok || wait != time.Minute {
		t.Fatalf("second hit must wait a minute, got ok=%v wait=%s", ok, wait)
	}
	now = now.Add(time.Minute)
	if ok, _, _ := limiter.Allow(ctx, "k"); !ok {
		t.Fatal("new window must pass")
	}
}

func TestRedisLimiter(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := redis.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	limiter := NewRedisLimiter(client, "test:"+uuid.NewString()+":", 1, time.Minute)
	if ok, _, err := limiter.Allow(ctx, "user"); err != nil || !ok {
		t.Fatalf("first hit: ok=%v err=%v", ok, err)
	}
	ok, wait, err := limiter.Allow(ctx, "user")
	if err != nil || ok {
		t.Fatalf("second hit: ok=%v err=%v", ok, err)
	}
	if wait <= 0 || wait > time.Minute {
		t.Fatalf("unexpected wait %s", wait)
	}
}
