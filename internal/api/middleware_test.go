package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/aftercare/internal/redis"
)

// fakeLimiter allows the first limit calls per key
type fakeLimiter struct {
	limit int
	seen  map[string]int
	err   error
}

func (f *fakeLimiter) Allow(ctx context.Context, key string) (*redis.RateLimitResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.seen[key]++
	n := f.seen[key]
	res := &redis.RateLimitResult{Limit: f.limit, ResetAt: time.Now().Add(time.Minute)}
	if n > f.limit {
		return res, nil
	}
	res.Allowed = true
	res.Remaining = f.limit - n
	return res, nil
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		expected   string
	}{
		{"X-Forwarded-For", "1.2.3.4", "", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"X-Real-IP", "", "1.2.3.4", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"RemoteAddr fallback", "", "", "5.6.7.8:1234", "ip:5.6.7.8:1234"},
		{"Forwarded takes precedence", "1.1.1.1", "2.2.2.2", "3.3.3.3:1234", "ip:1.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			req.RemoteAddr = tt.remoteAddr

			result := IPKeyFunc(req)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestRateLimitMiddleware_NoLimiter(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	wrapped := RateLimitMiddleware(nil, nil, IPKeyFunc)(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_LimiterErrorFailsOpen(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	limiter := &fakeLimiter{err: errors.New("redis: connection refused")}

	wrapped := RateLimitMiddleware(limiter, zap.NewNop(), IPKeyFunc)(handler)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestFeedbackIsRateLimitedPerIP(t *testing.T) {
	repo := NewMockRepository()
	repo.tokens["tok-1"] = false
	limiter := &fakeLimiter{limit: 2, seen: map[string]int{}}
	router := newTestRouter(repo, limiter)

	post := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/feedback/tok-1", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := post("10.0.0.1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := post("10.0.0.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("expected X-RateLimit-Limit 2, got %q", rec.Header().Get("X-RateLimit-Limit"))
	}
	if errResp := decodeProblem(t, rec); errResp.Type != "rate_limit_exceeded" {
		t.Errorf("expected rate_limit_exceeded, got %q", errResp.Type)
	}

	if rec := post("10.0.0.2"); rec.Code != http.StatusOK {
		t.Errorf("other client should not be limited, got %d", rec.Code)
	}
}

func TestReadEndpointsAreNotRateLimited(t *testing.T) {
	limiter := &fakeLimiter{limit: 1, seen: map[string]int{}}
	router := newTestRouter(NewMockRepository(), limiter)

	for i := 0; i < 3; i++ {
		if rec := serve(t, router, http.MethodGet, "/v1/status"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	if len(limiter.seen) != 0 {
		t.Errorf("limiter should not be consulted for status, saw %v", limiter.seen)
	}
}
