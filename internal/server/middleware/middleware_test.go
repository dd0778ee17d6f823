package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestAuth(t *testing.T) {
	h := Auth("secret")(ok)

	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"bearer", "Authorization", "Bearer secret", http.StatusOK},
		{"api key", "X-API-Key", "secret", http.StatusOK},
		{"wrong", "X-API-Key", "nope", http.StatusUnauthorized},
		{"basic scheme", "Authorization", "Basic secret", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/pools", nil)
			if tc.header != "" {
				r.Header.Set(tc.header, tc.value)
			}
			assert.Equal(t, tc.want, serve(h, r).Code)
		})
	}

	open := Auth("")(ok)
	assert.Equal(t, http.StatusOK, serve(open, httptest.NewRequest(http.MethodPost, "/", nil)).Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(ok)

	r := httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	r.Header.Set("Origin", "https://app.example")
	rec := serve(h, r)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/api/pools", nil)
	r.Header.Set("Origin", "https://evil.example")
	rec = serve(h, r)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodOptions, "/api/pools", nil)
	assert.Equal(t, http.StatusNoContent, serve(h, r).Code)
}

type recorder struct {
	method, route string
	code          int
}

func (r *recorder) RecordHTTPRequest(method, route string, code int) {
	r.method, r.route, r.code = method, route, code
}

func TestLoggingRecordsRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/pools/{address}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rec := &recorder{}
	h := Logging(slog.New(slog.NewTextHandler(io.Discard, nil)), rec)(mux)

	serve(h, httptest.NewRequest(http.MethodGet, "/api/pools/0xabc", nil))
	assert.Equal(t, "GET", rec.method)
	assert.Equal(t, "GET /api/pools/{address}", rec.route)
	assert.Equal(t, http.StatusTeapot, rec.code)

	serve(h, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.code)
}

func TestLocalRateLimit(t *testing.T) {
	h := LocalRateLimit(1, 2)(ok)

	codes := make([]int, 3)
	for i := range codes {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:5000"
		codes[i] = serve(h, r).Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.2:5000"
	assert.Equal(t, http.StatusOK, serve(h, r).Code)
}

func TestLocalLimiterDropsIdleBuckets(t *testing.T) {
	l := &localLimiter{rps: 1, burst: 1, clients: make(map[string]*bucket)}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.True(t, l.allow("a", now))
	require.True(t, l.allow("b", now.Add(idleBucket+time.Second)))
	assert.NotContains(t, l.clients, "a")
	assert.Contains(t, l.clients, "b")
}

type stubLimiter struct {
	allowed bool
	err     error
	key     string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.key = key
	return s.allowed, s.err
}

func TestSharedRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deny := &stubLimiter{}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, serve(RateLimit(deny, 10, time.Second, logger)(ok), r).Code)
	assert.Equal(t, "api:203.0.113.7", deny.key)

	broken := &stubLimiter{err: errors.New("redis down")}
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, serve(RateLimit(broken, 10, time.Second, logger)(ok), r).Code)
}
