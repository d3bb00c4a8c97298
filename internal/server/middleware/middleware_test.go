package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alanyoungcy/stakefund/internal/crypto"
	"github.com/alanyoungcy/stakefund/internal/store/memory"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func echoCaller() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := Caller(r.Context())
		if !ok {
			http.Error(w, "no caller", http.StatusInternalServerError)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Write([]byte(addr.Hex() + "|" + string(body)))
	})
}

func signedRequest(t *testing.T, s *crypto.Signer, method, path string, ts int64, body []byte) *http.Request {
	t.Helper()
	sig, err := s.SignRequest(method, path, ts, body)
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	r.Header.Set(HeaderAddress, s.Address().Hex())
	r.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	r.Header.Set(HeaderSignature, sig)
	return r
}

func TestSigned(t *testing.T) {
	signer, err := crypto.NewSigner(testKey)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1_700_000_000, 0)
	h := Signed(AuthConfig{Nonces: memory.NewNonceStore(), Now: func() time.Time { return now }}, quiet)(echoCaller())
	body := []byte(`{"milestone_id":"m-1"}`)

	t.Run("valid", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedRequest(t, signer, http.MethodPost, "/api/markets", now.Unix(), body))
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d: %s", rec.Code, rec.Body)
		}
		if want := signer.Address().Hex() + "|" + string(body); rec.Body.String() != want {
			t.Fatalf("body = %q", rec.Body)
		}
	})

	t.Run("replay", func(t *testing.T) {
		req := signedRequest(t, signer, http.MethodPost, "/api/markets", now.Unix()-1, body)
		replay := req.Clone(context.Background())
		replay.Body = io.NopCloser(bytes.NewReader(body))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("first use: %d", rec.Code)
		}
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, replay)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("replay status = %d", rec.Code)
		}
	})

	cases := []struct {
		name   string
		mutate func(r *http.Request)
		ts     int64
		want   int
	}{
		{"stale", nil, now.Unix() - 301, http.StatusUnauthorized},
		{"future", nil, now.Unix() + 301, http.StatusUnauthorized},
		{"missing address", func(r *http.Request) { r.Header.Del(HeaderAddress) }, now.Unix() - 2, http.StatusUnauthorized},
		{"other address", func(r *http.Request) {
			r.Header.Set(HeaderAddress, "0x000000000000000000000000000000000000dEaD")
		}, now.Unix() - 3, http.StatusUnauthorized},
		{"tampered body", func(r *http.Request) {
			r.Body = io.NopCloser(bytes.NewReader([]byte(`{"milestone_id":"m-2"}`)))
		}, now.Unix() - 4, http.StatusUnauthorized},
		{"other path", func(r *http.Request) { r.URL.Path = "/api/admin/pause" }, now.Unix() - 5, http.StatusUnauthorized},
		{"garbled signature", func(r *http.Request) { r.Header.Set(HeaderSignature, "0xzz") }, now.Unix() - 6, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := signedRequest(t, signer, http.MethodPost, "/api/markets", tc.ts, body)
			if tc.mutate != nil {
				tc.mutate(req)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body)
			}
		})
	}
}

func TestSignedTrusted(t *testing.T) {
	h := Signed(AuthConfig{Trusted: true}, quiet)(echoCaller())
	req := httptest.NewRequest(http.MethodPost, "/api/markets", nil)
	req.Header.Set(HeaderAddress, "0x000000000000000000000000000000000000bEEF")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "0x000000000000000000000000000000000000bEEF|" {
		t.Fatalf("status %d body %q", rec.Code, rec.Body)
	}
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	return f.allow, f.err
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	cases := []struct {
		name    string
		limiter *fakeLimiter
		want    int
	}{
		{"allowed", &fakeLimiter{allow: true}, http.StatusNoContent},
		{"limited", &fakeLimiter{allow: false}, http.StatusTooManyRequests},
		{"limiter down", &fakeLimiter{err: errors.New("redis down")}, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := RateLimit(tc.limiter, 10, 30*time.Second, quiet)(ok)
			req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
			req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			if tc.limiter.keys[0] != "api:203.0.113.9" {
				t.Fatalf("key = %s", tc.limiter.keys[0])
			}
			if tc.want == http.StatusTooManyRequests && rec.Header().Get("Retry-After") != "30" {
				t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestLoggingSeesRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	var seen string
	mux.HandleFunc("GET /api/markets/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	inner := Logging(quiet)(mux)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner.ServeHTTP(w, r)
		seen = r.Pattern
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/7", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
	if seen != "GET /api/markets/{id}" {
		t.Fatalf("pattern = %q", seen)
	}
}
