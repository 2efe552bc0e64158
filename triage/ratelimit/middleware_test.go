// Copyright 2025 TriageFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware_AllowsWithinLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, WithMaxTokens(5), WithRefillRate(5))

	handler := Middleware(limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/alert-001/triage", nil)
		req.RemoteAddr = "10.0.0.1:54321"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestMiddleware_RejectsWith429(t *testing.T) {
	limiter, _ := newTestLimiter(t, WithMaxTokens(1), WithRefillRate(0.5))

	handler := Middleware(limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/alert-001/triage", nil)
	req.RemoteAddr = "10.0.0.1:54321"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response must carry a Retry-After header")
	}
}

func TestMiddleware_APIKeyIdentityOverNetwork(t *testing.T) {
	limiter, _ := newTestLimiter(t, WithMaxTokens(1), WithRefillRate(0.1))

	handler := Middleware(limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Two clients behind the same address, distinguished by API key
	reqA := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/alert-001/triage", nil)
	reqA.RemoteAddr = "10.0.0.1:54321"
	reqA.Header.Set("X-API-Key", "key-a")

	reqB := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/alert-001/triage", nil)
	reqB.RemoteAddr = "10.0.0.1:54321"
	reqB.Header.Set("X-API-Key", "key-b")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, reqA)
	if rec.Code != http.StatusOK {
		t.Fatalf("key-a first request should pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, reqA)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("key-a second request should be limited, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, reqB)
	if rec.Code != http.StatusOK {
		t.Fatalf("key-b has its own bucket, got %d", rec.Code)
	}
}

func TestMiddleware_RejectHookFires(t *testing.T) {
	limiter, _ := newTestLimiter(t, WithMaxTokens(1), WithRefillRate(0.1))

	rejected := 0
	handler := Middleware(limiter, func() { rejected++ })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/alert-001/triage", nil)
	req.RemoteAddr = "10.0.0.1:54321"

	handler.ServeHTTP(httptest.NewRecorder(), req)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if rejected != 1 {
		t.Errorf("expected 1 rejection recorded, got %d", rejected)
	}
}

func TestClientIdentity(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		remoteAddr string
		want       string
	}{
		{"API key wins over address", "key-123", "10.0.0.1:54321", "key-123"},
		{"falls back to host", "", "10.0.0.1:54321", "10.0.0.1"},
		{"unparseable address used verbatim", "", "not-an-addr", "not-an-addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.apiKey != "" {
				req.Header.Set("X-API-Key", tt.apiKey)
			}
			if got := ClientIdentity(req); got != tt.want {
				t.Errorf("ClientIdentity() = %q, want %q", got, tt.want)
			}
		})
	}
}
