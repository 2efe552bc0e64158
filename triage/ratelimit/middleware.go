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
	"encoding/json"
	"fmt"
	"net"
	"net/http"
)

// Middleware gates HTTP requests through the limiter. Rejections return
// 429 with a Retry-After header so well-behaved clients can back off.
// onReject, if non-nil, is called once per rejected request (metrics hook).
func Middleware(limiter *Limiter, onReject func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := ClientIdentity(r)

			decision := limiter.Check(r.Context(), clientID)
			if !decision.Allowed {
				if onReject != nil {
					onReject()
				}
				retryAfter := int(decision.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error":       "rate limit exceeded",
					"retry_after": retryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIdentity resolves the rate limit identity for a request. An
// authenticated client ID wins, then an explicit API key, then the network
// address, so keyed clients are limited individually even behind shared NAT.
func ClientIdentity(r *http.Request) string {
	if client, ok := AuthenticatedClient(r.Context()); ok {
		return client.ClientID
	}
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
