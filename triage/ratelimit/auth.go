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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ClientAuth is a known client resolved from an API key. ClientID is the
// rate limit identity, so multiple keys mapped to one client share a bucket.
type ClientAuth struct {
	ClientID string
	Name     string
	Enabled  bool
}

// KeyTable maps API keys to client configurations. An empty table means
// authentication is not configured and requests pass through unchecked.
type KeyTable struct {
	clients map[string]*ClientAuth
}

// NewKeyTable builds a table from an explicit key -> client mapping.
func NewKeyTable(clients map[string]*ClientAuth) *KeyTable {
	if clients == nil {
		clients = make(map[string]*ClientAuth)
	}
	return &KeyTable{clients: clients}
}

// ParseKeyTable parses the API_KEYS environment format:
// comma-separated "key:clientID" pairs, e.g. "k-abc:fraud-ops,k-def:sre-team".
// A bare key without a client ID identifies itself. Malformed entries are
// skipped rather than failing startup.
func ParseKeyTable(raw string) *KeyTable {
	table := NewKeyTable(nil)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, clientID, found := strings.Cut(entry, ":")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if !found || strings.TrimSpace(clientID) == "" {
			clientID = key
		}
		clientID = strings.TrimSpace(clientID)
		table.clients[key] = &ClientAuth{
			ClientID: clientID,
			Name:     clientID,
			Enabled:  true,
		}
	}
	return table
}

// Configured reports whether any keys are registered. An unconfigured
// table leaves the service open, matching the limiter's fail-open posture.
func (t *KeyTable) Configured() bool {
	return t != nil && len(t.clients) > 0
}

// Authenticate resolves an API key to its client.
func (t *KeyTable) Authenticate(apiKey string) (*ClientAuth, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key required")
	}

	client, exists := t.clients[apiKey]
	if !exists {
		return nil, fmt.Errorf("unknown API key")
	}
	if !client.Enabled {
		return nil, fmt.Errorf("client '%s' is disabled", client.ClientID)
	}
	return client, nil
}

type contextKey string

const authClientKey contextKey = "ratelimit.authClient"

// AuthenticatedClient returns the client resolved by AuthMiddleware, if any.
func AuthenticatedClient(ctx context.Context) (*ClientAuth, bool) {
	client, ok := ctx.Value(authClientKey).(*ClientAuth)
	return client, ok
}

// AuthMiddleware rejects requests whose X-API-Key is missing or unknown
// with 401. When the table is unconfigured the middleware is a no-op.
// The resolved client is attached to the request context so ClientIdentity
// rate limits per client rather than per raw key.
func AuthMiddleware(table *KeyTable) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !table.Configured() {
				next.ServeHTTP(w, r)
				return
			}

			client, err := table.Authenticate(r.Header.Get("X-API-Key"))
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error": err.Error(),
				})
				return
			}

			ctx := context.WithValue(r.Context(), authClientKey, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
