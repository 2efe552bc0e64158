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

package triage

import (
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"triageflow/platform/triage/ratelimit"
	"triageflow/platform/triage/store"
)

// Run is the exported entry point for the triage service.
//
// It initializes persistence, the rate limiter, the tool registry, and the
// orchestrator, sets up HTTP routes, and starts the server. The function
// blocks until the server is shut down.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8085)
//   - DATABASE_URL: PostgreSQL connection string (in-memory store if unset)
//   - REDIS_URL: Redis connection string for rate limiting (fail open if unset)
//   - PLAN_CONFIG: path to a YAML plan configuration (optional)
//   - API_KEYS: comma-separated "key:clientID" pairs (auth disabled if unset)
//   - RATE_LIMIT_MAX_TOKENS: token bucket capacity (default: 5)
//   - RATE_LIMIT_REFILL_RATE: tokens per second (default: 5)
func Run() {
	log.Println("Starting TriageFlow orchestrator...")

	repo := initRepository()
	limiter := initLimiter()
	defer limiter.Close()

	config, err := LoadPlanConfig(getEnv("PLAN_CONFIG", ""))
	if err != nil {
		log.Fatalf("[Config] %v", err)
	}
	log.Printf("[Config] Plan: %v, flow budget %v, tool timeout %v", config.Plan, config.FlowBudget, config.ToolTimeout)

	metrics := NewMetricsCollector()
	registry := DefaultRegistry(repo)
	orchestrator := NewOrchestrator(repo, registry, metrics, config)
	api := NewAPI(orchestrator, repo, metrics)

	r := mux.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	api.Routes(r)
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	keys := ratelimit.ParseKeyTable(getEnv("API_KEYS", ""))
	if keys.Configured() {
		log.Println("[Auth] API key authentication enabled")
	} else {
		log.Println("[Auth] API_KEYS not set, authentication disabled")
	}

	// Auth and rate limit only the triage entry point; reads and health stay open
	r.Use(func(next http.Handler) http.Handler {
		guarded := ratelimit.AuthMiddleware(keys)(ratelimit.Middleware(limiter, metrics.RecordRateLimited)(next))
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Method == http.MethodPost {
				guarded.ServeHTTP(w, req)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	port := getEnv("PORT", "8085")
	handler := c.Handler(r)
	log.Printf("TriageFlow orchestrator listening on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, handler))
}

// initRepository connects to PostgreSQL when configured, falling back to
// the in-memory store for local development.
func initRepository() store.Repository {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		log.Println("[Store] DATABASE_URL not set, using in-memory store")
		return store.NewMemoryRepository()
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("[Store] Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Fatalf("[Store] Failed to connect to database: %v", err)
	}

	log.Println("[Store] Connected to PostgreSQL")
	return store.NewPostgresRepository(db)
}

// initLimiter builds the distributed rate limiter. Without Redis the
// limiter fails open so the service still runs un-limited.
func initLimiter() *ratelimit.Limiter {
	maxTokens := envFloat("RATE_LIMIT_MAX_TOKENS", ratelimit.DefaultMaxTokens)
	refillRate := envFloat("RATE_LIMIT_REFILL_RATE", ratelimit.DefaultRefillRate)

	redisURL := getEnv("REDIS_URL", "")
	if redisURL == "" {
		log.Println("[RateLimit] REDIS_URL not set, rate limiting disabled (fail open)")
		return ratelimit.NewLimiter(nil)
	}

	limiter, err := ratelimit.NewLimiterFromURL(redisURL,
		ratelimit.WithMaxTokens(maxTokens),
		ratelimit.WithRefillRate(refillRate))
	if err != nil {
		log.Printf("[RateLimit] Redis unavailable, rate limiting disabled (fail open): %v", err)
		return ratelimit.NewLimiter(nil)
	}

	log.Printf("[RateLimit] Redis connected, %g tokens at %g/s per client", maxTokens, refillRate)
	return limiter
}

func envFloat(key string, defaultValue float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("[Config] Invalid %s=%q, using default %g", key, raw, defaultValue)
		return defaultValue
	}
	return value
}
