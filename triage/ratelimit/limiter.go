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
	"math"
	"time"

	"github.com/go-redis/redis/v8"

	"triageflow/platform/shared/logger"
)

// Defaults for the token bucket. Capacity allows a small burst; the refill
// rate enforces the long-run average.
const (
	DefaultMaxTokens  = 5.0
	DefaultRefillRate = 5.0 // tokens per second
	DefaultBucketTTL  = 60 * time.Second
)

// bucket is the per-client state persisted in Redis. Keeping it in a shared
// store (rather than in-process) makes the limit hold across multiple
// orchestrator instances behind one load balancer.
type bucket struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration // only set when rejected
}

// Limiter is a distributed token-bucket rate limiter backed by Redis.
// When Redis is unreachable it fails open: availability of the triage
// pipeline is preferred over strict limiting.
type Limiter struct {
	client     *redis.Client
	maxTokens  float64
	refillRate float64
	ttl        time.Duration
	log        *logger.Logger
}

// Option customizes a Limiter
type Option func(*Limiter)

// WithMaxTokens overrides the bucket capacity
func WithMaxTokens(maxTokens float64) Option {
	return func(l *Limiter) { l.maxTokens = maxTokens }
}

// WithRefillRate overrides the refill rate in tokens per second
func WithRefillRate(refillRate float64) Option {
	return func(l *Limiter) { l.refillRate = refillRate }
}

// WithBucketTTL overrides the Redis key TTL. It must exceed the full refill
// window or an idle client's bucket expires before it fully recovers.
func WithBucketTTL(ttl time.Duration) Option {
	return func(l *Limiter) { l.ttl = ttl }
}

// NewLimiter creates a rate limiter on an existing Redis client.
// A nil client is allowed and makes every check fail open, so deployments
// without Redis degrade to unlimited rather than broken.
func NewLimiter(client *redis.Client, opts ...Option) *Limiter {
	l := &Limiter{
		client:     client,
		maxTokens:  DefaultMaxTokens,
		refillRate: DefaultRefillRate,
		ttl:        DefaultBucketTTL,
		log:        logger.New("ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewLimiterFromURL connects to Redis at redisURL and verifies the
// connection before returning a limiter on it.
func NewLimiterFromURL(redisURL string, opts ...Option) (*Limiter, error) {
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(parsed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewLimiter(client, opts...), nil
}

// Check consumes one token from clientID's bucket if available. A missing
// bucket is initialized full, so a new client gets its burst allowance.
// Rejections report how long until one token has refilled.
//
// On any Redis failure the check fails open and allows the request.
func (l *Limiter) Check(ctx context.Context, clientID string) Decision {
	if l.client == nil {
		return Decision{Allowed: true, Remaining: l.maxTokens}
	}

	key := bucketKey(clientID)
	now := time.Now()

	b, err := l.loadBucket(ctx, key, now)
	if err != nil {
		l.log.Warn(clientID, "", "Rate limit check failed, failing open", map[string]interface{}{
			"error": err.Error(),
		})
		return Decision{Allowed: true, Remaining: l.maxTokens}
	}

	// Continuous refill since the last check, capped at capacity
	elapsed := now.Sub(b.LastRefill).Seconds()
	if elapsed > 0 {
		b.Tokens = math.Min(l.maxTokens, b.Tokens+elapsed*l.refillRate)
	}
	b.LastRefill = now

	if b.Tokens >= 1 {
		b.Tokens--
		if err := l.saveBucket(ctx, key, b); err != nil {
			l.log.Warn(clientID, "", "Rate limit state write failed, failing open", map[string]interface{}{
				"error": err.Error(),
			})
			return Decision{Allowed: true, Remaining: b.Tokens}
		}
		return Decision{Allowed: true, Remaining: b.Tokens}
	}

	// Not enough tokens: report when one will have refilled
	shortfall := 1 - b.Tokens
	retryAfter := time.Duration(math.Ceil(shortfall/l.refillRate)) * time.Second

	if err := l.saveBucket(ctx, key, b); err != nil {
		l.log.Warn(clientID, "", "Rate limit state write failed, failing open", map[string]interface{}{
			"error": err.Error(),
		})
		return Decision{Allowed: true, Remaining: b.Tokens}
	}

	l.log.Info(clientID, "", "Request rate limited", map[string]interface{}{
		"retry_after_seconds": retryAfter.Seconds(),
	})
	return Decision{Allowed: false, Remaining: b.Tokens, RetryAfter: retryAfter}
}

// loadBucket reads a bucket from Redis, returning a full bucket when the
// key is absent or its payload is unreadable.
func (l *Limiter) loadBucket(ctx context.Context, key string, now time.Time) (*bucket, error) {
	raw, err := l.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return &bucket{Tokens: l.maxTokens, LastRefill: now}, nil
	}
	if err != nil {
		return nil, err
	}

	var b bucket
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		// Corrupt state: start over rather than lock the client out
		return &bucket{Tokens: l.maxTokens, LastRefill: now}, nil
	}
	return &b, nil
}

// saveBucket writes a bucket back with the TTL refreshed
func (l *Limiter) saveBucket(ctx context.Context, key string, b *bucket) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return l.client.Set(ctx, key, raw, l.ttl).Err()
}

// Flush removes clientID's bucket (admin operation)
func (l *Limiter) Flush(ctx context.Context, clientID string) error {
	if l.client == nil {
		return fmt.Errorf("redis not configured")
	}
	if err := l.client.Del(ctx, bucketKey(clientID)).Err(); err != nil {
		return fmt.Errorf("failed to flush rate limit state: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection
func (l *Limiter) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}

func bucketKey(clientID string) string {
	return fmt.Sprintf("ratelimit:%s", clientID)
}
