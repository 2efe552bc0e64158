// Copyright 2025 TriageFlow
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit implements a distributed token-bucket rate limiter
// backed by Redis.
//
// Each client identity gets a bucket of DefaultMaxTokens tokens refilling
// continuously at DefaultRefillRate tokens per second. Bucket state lives
// in Redis under a TTL, so the limit holds across multiple orchestrator
// instances while idle clients' state expires on its own.
//
// The limiter fails open: if Redis is down or unreachable, requests are
// allowed through rather than rejected.
package ratelimit
