// Copyright 2025 TriageFlow
// SPDX-License-Identifier: Apache-2.0

package store

import "errors"

var (
	// ErrNotFound is returned when a requested alert or run is not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrDatabaseUnavailable is returned when the database connection fails
	ErrDatabaseUnavailable = errors.New("database unavailable")
)
