// Copyright 2026 The deep-search-agent Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cache implements the query-result cache for the retrieval engine.
// It stores previously computed answers keyed by a query fingerprint and
// serves later requests by exact key match or by embedding similarity,
// with a tiered memory/disk backend and quality-weighted eviction.
package cache

import (
	"time"
)

// Item represents a single cached answer together with its bookkeeping
// metadata. The value payload is opaque to the cache.
type Item struct {
	// Fingerprint is the deterministic key derived from the query
	// (and optionally context/keywords) by a KeyStrategy.
	Fingerprint string `json:"fingerprint"`

	// Value is the cached answer or artifact. Never interpreted here.
	Value interface{} `json:"value"`

	// CreatedAt is when the item was first stored.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessedAt is updated on every successful read.
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// AccessCount increments on every successful read.
	AccessCount int64 `json:"access_count"`

	// Quality is a signed feedback counter. Zero is neutral; it moves
	// only through explicit MarkQuality calls.
	Quality int `json:"quality"`

	// Metadata carries auxiliary values (keywords, session id). Opaque
	// to the storage backends.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewItem creates a fresh item with neutral quality and zeroed access
// bookkeeping.
func NewItem(fingerprint string, value interface{}, metadata map[string]interface{}) *Item {
	now := time.Now()
	return &Item{
		Fingerprint:    fingerprint,
		Value:          value,
		CreatedAt:      now,
		LastAccessedAt: now,
		Metadata:       metadata,
	}
}

// Touch records a successful read.
func (it *Item) Touch() {
	it.AccessCount++
	it.LastAccessedAt = time.Now()
}

// AdjustQuality applies one unit of feedback.
func (it *Item) AdjustQuality(positive bool) {
	if positive {
		it.Quality++
	} else {
		it.Quality--
	}
}
