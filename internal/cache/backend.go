// Copyright 2026 The deep-search-agent Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

// Backend persists cache items keyed by fingerprint. Implementations are
// not safe for concurrent use on their own; wrap with ThreadSafeBackend
// (or rely on the Manager lock) when shared across goroutines.
//
// Runtime storage faults never surface from Get/Set/Delete: backends
// degrade internally and count the fault. Only Flush and Close report
// errors, for callers that explicitly wait on durability.
type Backend interface {
	// Get returns the live item for key, or false on a miss.
	Get(key string) (*Item, bool)

	// Set inserts or overwrites the item for key, evicting if needed.
	Set(key string, item *Item)

	// Delete removes the item for key and reports whether one existed.
	Delete(key string) bool

	// Clear removes every item.
	Clear()

	// Flush forces any buffered writes to durable storage.
	Flush() error

	// Size returns the number of live items.
	Size() int

	// Items returns a snapshot of all live items, unordered.
	Items() []*Item

	// Close releases backend resources, flushing first where relevant.
	Close() error
}

// faultCounter is implemented by backends that track degraded-write
// faults, so the Manager can fold them into its metrics.
type faultCounter interface {
	Faults() int64
}

// shortKey abbreviates a fingerprint for log lines.
func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
