// Copyright 2026 The deep-search-agent Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	log "github.com/sirupsen/logrus"
)

// DefaultMaxMemorySize bounds the memory tier when no capacity is
// configured.
const DefaultMaxMemorySize = 200

// MemoryBackend is the bounded hot tier. Eviction is least-recently-used
// by LastAccessedAt, with ties broken by lowest Quality, then oldest
// CreatedAt. Inserting beyond capacity evicts exactly one victim first.
type MemoryBackend struct {
	items   map[string]*Item
	maxSize int

	// onEvict, when set, receives every capacity-evicted item. The
	// hybrid backend uses it to demote victims into the disk tier.
	onEvict func(*Item)
}

// NewMemoryBackend creates a memory tier holding at most maxSize items.
func NewMemoryBackend(maxSize int) *MemoryBackend {
	if maxSize <= 0 {
		maxSize = DefaultMaxMemorySize
	}
	return &MemoryBackend{
		items:   make(map[string]*Item),
		maxSize: maxSize,
	}
}

// SetEvictionHandler registers fn to observe capacity-evicted items.
func (m *MemoryBackend) SetEvictionHandler(fn func(*Item)) {
	m.onEvict = fn
}

// Get returns the item for key without touching access bookkeeping;
// the Manager owns read accounting.
func (m *MemoryBackend) Get(key string) (*Item, bool) {
	it, ok := m.items[key]
	return it, ok
}

// Set inserts or overwrites the item for key. A brand-new key at
// capacity evicts one victim before the insert.
func (m *MemoryBackend) Set(key string, item *Item) {
	if _, exists := m.items[key]; !exists && len(m.items) >= m.maxSize {
		m.evictOne()
	}
	m.items[key] = item
}

// Delete removes the item for key.
func (m *MemoryBackend) Delete(key string) bool {
	if _, ok := m.items[key]; !ok {
		return false
	}
	delete(m.items, key)
	return true
}

// Clear drops every item.
func (m *MemoryBackend) Clear() {
	m.items = make(map[string]*Item)
}

// Flush is a no-op: the memory tier has no durable path.
func (m *MemoryBackend) Flush() error { return nil }

// Close is a no-op.
func (m *MemoryBackend) Close() error { return nil }

// Size returns the number of live items.
func (m *MemoryBackend) Size() int { return len(m.items) }

// Items returns an unordered snapshot of the live items.
func (m *MemoryBackend) Items() []*Item {
	out := make([]*Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	return out
}

// evictOne removes the current eviction victim and hands it to the
// eviction handler, if any.
func (m *MemoryBackend) evictOne() {
	var victim *Item
	for _, it := range m.items {
		if victim == nil || lessForMemoryEviction(it, victim) {
			victim = it
		}
	}
	if victim == nil {
		return
	}
	delete(m.items, victim.Fingerprint)
	log.Debugf("memory tier evicted %s (quality=%d, accesses=%d)",
		shortKey(victim.Fingerprint), victim.Quality, victim.AccessCount)
	if m.onEvict != nil {
		m.onEvict(victim)
	}
}

// lessForMemoryEviction reports whether a is a better eviction victim
// than b for the hot tier: least recently used first, then lowest
// quality, then oldest.
func lessForMemoryEviction(a, b *Item) bool {
	if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
		return a.LastAccessedAt.Before(b.LastAccessedAt)
	}
	if a.Quality != b.Quality {
		return a.Quality < b.Quality
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
