// Copyright 2026 The deep-search-agent Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"container/list"
	"sort"
	"sync"

	"github.com/wisdom-pan/deep-search-agent/internal/embedding"
)

// DefaultMaxVectors bounds the vector index when no capacity is
// configured.
const DefaultMaxVectors = 2000

// Match is a similarity search result.
type Match struct {
	// Key is the fingerprint of the matched entry.
	Key string

	// Score is the cosine similarity in [-1, 1].
	Score float64
}

// vectorEntry pairs a fingerprint with its normalized embedding.
type vectorEntry struct {
	key     string
	vec     []float32
	element *list.Element
}

// VectorIndex is an approximate-nearest-neighbor store mapping
// fingerprints to embeddings. It is purely an acceleration structure:
// the Manager keeps it in lockstep with the storage backend. Overflow
// evicts the oldest-inserted entry first.
type VectorIndex struct {
	mu      sync.RWMutex
	entries map[string]*vectorEntry

	// order tracks insertion order, oldest at the back.
	order   *list.List
	maxSize int

	// onEvict, when set, receives the key of every capacity-evicted
	// entry so the Manager can drop the paired storage item.
	onEvict func(key string)
}

// NewVectorIndex creates an index holding at most maxSize vectors.
func NewVectorIndex(maxSize int) *VectorIndex {
	if maxSize <= 0 {
		maxSize = DefaultMaxVectors
	}
	return &VectorIndex{
		entries: make(map[string]*vectorEntry),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// SetEvictionHandler registers fn to observe capacity-evicted keys.
// It must be set before the index is shared across goroutines.
func (v *VectorIndex) SetEvictionHandler(fn func(key string)) {
	v.onEvict = fn
}

// Insert stores (or replaces) the embedding for key. Vectors are
// normalized on insert so searches reduce to an inner product.
func (v *VectorIndex) Insert(key string, vec []float32) {
	normalized := embedding.Normalize(vec)

	v.mu.Lock()
	var evicted string
	if existing, ok := v.entries[key]; ok {
		existing.vec = normalized
		v.order.MoveToFront(existing.element)
	} else {
		if len(v.entries) >= v.maxSize {
			evicted = v.evictOldestLocked()
		}
		entry := &vectorEntry{key: key, vec: normalized}
		entry.element = v.order.PushFront(entry)
		v.entries[key] = entry
	}
	v.mu.Unlock()

	if evicted != "" && v.onEvict != nil {
		v.onEvict(evicted)
	}
}

// Remove deletes the embedding for key.
func (v *VectorIndex) Remove(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.entries[key]
	if !ok {
		return false
	}
	v.order.Remove(entry.element)
	delete(v.entries, key)
	return true
}

// Search returns up to topK entries ordered descending by cosine
// similarity to vec. It applies no threshold; the Manager filters.
func (v *VectorIndex) Search(vec []float32, topK int) []Match {
	if topK <= 0 {
		topK = 1
	}
	query := embedding.Normalize(vec)

	v.mu.RLock()
	matches := make([]Match, 0, len(v.entries))
	for _, entry := range v.entries {
		score := embedding.Dot(query, entry.vec)
		matches = append(matches, Match{Key: entry.key, Score: score})
	}
	v.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// Contains reports whether key has an indexed embedding.
func (v *VectorIndex) Contains(key string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.entries[key]
	return ok
}

// Size returns the number of indexed vectors.
func (v *VectorIndex) Size() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// Clear drops every entry.
func (v *VectorIndex) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries = make(map[string]*vectorEntry)
	v.order = list.New()
}

// evictOldestLocked removes the oldest-inserted entry and returns its
// key. Callers hold v.mu.
func (v *VectorIndex) evictOldestLocked() string {
	oldest := v.order.Back()
	if oldest == nil {
		return ""
	}
	entry := oldest.Value.(*vectorEntry)
	v.order.Remove(oldest)
	delete(v.entries, entry.key)
	return entry.key
}
