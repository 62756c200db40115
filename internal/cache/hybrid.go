// Copyright 2026 The deep-search-agent Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// HybridBackend composes a hot memory tier over a cold disk tier.
//
// Reads check memory first; a disk hit is promoted into memory (and
// removed from disk, so each fingerprint is live in exactly one tier).
// Writes land in memory; when memory evicts a victim it is demoted into
// disk instead of discarded, unless its quality sits below the discard
// threshold.
type HybridBackend struct {
	memory *MemoryBackend
	disk   *DiskBackend

	// discardThreshold drops demoted items whose quality is below it.
	discardThreshold int

	// onDiscard, when set, receives every demotion victim dropped
	// instead of written to disk.
	onDiscard func(*Item)

	promotions atomic.Int64
	demotions  atomic.Int64
}

// NewHybridBackend wires the two tiers together. Memory evictions flow
// into the disk tier through the demotion handler.
func NewHybridBackend(memory *MemoryBackend, disk *DiskBackend, discardThreshold int) *HybridBackend {
	h := &HybridBackend{
		memory:           memory,
		disk:             disk,
		discardThreshold: discardThreshold,
	}
	memory.SetEvictionHandler(h.demote)
	return h
}

// SetDiscardHandler registers fn to observe items destroyed on
// demotion. It must be set before the backend is shared across
// goroutines.
func (h *HybridBackend) SetDiscardHandler(fn func(*Item)) {
	h.onDiscard = fn
}

// Get checks the hot tier, then the cold tier. A cold hit moves the item
// into the hot tier.
func (h *HybridBackend) Get(key string) (*Item, bool) {
	if it, ok := h.memory.Get(key); ok {
		return it, true
	}
	it, ok := h.disk.Get(key)
	if !ok {
		return nil, false
	}

	// Promote: remove from disk before inserting into memory so the
	// memory insert's own eviction (which may demote another item back
	// to disk) never sees the fingerprint live in both tiers.
	h.disk.Delete(key)
	h.memory.Set(key, it)
	h.promotions.Add(1)
	log.Debugf("promoted %s to memory tier", shortKey(key))
	return it, true
}

// Set always writes to the hot tier.
func (h *HybridBackend) Set(key string, item *Item) {
	// Overwrites must not leave a stale copy in the cold tier.
	if _, inMemory := h.memory.Get(key); !inMemory {
		h.disk.Delete(key)
	}
	h.memory.Set(key, item)
}

// Delete removes the fingerprint from whichever tier holds it.
func (h *HybridBackend) Delete(key string) bool {
	inMemory := h.memory.Delete(key)
	onDisk := h.disk.Delete(key)
	return inMemory || onDisk
}

// Clear empties both tiers.
func (h *HybridBackend) Clear() {
	h.memory.Clear()
	h.disk.Clear()
}

// Flush forces the cold tier's durable write path to complete.
func (h *HybridBackend) Flush() error {
	return h.disk.Flush()
}

// Size returns the combined live item count.
func (h *HybridBackend) Size() int {
	return h.memory.Size() + h.disk.Size()
}

// Items returns a snapshot across both tiers.
func (h *HybridBackend) Items() []*Item {
	return append(h.memory.Items(), h.disk.Items()...)
}

// Faults reports the cold tier's degraded-operation count.
func (h *HybridBackend) Faults() int64 { return h.disk.Faults() }

// Promotions returns the cumulative cold-to-hot moves.
func (h *HybridBackend) Promotions() int64 { return h.promotions.Load() }

// Demotions returns the cumulative hot-to-cold moves.
func (h *HybridBackend) Demotions() int64 { return h.demotions.Load() }

// MemorySize returns the hot tier's live item count.
func (h *HybridBackend) MemorySize() int { return h.memory.Size() }

// Close shuts down the cold tier.
func (h *HybridBackend) Close() error {
	return h.disk.Close()
}

// demote receives memory-tier eviction victims and writes them back to
// disk, unless their quality marks them as not worth keeping.
func (h *HybridBackend) demote(it *Item) {
	if it.Quality < h.discardThreshold {
		log.Debugf("discarded %s on demotion (quality=%d below threshold %d)",
			shortKey(it.Fingerprint), it.Quality, h.discardThreshold)
		if h.onDiscard != nil {
			h.onDiscard(it)
		}
		return
	}
	h.disk.Set(it.Fingerprint, it)
	h.demotions.Add(1)
	log.Debugf("demoted %s to disk tier", shortKey(it.Fingerprint))
}
