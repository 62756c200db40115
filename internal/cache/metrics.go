// Copyright 2026 The deep-search-agent Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

// Metrics is a snapshot of cumulative cache counters since construction.
// ExactHits + VectorHits + Misses always equals TotalQueries.
type Metrics struct {
	ExactHits    int64 `json:"exact_hits"`
	VectorHits   int64 `json:"vector_hits"`
	Misses       int64 `json:"misses"`
	TotalQueries int64 `json:"total_queries"`

	// Promotions and Demotions count tier moves in the hybrid backend.
	Promotions int64 `json:"promotions"`
	Demotions  int64 `json:"demotions"`

	// DiskFaults counts degraded disk operations; EmbeddingFaults counts
	// similarity-unavailable fallbacks.
	DiskFaults      int64 `json:"disk_faults"`
	EmbeddingFaults int64 `json:"embedding_faults"`

	// MemoryItems and TotalItems describe current occupancy.
	MemoryItems int `json:"memory_items"`
	TotalItems  int `json:"total_items"`

	// IndexedVectors is the current vector index occupancy.
	IndexedVectors int `json:"indexed_vectors"`
}

// HitRate returns the fraction of queries answered from the cache.
func (m Metrics) HitRate() float64 {
	if m.TotalQueries == 0 {
		return 0.0
	}
	return float64(m.ExactHits+m.VectorHits) / float64(m.TotalQueries)
}

// AsMap renders the metrics for handlers and logs.
func (m Metrics) AsMap() map[string]interface{} {
	return map[string]interface{}{
		"exact_hits":       m.ExactHits,
		"vector_hits":      m.VectorHits,
		"misses":           m.Misses,
		"total_queries":    m.TotalQueries,
		"promotions":       m.Promotions,
		"demotions":        m.Demotions,
		"disk_faults":      m.DiskFaults,
		"embedding_faults": m.EmbeddingFaults,
		"memory_items":     m.MemoryItems,
		"total_items":      m.TotalItems,
		"indexed_vectors":  m.IndexedVectors,
		"hit_rate":         m.HitRate(),
	}
}
