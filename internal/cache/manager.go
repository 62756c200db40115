// Copyright 2026 The deep-search-agent Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/wisdom-pan/deep-search-agent/internal/embedding"
)

// DefaultSimilarityThreshold is the minimum cosine similarity accepted
// for a vector hit.
const DefaultSimilarityThreshold = 0.8

// Config selects the manager's strategy, backend tiers, and similarity
// behavior. Invalid settings fail at construction; nothing at runtime
// re-validates them.
type Config struct {
	// KeyStrategy is one of simple, global, context_aware,
	// context_and_keyword_aware. Empty means context_aware.
	KeyStrategy string

	// ContextWindow is the number of history turns folded into
	// context-aware keys.
	ContextWindow int

	// MemoryOnly disables the disk tier entirely.
	MemoryOnly bool

	// MaxMemorySize bounds the hot tier item count.
	MaxMemorySize int

	// MaxDiskSize bounds the cold tier item count.
	MaxDiskSize int

	// DiskPath locates the SQLite file for the cold tier.
	DiskPath string

	// BatchSize and FlushInterval tune the cold tier's write-behind
	// path.
	BatchSize     int
	FlushInterval time.Duration

	// DiscardQualityThreshold drops demoted items rated below it. The
	// zero value keeps neutral items and discards anything negatively
	// rated; set a negative value to let low-rated items reach disk.
	DiscardQualityThreshold int

	// ThreadSafe wraps the backend in a ThreadSafeBackend and serializes
	// manager operations. On by default; construction applies the
	// default before validation.
	ThreadSafe *bool

	// EnableVectorSimilarity turns on embedding-based matching.
	// Requires Provider.
	EnableVectorSimilarity bool

	// SimilarityThreshold is the minimum accepted match score, in [0,1].
	SimilarityThreshold float64

	// MaxVectors bounds the vector index.
	MaxVectors int

	// Provider supplies embeddings. Required when similarity is on.
	Provider embedding.Provider

	// Validator overrides the default answer heuristic.
	Validator ValidatorFunc
}

// applyDefaults fills zero values in place.
func (c *Config) applyDefaults() {
	if c.KeyStrategy == "" {
		c.KeyStrategy = "context_aware"
	}
	if c.ContextWindow == 0 {
		c.ContextWindow = DefaultContextWindow
	}
	if c.MaxMemorySize == 0 {
		c.MaxMemorySize = DefaultMaxMemorySize
	}
	if c.MaxDiskSize == 0 {
		c.MaxDiskSize = DefaultMaxDiskSize
	}
	if c.DiskPath == "" {
		c.DiskPath = "cache/cache.db"
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.MaxVectors == 0 {
		c.MaxVectors = DefaultMaxVectors
	}
	if c.ThreadSafe == nil {
		enabled := true
		c.ThreadSafe = &enabled
	}
	if c.Validator == nil {
		c.Validator = DefaultValidator
	}
}

// Validate reports configuration errors. These are the only fatal
// errors in the cache; everything after construction degrades.
func (c *Config) Validate() error {
	if StrategyByName(c.KeyStrategy, c.ContextWindow) == nil {
		return fmt.Errorf("unknown key strategy %q", c.KeyStrategy)
	}
	if c.ContextWindow < 1 {
		return fmt.Errorf("context window must be positive, got %d", c.ContextWindow)
	}
	if c.MaxMemorySize < 1 {
		return fmt.Errorf("max memory size must be positive, got %d", c.MaxMemorySize)
	}
	if c.MaxDiskSize < 1 {
		return fmt.Errorf("max disk size must be positive, got %d", c.MaxDiskSize)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.BatchSize > c.MaxDiskSize {
		return fmt.Errorf("batch size %d exceeds max disk size %d", c.BatchSize, c.MaxDiskSize)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in [0,1], got %v", c.SimilarityThreshold)
	}
	if c.MaxVectors < 1 {
		return fmt.Errorf("max vectors must be positive, got %d", c.MaxVectors)
	}
	if c.EnableVectorSimilarity && c.Provider == nil {
		return fmt.Errorf("vector similarity enabled without an embedding provider")
	}
	return nil
}

// Manager is the cache façade. It composes a key strategy, a storage
// backend, and an optional vector index, and owns the pairing between
// the latter two: items and their embeddings are inserted and removed
// together.
//
// A single Manager (with its embedded backend and index) is the unit of
// sharing between goroutines; distinct managers share nothing. Construct
// one at startup and pass the handle explicitly.
type Manager struct {
	id       string
	strategy KeyStrategy
	backend  Backend
	index    *VectorIndex
	provider embedding.Provider

	threshold float64
	validator ValidatorFunc

	// hybrid is retained for tier metrics when the backend is tiered.
	hybrid *HybridBackend

	// mu serializes logical operations so backend and index mutations
	// stay paired. nil when the manager was configured single-threaded.
	mu *sync.Mutex

	metricsMu       sync.Mutex
	exactHits       int64
	vectorHits      int64
	misses          int64
	totalQueries    int64
	embeddingFaults int64

	logger *log.Entry
}

// NewManager builds a cache manager from the configuration. It is the
// only operation that returns configuration errors; runtime faults after
// this point degrade to misses.
func NewManager(cfg Config) (*Manager, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}

	m := &Manager{
		id:        uuid.NewString()[:8],
		strategy:  StrategyByName(cfg.KeyStrategy, cfg.ContextWindow),
		provider:  cfg.Provider,
		threshold: cfg.SimilarityThreshold,
		validator: cfg.Validator,
	}
	m.logger = log.WithField("cache", m.id)

	memory := NewMemoryBackend(cfg.MaxMemorySize)
	var backend Backend = memory
	var disk *DiskBackend
	if !cfg.MemoryOnly {
		var err error
		disk, err = NewDiskBackend(cfg.DiskPath, cfg.MaxDiskSize, cfg.BatchSize, cfg.FlushInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to open disk tier: %w", err)
		}
		m.hybrid = NewHybridBackend(memory, disk, cfg.DiscardQualityThreshold)
		backend = m.hybrid
	}
	if *cfg.ThreadSafe {
		backend = NewThreadSafeBackend(backend)
		m.mu = &sync.Mutex{}
	}
	m.backend = backend

	if cfg.EnableVectorSimilarity {
		m.index = NewVectorIndex(cfg.MaxVectors)
		// An index eviction orphans the stored item's embedding, so the
		// paired item goes with it.
		m.index.SetEvictionHandler(func(key string) {
			m.backend.Delete(key)
			m.logger.Debugf("dropped %s with its evicted vector", shortKey(key))
		})
		// The reverse direction holds too: when storage destroys an item
		// (eviction past capacity, discard on demotion), its embedding
		// leaves the index with it.
		if cfg.MemoryOnly {
			memory.SetEvictionHandler(func(it *Item) {
				m.index.Remove(it.Fingerprint)
			})
		} else {
			m.hybrid.SetDiscardHandler(func(it *Item) {
				m.index.Remove(it.Fingerprint)
			})
			disk.SetEvictionHandler(func(key string) {
				m.index.Remove(key)
			})
		}
	}

	m.logger.Infof("cache manager ready (strategy: %s, memory_only: %v, similarity: %v)",
		cfg.KeyStrategy, cfg.MemoryOnly, cfg.EnableVectorSimilarity)
	return m, nil
}

// GetOption tweaks a single lookup.
type GetOption func(*getOptions)

type getOptions struct {
	skipValidation bool
}

// SkipValidation disables answer validation for this lookup.
func SkipValidation() GetOption {
	return func(o *getOptions) { o.skipValidation = true }
}

// Get returns the cached value for the query, trying an exact
// fingerprint match first and falling back to embedding similarity when
// enabled. Hits bump access bookkeeping and pass answer validation
// unless skipped. Faults of any kind surface as a miss.
func (m *Manager) Get(ctx context.Context, query string, info *ContextualInfo, opts ...GetOption) (interface{}, bool) {
	return m.lookup(ctx, query, info, false, opts...)
}

// GetFast is Get restricted to items whose quality is non-negative,
// trading recall for confidence in previously confirmed answers.
func (m *Manager) GetFast(ctx context.Context, query string, info *ContextualInfo, opts ...GetOption) (interface{}, bool) {
	return m.lookup(ctx, query, info, true, opts...)
}

func (m *Manager) lookup(ctx context.Context, query string, info *ContextualInfo, fastOnly bool, opts ...GetOption) (interface{}, bool) {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	m.lock()
	defer m.unlock()

	key := m.strategy.ComputeKey(query, info)

	item, ok := m.backend.Get(key)
	exact := ok
	if !ok && m.index != nil {
		item, ok = m.similarityLookup(ctx, query)
	}

	if !ok {
		m.countMiss()
		return nil, false
	}
	if fastOnly && item.Quality < 0 {
		m.logger.Debugf("fast lookup rejected %s (quality=%d)", shortKey(item.Fingerprint), item.Quality)
		m.countMiss()
		return nil, false
	}
	if !o.skipValidation {
		if answer, isString := item.Value.(string); isString && !m.validator(query, answer) {
			m.logger.Debugf("validation rejected cached answer for %s", shortKey(item.Fingerprint))
			m.countMiss()
			return nil, false
		}
	}

	item.Touch()
	m.backend.Set(item.Fingerprint, item)

	if exact {
		m.ensureIndexed(ctx, query, item.Fingerprint)
		m.countExactHit()
	} else {
		m.countVectorHit()
	}
	return item.Value, true
}

// similarityLookup resolves the query through the vector index. A
// concurrent eviction can leave the index pointing at a gone item; that
// is a miss, not an error.
func (m *Manager) similarityLookup(ctx context.Context, query string) (*Item, bool) {
	vec, err := m.provider.Embed(ctx, query)
	if err != nil {
		m.countEmbeddingFault()
		m.logger.Warnf("embedding unavailable, exact-only lookup: %v", err)
		return nil, false
	}

	matches := m.index.Search(vec, 1)
	if len(matches) == 0 || matches[0].Score < m.threshold {
		return nil, false
	}

	item, ok := m.backend.Get(matches[0].Key)
	if !ok {
		// The item raced away between search and lookup; drop the stale
		// vector so it cannot shadow live entries on later searches.
		m.index.Remove(matches[0].Key)
		m.logger.Debugf("vector match %s no longer stored, treating as miss", shortKey(matches[0].Key))
		return nil, false
	}
	m.logger.Debugf("vector hit %s (score=%.3f)", shortKey(matches[0].Key), matches[0].Score)
	return item, true
}

// ensureIndexed lazily re-embeds items that came back from a disk
// reload and are not yet in the vector index.
func (m *Manager) ensureIndexed(ctx context.Context, query, key string) {
	if m.index == nil || m.index.Contains(key) {
		return
	}
	vec, err := m.provider.Embed(ctx, query)
	if err != nil {
		m.countEmbeddingFault()
		m.logger.Debugf("lazy re-embed failed for %s: %v", shortKey(key), err)
		return
	}
	m.index.Insert(key, vec)
}

// Set stores the value under the query's fingerprint, overwriting any
// existing entry (quality resets to neutral) and indexing the query
// embedding when similarity is enabled. Storage faults degrade
// internally; Set never fails from the caller's point of view.
func (m *Manager) Set(ctx context.Context, query string, value interface{}, info *ContextualInfo, metadata map[string]interface{}) {
	m.lock()
	defer m.unlock()

	key := m.strategy.ComputeKey(query, info)
	m.backend.Set(key, NewItem(key, value, metadata))

	if m.index == nil {
		return
	}
	vec, err := m.provider.Embed(ctx, query)
	if err != nil {
		m.countEmbeddingFault()
		m.logger.Warnf("stored %s without embedding: %v", shortKey(key), err)
		return
	}
	m.index.Insert(key, vec)
}

// Delete removes the entry and its embedding. It reports whether an
// item existed.
func (m *Manager) Delete(query string, info *ContextualInfo) bool {
	m.lock()
	defer m.unlock()

	key := m.strategy.ComputeKey(query, info)
	existed := m.backend.Delete(key)
	if m.index != nil {
		m.index.Remove(key)
	}
	return existed
}

// MarkQuality applies one unit of feedback to the exact entry for the
// query. There is deliberately no similarity fallback: feedback must
// target a specific cached answer. Returns false when no entry exists.
func (m *Manager) MarkQuality(query string, positive bool, info *ContextualInfo) bool {
	m.lock()
	defer m.unlock()

	key := m.strategy.ComputeKey(query, info)
	item, ok := m.backend.Get(key)
	if !ok {
		return false
	}
	item.AdjustQuality(positive)
	m.backend.Set(key, item)
	m.logger.Debugf("quality for %s now %d", shortKey(key), item.Quality)
	return true
}

// ValidateAnswer applies the supplied predicate, or the configured
// default heuristic, without touching cache state.
func (m *Manager) ValidateAnswer(query, answer string, validator ValidatorFunc) bool {
	if validator == nil {
		validator = m.validator
	}
	return validator(query, answer)
}

// Clear empties the backend and the vector index.
func (m *Manager) Clear() {
	m.lock()
	defer m.unlock()

	m.backend.Clear()
	if m.index != nil {
		m.index.Clear()
	}
	m.logger.Info("cache cleared")
}

// Flush forces the durable write path to complete.
func (m *Manager) Flush() error {
	m.lock()
	defer m.unlock()
	return m.backend.Flush()
}

// Close flushes and releases backend resources. The manager must not be
// used afterwards.
func (m *Manager) Close() error {
	m.lock()
	defer m.unlock()
	return m.backend.Close()
}

// Metrics returns a snapshot of the cumulative counters.
func (m *Manager) Metrics() Metrics {
	m.metricsMu.Lock()
	snapshot := Metrics{
		ExactHits:       m.exactHits,
		VectorHits:      m.vectorHits,
		Misses:          m.misses,
		TotalQueries:    m.totalQueries,
		EmbeddingFaults: m.embeddingFaults,
	}
	m.metricsMu.Unlock()

	if fc, ok := m.backend.(faultCounter); ok {
		snapshot.DiskFaults = fc.Faults()
	}
	if m.hybrid != nil {
		snapshot.Promotions = m.hybrid.Promotions()
		snapshot.Demotions = m.hybrid.Demotions()
		snapshot.MemoryItems = m.hybrid.MemorySize()
	}
	snapshot.TotalItems = m.backend.Size()
	if m.hybrid == nil {
		snapshot.MemoryItems = snapshot.TotalItems
	}
	if m.index != nil {
		snapshot.IndexedVectors = m.index.Size()
	}
	return snapshot
}

func (m *Manager) lock() {
	if m.mu != nil {
		m.mu.Lock()
	}
}

func (m *Manager) unlock() {
	if m.mu != nil {
		m.mu.Unlock()
	}
}

func (m *Manager) countExactHit() {
	m.metricsMu.Lock()
	m.exactHits++
	m.totalQueries++
	m.metricsMu.Unlock()
}

func (m *Manager) countVectorHit() {
	m.metricsMu.Lock()
	m.vectorHits++
	m.totalQueries++
	m.metricsMu.Unlock()
}

func (m *Manager) countMiss() {
	m.metricsMu.Lock()
	m.misses++
	m.totalQueries++
	m.metricsMu.Unlock()
}

func (m *Manager) countEmbeddingFault() {
	m.metricsMu.Lock()
	m.embeddingFaults++
	m.metricsMu.Unlock()
}
