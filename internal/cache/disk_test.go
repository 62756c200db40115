// Copyright 2026 The deep-search-agent Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDisk(t *testing.T, maxSize, batchSize int) *DiskBackend {
	t.Helper()
	d, err := NewDiskBackend(filepath.Join(t.TempDir(), "cache.db"), maxSize, batchSize, 0)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestNewDiskBackendValidation(t *testing.T) {
	_, err := NewDiskBackend("", 10, 5, 0)
	assert.Error(t, err)
}

func TestDiskBackendReadYourWrites(t *testing.T) {
	d := newTestDisk(t, 100, 50)

	// Batch size 50: nothing persists yet, but reads must see the
	// buffered write.
	d.Set("k1", NewItem("k1", "buffered value", nil))

	got, ok := d.Get("k1")
	require.True(t, ok, "buffered write must be readable before flush")
	assert.Equal(t, "buffered value", got.Value)
}

func TestDiskBackendBatchTriggersFlush(t *testing.T) {
	d := newTestDisk(t, 100, 2)

	d.Set("k1", NewItem("k1", "v1", nil))
	d.Set("k2", NewItem("k2", "v2", nil))

	// The second write reached the batch size; the buffer is now
	// persisted and empty.
	d.mu.Lock()
	pending := len(d.pending)
	d.mu.Unlock()
	assert.Zero(t, pending, "reaching batch size must persist the buffer")

	got, ok := d.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", got.Value)
}

func TestDiskBackendRestartRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	d, err := NewDiskBackend(path, 100, 10, 0)
	require.NoError(t, err)

	it := NewItem("k1", "persisted answer", map[string]interface{}{"keywords": "graph"})
	it.Quality = 3
	it.AccessCount = 7
	d.Set("k1", it)
	require.NoError(t, d.Flush())
	require.NoError(t, d.Close())

	// Reopen: everything flushed must come back with identical values
	// and metadata.
	d2, err := NewDiskBackend(path, 100, 10, 0)
	require.NoError(t, err)
	defer d2.Close()

	got, ok := d2.Get("k1")
	require.True(t, ok, "flushed item must survive restart")
	assert.Equal(t, "persisted answer", got.Value)
	assert.Equal(t, 3, got.Quality)
	assert.Equal(t, int64(7), got.AccessCount)
	assert.Equal(t, "graph", got.Metadata["keywords"])
}

func TestDiskBackendCloseFlushesBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	d, err := NewDiskBackend(path, 100, 50, 0)
	require.NoError(t, err)
	d.Set("k1", NewItem("k1", "v1", nil))
	require.NoError(t, d.Close())

	d2, err := NewDiskBackend(path, 100, 50, 0)
	require.NoError(t, err)
	defer d2.Close()

	_, ok := d2.Get("k1")
	assert.True(t, ok, "close must persist the buffer")
}

func TestDiskBackendQualityFirstEviction(t *testing.T) {
	d := newTestDisk(t, 3, 1)
	base := time.Now()

	for i, quality := range []int{5, -2, 1} {
		key := fmt.Sprintf("k%d", i)
		it := NewItem(key, "v", nil)
		it.Quality = quality
		it.LastAccessedAt = base.Add(time.Duration(i) * time.Second)
		d.Set(key, it)
	}

	// Over capacity: the lowest-quality item goes first regardless of
	// recency.
	extra := NewItem("k3", "v", nil)
	extra.Quality = 0
	d.Set("k3", extra)
	require.NoError(t, d.Flush())

	_, ok := d.Get("k1")
	assert.False(t, ok, "lowest-quality item should be evicted first")
	for _, key := range []string{"k0", "k2", "k3"} {
		_, ok := d.Get(key)
		assert.True(t, ok, "%s should have survived", key)
	}
}

func TestDiskBackendEvictionHandlerObservesVictims(t *testing.T) {
	d := newTestDisk(t, 2, 1)

	var evicted []string
	d.SetEvictionHandler(func(key string) { evicted = append(evicted, key) })

	base := time.Now()
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("k%d", i)
		it := NewItem(key, "v", nil)
		it.LastAccessedAt = base.Add(time.Duration(i) * time.Second)
		d.Set(key, it)
	}
	require.NoError(t, d.Flush())

	// Capacity 2 with equal quality: the oldest-accessed item was
	// evicted and the handler saw its fingerprint.
	assert.Equal(t, []string{"k0"}, evicted)
	_, ok := d.Get("k0")
	assert.False(t, ok)
}

func TestDiskBackendDelete(t *testing.T) {
	d := newTestDisk(t, 100, 1)

	d.Set("k1", NewItem("k1", "v1", nil))
	require.NoError(t, d.Flush())

	assert.True(t, d.Delete("k1"))
	_, ok := d.Get("k1")
	assert.False(t, ok, "deleted key must miss before the delete is flushed")

	require.NoError(t, d.Flush())
	_, ok = d.Get("k1")
	assert.False(t, ok)

	assert.False(t, d.Delete("absent"))
}

func TestDiskBackendDeleteBufferedWrite(t *testing.T) {
	d := newTestDisk(t, 100, 50)

	d.Set("k1", NewItem("k1", "v1", nil))
	assert.True(t, d.Delete("k1"), "buffered write counts as existing")
	_, ok := d.Get("k1")
	assert.False(t, ok)
}

func TestDiskBackendClear(t *testing.T) {
	d := newTestDisk(t, 100, 1)
	d.Set("k1", NewItem("k1", "v1", nil))
	d.Set("k2", NewItem("k2", "v2", nil))

	d.Clear()
	assert.Zero(t, d.Size())
}

func TestDiskBackendSizeCountsBufferAndRows(t *testing.T) {
	d := newTestDisk(t, 100, 2)

	d.Set("k1", NewItem("k1", "v1", nil))
	d.Set("k2", NewItem("k2", "v2", nil)) // persists both
	d.Set("k3", NewItem("k3", "v3", nil)) // buffered

	assert.Equal(t, 3, d.Size())
}

func TestDiskBackendItems(t *testing.T) {
	d := newTestDisk(t, 100, 1)
	d.Set("k1", NewItem("k1", "v1", nil))
	d.Set("k2", NewItem("k2", "v2", nil))

	items := d.Items()
	assert.Len(t, items, 2)
}

func TestDiskBackendTimedFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	d, err := NewDiskBackend(path, 100, 50, 20*time.Millisecond)
	require.NoError(t, err)
	defer d.Close()

	d.Set("k1", NewItem("k1", "v1", nil))

	assert.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.pending) == 0
	}, time.Second, 10*time.Millisecond, "background flusher should drain the buffer")
}

func TestDiskBackendNonStringValueRoundTrip(t *testing.T) {
	d := newTestDisk(t, 100, 1)

	d.Set("k1", NewItem("k1", map[string]interface{}{"answer": "text", "score": 0.9}, nil))
	require.NoError(t, d.Flush())

	got, ok := d.Get("k1")
	require.True(t, ok)
	value, ok := got.Value.(map[string]interface{})
	require.True(t, ok, "structured values round-trip as generic JSON")
	assert.Equal(t, "text", value["answer"])
	assert.Equal(t, 0.9, value["score"])
}
