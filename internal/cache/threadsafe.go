// Copyright 2026 The deep-search-agent Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"sync"
)

// ThreadSafeBackend serializes every logical operation on the wrapped
// backend under one mutex. It composes around any Backend variant;
// unrelated backend instances are not serialized against each other.
type ThreadSafeBackend struct {
	mu    sync.Mutex
	inner Backend
}

// NewThreadSafeBackend wraps inner with mutual exclusion.
func NewThreadSafeBackend(inner Backend) *ThreadSafeBackend {
	return &ThreadSafeBackend{inner: inner}
}

func (t *ThreadSafeBackend) Get(key string) (*Item, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.Get(key)
}

func (t *ThreadSafeBackend) Set(key string, item *Item) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inner.Set(key, item)
}

func (t *ThreadSafeBackend) Delete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.Delete(key)
}

func (t *ThreadSafeBackend) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inner.Clear()
}

func (t *ThreadSafeBackend) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.Flush()
}

func (t *ThreadSafeBackend) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.Size()
}

func (t *ThreadSafeBackend) Items() []*Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.Items()
}

func (t *ThreadSafeBackend) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.Close()
}

// Faults forwards the wrapped backend's fault counter when it has one.
func (t *ThreadSafeBackend) Faults() int64 {
	if fc, ok := t.inner.(faultCounter); ok {
		return fc.Faults()
	}
	return 0
}
