// Copyright 2026 The deep-search-agent Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cache

import (
	"bytes"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"
)

// Disk tier defaults.
const (
	DefaultMaxDiskSize   = 5000
	DefaultBatchSize     = 20
	DefaultFlushInterval = 30 * time.Second
)

// DiskBackend is the durable cold tier, backed by a SQLite database with
// a write-behind buffer: writes accumulate in memory and are persisted in
// one transaction when the buffer reaches the batch size or the flush
// interval elapses, whichever comes first. Reads consult the buffer
// before the database, so the tier is read-your-writes.
//
// Persist failures degrade rather than propagate: the buffered items stay
// readable in memory, the fault counter increments, and the next flush
// retries. Get always returns a value or a clean miss.
type DiskBackend struct {
	db   *sql.DB
	path string

	maxSize   int
	batchSize int

	// mu guards the buffer and all database access, including the
	// background flush goroutine.
	mu      sync.Mutex
	pending map[string]*Item
	deleted map[string]struct{}

	faults    atomic.Int64
	evictions atomic.Int64

	// onEvict, when set, receives the fingerprint of every
	// capacity-evicted row. Called with d.mu held; the handler must not
	// call back into the backend.
	onEvict func(key string)

	stopFlush chan struct{}
	flushDone chan struct{}
}

const diskSchema = `
CREATE TABLE IF NOT EXISTS cache_items (
	fingerprint      TEXT PRIMARY KEY,
	value            BLOB NOT NULL,
	metadata         TEXT,
	created_at       INTEGER NOT NULL,
	last_accessed_at INTEGER NOT NULL,
	access_count     INTEGER NOT NULL DEFAULT 0,
	quality          INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_cache_items_eviction ON cache_items(quality, last_accessed_at);
`

// NewDiskBackend opens (or creates) the SQLite store at path. A
// flushInterval > 0 starts a background flusher that persists the buffer
// on a timer; it shares the backend lock with foreground operations.
func NewDiskBackend(path string, maxSize, batchSize int, flushInterval time.Duration) (*DiskBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("disk cache path cannot be empty")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxDiskSize
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(diskSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	d := &DiskBackend{
		db:        db,
		path:      path,
		maxSize:   maxSize,
		batchSize: batchSize,
		pending:   make(map[string]*Item),
		deleted:   make(map[string]struct{}),
	}

	if flushInterval > 0 {
		d.stopFlush = make(chan struct{})
		d.flushDone = make(chan struct{})
		go d.flushLoop(flushInterval)
	}

	log.Infof("disk cache opened (path: %s, max: %d, batch: %d)", path, maxSize, batchSize)
	return d, nil
}

// SetEvictionHandler registers fn to observe capacity-evicted
// fingerprints. It must be set before the backend is shared across
// goroutines.
func (d *DiskBackend) SetEvictionHandler(fn func(key string)) {
	d.onEvict = fn
}

// Get returns the item for key, consulting the write buffer first.
func (d *DiskBackend) Get(key string) (*Item, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, gone := d.deleted[key]; gone {
		return nil, false
	}
	if it, ok := d.pending[key]; ok {
		return it, true
	}

	row := d.db.QueryRow(`
		SELECT fingerprint, value, metadata, created_at, last_accessed_at, access_count, quality
		FROM cache_items WHERE fingerprint = ?`, key)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		d.faults.Add(1)
		log.Warnf("disk cache read failed for %s: %v", shortKey(key), err)
		return nil, false
	}
	return it, true
}

// Set buffers the write. Reaching the batch size triggers an immediate
// persist; persist errors degrade to buffered-only operation.
func (d *DiskBackend) Set(key string, item *Item) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.deleted, key)
	d.pending[key] = item

	if len(d.pending) >= d.batchSize {
		if err := d.flushLocked(); err != nil {
			log.Warnf("disk cache batch flush failed, keeping writes buffered: %v", err)
		}
	}
}

// Delete removes key from the buffer and marks it for deletion from the
// database on the next flush.
func (d *DiskBackend) Delete(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, gone := d.deleted[key]; gone {
		return false
	}

	_, existed := d.pending[key]
	delete(d.pending, key)

	if !existed {
		var one int
		err := d.db.QueryRow(`SELECT 1 FROM cache_items WHERE fingerprint = ?`, key).Scan(&one)
		if err == sql.ErrNoRows {
			return false
		}
		if err != nil {
			d.faults.Add(1)
			log.Warnf("disk cache existence check failed for %s: %v", shortKey(key), err)
			return false
		}
	}

	d.deleted[key] = struct{}{}
	return true
}

// Clear drops the buffer and empties the database.
func (d *DiskBackend) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = make(map[string]*Item)
	d.deleted = make(map[string]struct{})
	if _, err := d.db.Exec(`DELETE FROM cache_items`); err != nil {
		d.faults.Add(1)
		log.Warnf("disk cache clear failed: %v", err)
	}
}

// Flush forces an immediate persist regardless of buffer state.
func (d *DiskBackend) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushLocked()
}

// Size returns the number of live items. The buffer is persisted first so
// the count reflects pending writes and deletes.
func (d *DiskBackend) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.flushLocked(); err != nil {
		log.Warnf("disk cache flush before size failed: %v", err)
	}

	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM cache_items`).Scan(&n); err != nil {
		d.faults.Add(1)
		log.Warnf("disk cache count failed: %v", err)
		return len(d.pending)
	}
	// Buffered writes that could not be persisted still count as live.
	return n + len(d.pending)
}

// Items returns a snapshot of all live items.
func (d *DiskBackend) Items() []*Item {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.flushLocked(); err != nil {
		log.Warnf("disk cache flush before scan failed: %v", err)
	}

	rows, err := d.db.Query(`
		SELECT fingerprint, value, metadata, created_at, last_accessed_at, access_count, quality
		FROM cache_items`)
	if err != nil {
		d.faults.Add(1)
		log.Warnf("disk cache scan failed: %v", err)
		return nil
	}
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			log.Warnf("disk cache row decode failed: %v", err)
			continue
		}
		out = append(out, it)
	}
	for _, it := range d.pending {
		out = append(out, it)
	}
	return out
}

// Faults returns the cumulative count of degraded disk operations.
func (d *DiskBackend) Faults() int64 { return d.faults.Load() }

// Evictions returns the cumulative count of capacity evictions.
func (d *DiskBackend) Evictions() int64 { return d.evictions.Load() }

// Close stops the background flusher, persists the buffer, and closes
// the database.
func (d *DiskBackend) Close() error {
	if d.stopFlush != nil {
		close(d.stopFlush)
		<-d.flushDone
		d.stopFlush = nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	flushErr := d.flushLocked()
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close cache database: %w", err)
	}
	return flushErr
}

// flushLoop persists the buffer on a timer until Close.
func (d *DiskBackend) flushLoop(interval time.Duration) {
	defer close(d.flushDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := d.Flush(); err != nil {
				log.Warnf("disk cache timed flush failed: %v", err)
			}
		case <-d.stopFlush:
			return
		}
	}
}

// flushLocked persists pending writes and deletes in one transaction and
// then enforces the capacity bound. Callers hold d.mu.
func (d *DiskBackend) flushLocked() error {
	if len(d.pending) == 0 && len(d.deleted) == 0 {
		return d.enforceCapacityLocked()
	}

	tx, err := d.db.Begin()
	if err != nil {
		d.faults.Add(1)
		return fmt.Errorf("failed to begin flush transaction: %w", err)
	}

	for key, it := range d.pending {
		value, metadata, err := encodeItem(it)
		if err != nil {
			log.Warnf("disk cache encode failed for %s, dropping from flush: %v", shortKey(key), err)
			continue
		}
		_, err = tx.Exec(`
			INSERT OR REPLACE INTO cache_items
				(fingerprint, value, metadata, created_at, last_accessed_at, access_count, quality)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			it.Fingerprint, value, metadata,
			it.CreatedAt.UnixNano(), it.LastAccessedAt.UnixNano(),
			it.AccessCount, it.Quality)
		if err != nil {
			tx.Rollback()
			d.faults.Add(1)
			return fmt.Errorf("failed to persist cache item: %w", err)
		}
	}
	for key := range d.deleted {
		if _, err := tx.Exec(`DELETE FROM cache_items WHERE fingerprint = ?`, key); err != nil {
			tx.Rollback()
			d.faults.Add(1)
			return fmt.Errorf("failed to delete cache item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		d.faults.Add(1)
		return fmt.Errorf("failed to commit flush: %w", err)
	}

	d.pending = make(map[string]*Item)
	d.deleted = make(map[string]struct{})

	return d.enforceCapacityLocked()
}

// enforceCapacityLocked evicts past-capacity rows, lowest quality first,
// then oldest last access.
func (d *DiskBackend) enforceCapacityLocked() error {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM cache_items`).Scan(&n); err != nil {
		d.faults.Add(1)
		return fmt.Errorf("failed to count cache items: %w", err)
	}
	if n <= d.maxSize {
		return nil
	}

	overflow := n - d.maxSize
	rows, err := d.db.Query(`
		SELECT fingerprint FROM cache_items
		ORDER BY quality ASC, last_accessed_at ASC
		LIMIT ?`, overflow)
	if err != nil {
		d.faults.Add(1)
		return fmt.Errorf("failed to select eviction victims: %w", err)
	}
	var victims []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			d.faults.Add(1)
			return fmt.Errorf("failed to scan eviction victim: %w", err)
		}
		victims = append(victims, key)
	}
	rows.Close()

	for _, key := range victims {
		if _, err := d.db.Exec(`DELETE FROM cache_items WHERE fingerprint = ?`, key); err != nil {
			d.faults.Add(1)
			return fmt.Errorf("failed to evict cache item: %w", err)
		}
		d.evictions.Add(1)
		if d.onEvict != nil {
			d.onEvict(key)
		}
	}
	if len(victims) > 0 {
		log.Debugf("disk tier evicted %d items over capacity %d", len(victims), d.maxSize)
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		it         Item
		value      []byte
		metadata   sql.NullString
		createdNs  int64
		accessedNs int64
	)
	err := row.Scan(&it.Fingerprint, &value, &metadata, &createdNs, &accessedNs, &it.AccessCount, &it.Quality)
	if err != nil {
		return nil, err
	}

	it.CreatedAt = time.Unix(0, createdNs)
	it.LastAccessedAt = time.Unix(0, accessedNs)

	decoded, err := decodeValue(value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cached value: %w", err)
	}
	it.Value = decoded

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &it.Metadata); err != nil {
			log.Warnf("failed to decode cache metadata for %s: %v", shortKey(it.Fingerprint), err)
		}
	}
	return &it, nil
}

// encodeItem serializes the value (JSON, gzip-compressed) and metadata
// (JSON text) for the BLOB and TEXT columns.
func encodeItem(it *Item) ([]byte, interface{}, error) {
	raw, err := json.Marshal(it.Value)
	if err != nil {
		return nil, nil, err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, nil, err
	}

	var metadata interface{}
	if it.Metadata != nil {
		m, err := json.Marshal(it.Metadata)
		if err != nil {
			log.Warnf("failed to encode cache metadata for %s: %v", shortKey(it.Fingerprint), err)
		} else {
			metadata = string(m)
		}
	}
	return buf.Bytes(), metadata, nil
}

func decodeValue(blob []byte) (interface{}, error) {
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}

	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return value, nil
}
