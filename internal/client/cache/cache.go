// Package cache is the client-side persistent chunk cache, backed by an
// embedded badger key-value store. It is bounded in bytes and evicts whole
// content items (least recently used first), never a subset of one item's
// chunks, so reassembly can always finish once an item is cached. Content
// pinned by an active transfer is never evicted.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/askarin/cryptboard/internal/chunker"
	"github.com/askarin/cryptboard/internal/common"
	"github.com/dgraph-io/badger/v3"
)

const (
	chunkPrefix = "chunk/"
	metaPrefix  = "meta/"
)

type contentMeta struct {
	TotalChunks int   `json:"total_chunks"`
	Bytes       int64 `json:"bytes"`
	LastAccess  int64 `json:"last_access"`
}

type Cache struct {
	db       *badger.DB
	maxBytes int64

	mu     sync.Mutex
	pinned map[string]int
}

// Open opens (or creates) the cache at dir, bounded to maxBytes of chunk
// data. maxBytes <= 0 means unbounded.
func Open(dir string, maxBytes int64) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache open error: %w", err)
	}
	return &Cache{db: db, maxBytes: maxBytes, pinned: make(map[string]int)}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Clear drops every cached chunk and meta record. Used when the whole
// session is wiped.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.pinned = make(map[string]int)
	c.mu.Unlock()
	return c.db.DropAll()
}

func chunkKey(contentID string, index int) []byte {
	return []byte(chunkPrefix + contentID + "/" + fmt.Sprintf("%08d", index))
}

func metaKey(contentID string) []byte {
	return []byte(metaPrefix + contentID)
}

// Pin marks the content as owned by an active transfer, excluding it from
// eviction. Pins nest.
func (c *Cache) Pin(contentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned[contentID]++
}

func (c *Cache) Unpin(contentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinned[contentID] <= 1 {
		delete(c.pinned, contentID)
		return
	}
	c.pinned[contentID]--
}

func (c *Cache) isPinned(contentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinned[contentID] > 0
}

// PutChunk stores one chunk and touches the content's LRU clock. Storing
// the same index again just refreshes it.
func (c *Cache) PutChunk(contentID string, index, totalChunks int, data []byte) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		meta := contentMeta{TotalChunks: totalChunks}
		item, err := txn.Get(metaKey(contentID))
		switch {
		case err == nil:
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &meta) }); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		if _, err := txn.Get(chunkKey(contentID, index)); errors.Is(err, badger.ErrKeyNotFound) {
			meta.Bytes += int64(len(data))
		} else if err != nil {
			return err
		}

		if err := txn.Set(chunkKey(contentID, index), data); err != nil {
			return err
		}

		meta.LastAccess = time.Now().UnixNano()
		raw, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return txn.Set(metaKey(contentID), raw)
	})
	if err != nil {
		return fmt.Errorf("cache put error: %w", err)
	}
	return c.evictIfNeeded()
}

// GetChunk returns one cached chunk or common.ErrNotFound.
func (c *Cache) GetChunk(contentID string, index int) ([]byte, error) {
	var data []byte
	err := c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(contentID, index))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return common.ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return c.touch(txn, contentID)
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Cache) touch(txn *badger.Txn, contentID string) error {
	item, err := txn.Get(metaKey(contentID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var meta contentMeta
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &meta) }); err != nil {
		return err
	}
	meta.LastAccess = time.Now().UnixNano()
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return txn.Set(metaKey(contentID), raw)
}

// MissingIndices reports which of the 0..totalChunks-1 indices are not yet
// cached, allowing reassembly planning independent of arrival order.
func (c *Cache) MissingIndices(contentID string, totalChunks int) ([]int, error) {
	present := make(map[int]struct{})

	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(chunkPrefix + contentID + "/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			idx, err := strconv.Atoi(strings.TrimPrefix(key, string(prefix)))
			if err != nil {
				continue
			}
			present[idx] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var missing []int
	for i := 0; i < totalChunks; i++ {
		if _, ok := present[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing, nil
}

// GetAll returns every cached chunk of the content in index order. The read
// runs inside one badger transaction, so reassembly sees a stable snapshot.
// Returns common.ErrNotFound wrapped when any index is missing.
func (c *Cache) GetAll(contentID string, totalChunks int) ([]chunker.Chunk, error) {
	chunks := make([]chunker.Chunk, 0, totalChunks)

	err := c.db.View(func(txn *badger.Txn) error {
		for i := 0; i < totalChunks; i++ {
			item, err := txn.Get(chunkKey(contentID, i))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: chunk %d", common.ErrNotFound, i)
			}
			if err != nil {
				return err
			}
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			chunks = append(chunks, chunker.Chunk{Index: i, Data: data})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// DeleteContent drops the content's chunks and bookkeeping. Idempotent.
func (c *Cache) DeleteContent(contentID string) error {
	var keys [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()

		prefix := []byte(chunkPrefix + contentID + "/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	return c.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Delete(metaKey(contentID))
	})
}

type lruEntry struct {
	contentID  string
	bytes      int64
	lastAccess int64
}

// evictIfNeeded removes least-recently-used unpinned content items until
// the cache fits maxBytes again.
func (c *Cache) evictIfNeeded() error {
	if c.maxBytes <= 0 {
		return nil
	}

	var entries []lruEntry
	var total int64

	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(metaPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			contentID := strings.TrimPrefix(string(it.Item().Key()), metaPrefix)
			var meta contentMeta
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &meta) }); err != nil {
				return err
			}
			entries = append(entries, lruEntry{contentID: contentID, bytes: meta.Bytes, lastAccess: meta.LastAccess})
			total += meta.Bytes
		}
		return nil
	})
	if err != nil {
		return err
	}

	if total <= c.maxBytes {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].lastAccess < entries[j].lastAccess })

	for _, e := range entries {
		if total <= c.maxBytes {
			break
		}
		if c.isPinned(e.contentID) {
			continue
		}
		if err := c.DeleteContent(e.contentID); err != nil {
			return err
		}
		total -= e.bytes
	}
	return nil
}
