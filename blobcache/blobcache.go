// Package blobcache implements a size-bounded cache of asset bodies backed
// by a store. The proxy daemon uses one for the namespace it fills on
// demand, so a long-running instance cannot grow its disk use without bound.
//
// The cached contents live in the store; the usage list is kept in memory
// only. Call Scan after creating a cache over a store which may already hold
// items. Replacement is LRU.
package blobcache

import (
	"container/list"
	"errors"
	"io"
	"sync"

	"github.com/vrstage/prefetch/store"
)

// Cache is the interface shared by the LRU cache and the EmptyCache.
type Cache interface {
	Contains(key string) bool
	Get(key string) (store.ReadAtCloser, int64, error)
	Put(key string) (io.WriteCloser, error)
	Delete(key string) error
	Clear() error
}

// ErrCacheFull means an item is too big: the cache cannot evict enough to
// make room for it.
var ErrCacheFull = errors.New("cache is full and no more items can be removed")

// LRU is a bounded cache with least-recently-used eviction.
type LRU struct {
	s store.Store

	m sync.RWMutex // protects everything below

	// bytes used by the cache contents. 0 until Scan or the first Put.
	size int64

	maxSize int64

	// front is most recent, back is next to be evicted
	lru   *list.List
	index map[string]*list.Element
}

type entry struct {
	key  string
	size int64
}

var _ Cache = &LRU{}

// NewLRU creates a cache storing items in s and using at most maxSize bytes.
// The store may already have items in it; call Scan, inline or in a
// goroutine, to pick them up.
func NewLRU(s store.Store, maxSize int64) *LRU {
	return &LRU{
		s:       s,
		maxSize: maxSize,
		lru:     list.New(),
		index:   make(map[string]*list.Element),
	}
}

// Scan enumerates the items in the backing store and adds them to the usage
// list. Items too large for the cache are deleted. Blocks until finished.
func (t *LRU) Scan() {
	for key := range t.s.List() {
		if t.Contains(key) {
			continue
		}
		rc, size, err := t.s.Open(key)
		if err != nil {
			continue
		}
		rc.Close()
		if t.reserve(size) != nil {
			// no room for this item
			t.s.Delete(key)
			continue
		}
		t.m.Lock()
		t.index[key] = t.lru.PushFront(entry{key: key, size: size})
		t.m.Unlock()
	}
}

// Contains returns true if the given key is in the cache. It does not update
// the usage list, and the key may be evicted before a following Get.
func (t *LRU) Contains(key string) bool {
	t.m.RLock()
	_, ok := t.index[key]
	t.m.RUnlock()
	return ok
}

// Get returns a reader for the given item and marks it recently used. A
// cache miss is not an error: the reader is nil and the error is nil.
func (t *LRU) Get(key string) (store.ReadAtCloser, int64, error) {
	t.m.Lock()
	e, ok := t.index[key]
	if ok {
		t.lru.MoveToFront(e)
	}
	t.m.Unlock()
	if !ok {
		return nil, 0, nil
	}
	return t.s.Open(key)
}

// Put returns a writer which saves its content in the cache under the given
// key. Items are evicted as content is written, so the cache never exceeds
// its bound. The item is not added to the usage list until the writer is
// closed. Putting a key already present is an error until it is evicted.
func (t *LRU) Put(key string) (io.WriteCloser, error) {
	if t.Contains(key) {
		return nil, store.ErrKeyExists
	}
	w, err := t.s.Create(key)
	if err != nil {
		return nil, err
	}
	return &writer{parent: t, key: key, w: w}, nil
}

// Delete removes the given item from the cache.
func (t *LRU) Delete(key string) error {
	t.m.Lock()
	defer t.m.Unlock()
	return t.remove(key)
}

// remove deletes the item from the store and the usage list. The lock must
// be held.
func (t *LRU) remove(key string) error {
	e, ok := t.index[key]
	if !ok {
		return nil
	}
	ent := t.lru.Remove(e).(entry)
	delete(t.index, key)
	t.size -= ent.size
	return t.s.Delete(key)
}

// Clear removes everything in the cache.
func (t *LRU) Clear() error {
	t.m.Lock()
	defer t.m.Unlock()
	var result error
	for key := range t.index {
		if err := t.remove(key); err != nil {
			result = err
		}
	}
	return result
}

// Size returns the bytes currently used by the cache.
func (t *LRU) Size() int64 {
	t.m.RLock()
	defer t.m.RUnlock()
	return t.size
}

// MaxSize returns the cache's size bound.
func (t *LRU) MaxSize() int64 {
	return t.maxSize
}

// save adds a finished write to the usage list.
func (t *LRU) save(w *writer) {
	t.m.Lock()
	t.index[w.key] = t.lru.PushFront(entry{key: w.key, size: w.size})
	t.m.Unlock()
}

// discard forgets a write that failed. The reservation made while writing is
// returned.
func (t *LRU) discard(w *writer) {
	t.reserve(-w.size)
	t.s.Delete(w.key)
}

// reserve claims space for size bytes, evicting items as needed to stay
// under maxSize. size may be negative to return a previous reservation.
// Nothing is reserved on error.
func (t *LRU) reserve(size int64) error {
	t.m.Lock()
	defer t.m.Unlock()
	t.size += size
	for t.size > t.maxSize {
		e := t.lru.Back()
		if e == nil {
			t.size -= size
			return ErrCacheFull
		}
		ent := e.Value.(entry)
		if err := t.remove(ent.key); err != nil {
			t.size -= size
			return err
		}
	}
	return nil
}
