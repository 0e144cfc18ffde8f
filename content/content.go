// Package content implements the durable cache of downloaded asset bodies
// and the response headers they arrived with. It is keyed by asset
// identifier (the asset's URL) and backed by a store.Store, so the cache can
// live on disk, in memory, or in S3.
//
// Bodies and header sidecars are kept in two prefix namespaces of the same
// underlying store. A given identifier's entry is always replaced wholesale:
// Put deletes the old body and sidecar before writing new ones.
package content

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/vrstage/prefetch/store"
)

const (
	bodyPrefix   = "b"
	headerPrefix = "h"
)

// Cache is a content cache over a single backing store.
type Cache struct {
	body store.Store
	meta jsonStore
}

// New creates a content cache using s for its storage.
func New(s store.Store) *Cache {
	return &Cache{
		body: store.NewWithPrefix(s, bodyPrefix),
		meta: newJSON(store.NewWithPrefix(s, headerPrefix)),
	}
}

// Key returns the store key for an asset identifier. Identifiers are URLs,
// which contain characters the stores forbid in keys, so the hex MD5 of the
// identifier is used instead.
func Key(id string) string {
	digest := md5.Sum([]byte(id))
	return hex.EncodeToString(digest[:])
}

// Contains returns true if a body for the given identifier is in the cache.
func (c *Cache) Contains(id string) bool {
	r, _, err := c.body.Open(Key(id))
	if err != nil {
		return false
	}
	r.Close()
	return true
}

// Put returns a writer for saving the body of the given identifier. Any
// existing entry is removed first, so a replacement is all-or-nothing from
// the reader's point of view. The entry is visible once the writer is
// closed.
func (c *Cache) Put(id string) (io.WriteCloser, error) {
	key := Key(id)
	if err := c.body.Delete(key); err != nil {
		return nil, err
	}
	if err := c.meta.Delete(key); err != nil {
		return nil, err
	}
	return c.body.Create(key)
}

// SetHeader saves the original response headers for the given identifier.
func (c *Cache) SetHeader(id string, h http.Header) error {
	return c.meta.Save(Key(id), h)
}

// Header returns the stored response headers for the given identifier.
func (c *Cache) Header(id string) (http.Header, error) {
	var h http.Header
	err := c.meta.Open(Key(id), &h)
	return h, err
}

// Open returns a reader for the cached body of the given identifier along
// with its size.
func (c *Cache) Open(id string) (store.ReadAtCloser, int64, error) {
	return c.body.Open(Key(id))
}

// Delete removes the body and header sidecar for the given identifier.
// It is not an error if the identifier is not cached.
func (c *Cache) Delete(id string) error {
	key := Key(id)
	err := c.body.Delete(key)
	err2 := c.meta.Delete(key)
	if err == nil {
		err = err2
	}
	return err
}

// Clear removes every entry in this cache's namespaces. The caller sees it
// as emptying the whole cache; entries of other namespaces sharing the
// backing store are untouched.
func (c *Cache) Clear() error {
	var result error
	for key := range c.body.List() {
		if err := c.body.Delete(key); err != nil {
			result = err
		}
	}
	for key := range c.meta.List() {
		if err := c.meta.Delete(key); err != nil {
			result = err
		}
	}
	return result
}
