package blobcache

import (
	"io"
	"io/ioutil"

	"github.com/vrstage/prefetch/store"
)

// An EmptyCache always misses. The daemon uses it when no cache size is
// configured, so the serving path does not need a nil check.
type EmptyCache struct{}

var _ Cache = EmptyCache{}

// Contains always returns false.
func (EmptyCache) Contains(key string) bool { return false }

// Get always returns a cache miss.
func (EmptyCache) Get(key string) (store.ReadAtCloser, int64, error) {
	return nil, 0, nil
}

// Put returns a writer which discards its input. The item is not added.
func (EmptyCache) Put(key string) (io.WriteCloser, error) {
	return nopCloser{ioutil.Discard}, nil
}

// Delete does nothing.
func (EmptyCache) Delete(key string) error { return nil }

// Clear does nothing.
func (EmptyCache) Clear() error { return nil }

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
