// Package store provides a simple, goroutine safe key-value interface where
// values are streams instead of byte slices. The cached assets are large
// model and texture files, tens of megabytes each, so nothing here requires
// holding a whole value in memory.
//
// The FileSystem store is the one used in production. Memory is for testing
// and for running the daemon without persistence. S3 allows a group of
// machines to share one cache.
package store

import (
	"io"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store is the basic stream based key-value store. Values are immutable once
// written, but they may be deleted and the key reused.
//
// Keys are used directly as file names by the FileSystem store, so they must
// not contain a forward slash or whitespace. Asset identifiers are URLs and
// do not satisfy this; the content package hashes them into store keys.
type Store interface {
	// List returns a channel enumerating every key in the store.
	// The order is unspecified.
	List() <-chan string

	// ListPrefix returns every key beginning with the given prefix.
	ListPrefix(prefix string) ([]string, error)

	// Open returns a reader for the value of the given key along with the
	// value's size in bytes.
	Open(key string) (ReadAtCloser, int64, error)

	// Create makes a new entry and returns a writer to save data into it.
	// It is an error if the key already exists.
	Create(key string) (io.WriteCloser, error)

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(key string) error
}

// NewReader adapts an io.ReaderAt into an io.Reader starting at offset 0.
// Useful for consuming the ReadAtCloser returned by Open sequentially.
func NewReader(r io.ReaderAt) io.Reader {
	return &reader{r: r}
}

type reader struct {
	r   io.ReaderAt
	off int64
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// a short read is not an error for an io.Reader
		err = nil
	}
	return
}
