package blobcache

import (
	"io"
)

// writer saves a new item into the cache. Space is reserved write by write,
// so evictions happen while the content streams in and the bound is never
// exceeded.
type writer struct {
	parent        *LRU
	key           string
	w             io.WriteCloser
	size          int64
	deleteOnClose bool
}

func (w *writer) Write(p []byte) (int, error) {
	err := w.parent.reserve(int64(len(p)))
	if err != nil {
		if err == ErrCacheFull {
			w.deleteOnClose = true
		}
		return 0, err
	}
	w.size += int64(len(p))
	return w.w.Write(p)
}

func (w *writer) Close() error {
	err := w.w.Close()
	if err != nil || w.deleteOnClose {
		w.parent.discard(w)
		return err
	}
	w.parent.save(w)
	return nil
}
