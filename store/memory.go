package store

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// Memory is an in-memory Store. It is used for tests and for the
// non-persistent variant of the daemon.
type Memory struct {
	m     sync.RWMutex
	store map[string][]byte
}

var _ Store = &Memory{}

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{store: make(map[string][]byte)}
}

// List returns a channel giving every key in the store. The listing is
// computed once when List is called; keys added afterward are not included.
func (ms *Memory) List() <-chan string {
	ms.m.RLock()
	keys := make([]string, 0, len(ms.store))
	for k := range ms.store {
		keys = append(keys, k)
	}
	ms.m.RUnlock()
	c := make(chan string)
	go func() {
		for _, k := range keys {
			c <- k
		}
		close(c)
	}()
	return c
}

// ListPrefix returns all the keys which begin with the given prefix.
func (ms *Memory) ListPrefix(prefix string) ([]string, error) {
	var result []string
	ms.m.RLock()
	for k := range ms.store {
		if strings.HasPrefix(k, prefix) {
			result = append(result, k)
		}
	}
	ms.m.RUnlock()
	return result, nil
}

// Open returns a reader for the given key and the value's size.
func (ms *Memory) Open(key string) (ReadAtCloser, int64, error) {
	ms.m.RLock()
	v, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, ErrNotFound
	}
	return membuf{bytes.NewReader(v)}, int64(len(v)), nil
}

type membuf struct {
	*bytes.Reader
}

func (membuf) Close() error { return nil }

// Create makes a new entry in the store. The data is committed when the
// returned writer is closed.
func (ms *Memory) Create(key string) (io.WriteCloser, error) {
	ms.m.Lock()
	defer ms.m.Unlock()
	if _, ok := ms.store[key]; ok {
		return nil, ErrKeyExists
	}
	// reserve the key so concurrent Creates conflict
	ms.store[key] = nil
	return &memwriter{parent: ms, key: key}, nil
}

type memwriter struct {
	parent *Memory
	key    string
	buf    bytes.Buffer
}

func (w *memwriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memwriter) Close() error {
	w.parent.m.Lock()
	w.parent.store[w.key] = w.buf.Bytes()
	w.parent.m.Unlock()
	return nil
}

// Delete the given key. It is not an error if the key does not exist.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.store, key)
	ms.m.Unlock()
	return nil
}
