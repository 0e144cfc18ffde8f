package mdstore

import (
	"sync"
	"time"
)

// Memory is a metadata store kept entirely in memory. Nothing survives a
// restart; it exists for tests and for running without persistence.
type Memory struct {
	m       sync.RWMutex
	records map[string]Record
}

var _ Store = &Memory{}

// NewMemory returns a new, empty memory metadata store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (ms *Memory) Get(id string) (*Record, error) {
	ms.m.RLock()
	r, ok := ms.records[id]
	ms.m.RUnlock()
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (ms *Memory) Put(r Record) error {
	if r.DownloadedAt.IsZero() {
		r.DownloadedAt = time.Now()
	}
	ms.m.Lock()
	ms.records[r.ID] = r
	ms.m.Unlock()
	return nil
}

func (ms *Memory) GetAll() ([]Record, error) {
	ms.m.RLock()
	result := make([]Record, 0, len(ms.records))
	for _, r := range ms.records {
		result = append(result, r)
	}
	ms.m.RUnlock()
	return result, nil
}

func (ms *Memory) Clear() error {
	ms.m.Lock()
	ms.records = make(map[string]Record)
	ms.m.Unlock()
	return nil
}
