package mdstore

import (
	"path/filepath"
	"testing"
	"time"
)

func runStore(t *testing.T, s Store) {
	// empty store
	r, err := s.Get("https://assets.example.com/env.glb")
	if err != nil {
		t.Fatalf("Get on empty store: %s", err.Error())
	}
	if r != nil {
		t.Fatalf("Get on empty store returned %v", r)
	}
	all, err := s.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %s", err.Error())
	}
	if len(all) != 0 {
		t.Errorf("GetAll on empty store returned %d records", len(all))
	}

	// insert and read back
	err = s.Put(Record{
		ID:           "https://assets.example.com/env.glb",
		Size:         52428800,
		ContentType:  "model/gltf-binary",
		ETag:         `"xyzzy"`,
		LastModified: "Tue, 04 Aug 2026 10:00:00 GMT",
	})
	if err != nil {
		t.Fatalf("Put: %s", err.Error())
	}
	r, err = s.Get("https://assets.example.com/env.glb")
	if err != nil {
		t.Fatalf("Get: %s", err.Error())
	}
	if r == nil {
		t.Fatal("Get returned nil after Put")
	}
	if r.Size != 52428800 || r.ContentType != "model/gltf-binary" {
		t.Errorf("Get returned %+v", r)
	}
	if r.DownloadedAt.IsZero() {
		t.Errorf("Put did not fill in DownloadedAt")
	}

	// upsert overwrites
	when := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	err = s.Put(Record{
		ID:           "https://assets.example.com/env.glb",
		Size:         123,
		DownloadedAt: when,
	})
	if err != nil {
		t.Fatalf("Put overwrite: %s", err.Error())
	}
	r, _ = s.Get("https://assets.example.com/env.glb")
	if r == nil || r.Size != 123 {
		t.Errorf("after overwrite Get returned %+v", r)
	}
	if !r.DownloadedAt.Equal(when) {
		t.Errorf("DownloadedAt = %v, expected %v", r.DownloadedAt, when)
	}

	s.Put(Record{ID: "https://assets.example.com/lightplan.json", Size: 9})
	all, err = s.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %s", err.Error())
	}
	if len(all) != 2 {
		t.Errorf("GetAll returned %d records, expected 2", len(all))
	}

	// clear removes everything
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %s", err.Error())
	}
	all, _ = s.GetAll()
	if len(all) != 0 {
		t.Errorf("GetAll after Clear returned %d records", len(all))
	}
}

func TestMemory(t *testing.T) {
	runStore(t, NewMemory())
}

func TestQLMemory(t *testing.T) {
	s, err := NewQL("memory")
	if err != nil {
		t.Fatalf("NewQL: %s", err.Error())
	}
	runStore(t, s)
}

func TestQLFile(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "prefetch.ql")
	s, err := NewQL(fname)
	if err != nil {
		t.Fatalf("NewQL: %s", err.Error())
	}
	runStore(t, s)
}
