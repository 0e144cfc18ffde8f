package content

import (
	"io/ioutil"
	"net/http"
	"testing"

	"github.com/vrstage/prefetch/store"
)

const testURL = "https://assets.example.com/env/gallery.glb"

func put(t *testing.T, c *Cache, id, body string) {
	w, err := c.Put(id)
	if err != nil {
		t.Fatalf("Put(%s): %s", id, err.Error())
	}
	w.Write([]byte(body))
	if err := w.Close(); err != nil {
		t.Fatalf("Close(%s): %s", id, err.Error())
	}
}

func TestPutGet(t *testing.T) {
	c := New(store.NewMemory())

	if c.Contains(testURL) {
		t.Errorf("Contains on empty cache")
	}

	put(t, c, testURL, "glTF binary bytes")
	hdr := http.Header{
		"Content-Type": {"model/gltf-binary"},
		"Etag":         {`"abc123"`},
	}
	if err := c.SetHeader(testURL, hdr); err != nil {
		t.Fatalf("SetHeader: %s", err.Error())
	}

	if !c.Contains(testURL) {
		t.Errorf("Contains = false after Put")
	}
	r, size, err := c.Open(testURL)
	if err != nil {
		t.Fatalf("Open: %s", err.Error())
	}
	data, _ := ioutil.ReadAll(store.NewReader(r))
	r.Close()
	if string(data) != "glTF binary bytes" {
		t.Errorf("body = %q", data)
	}
	if size != int64(len(data)) {
		t.Errorf("size = %d, expected %d", size, len(data))
	}

	back, err := c.Header(testURL)
	if err != nil {
		t.Fatalf("Header: %s", err.Error())
	}
	if back.Get("Content-Type") != "model/gltf-binary" {
		t.Errorf("Content-Type = %q", back.Get("Content-Type"))
	}
	if back.Get("Etag") != `"abc123"` {
		t.Errorf("Etag = %q", back.Get("Etag"))
	}
}

func TestReplaceWholesale(t *testing.T) {
	c := New(store.NewMemory())
	put(t, c, testURL, "version one")
	c.SetHeader(testURL, http.Header{"Etag": {"1"}})

	put(t, c, testURL, "two")
	r, size, err := c.Open(testURL)
	if err != nil {
		t.Fatalf("Open: %s", err.Error())
	}
	data, _ := ioutil.ReadAll(store.NewReader(r))
	r.Close()
	if string(data) != "two" || size != 3 {
		t.Errorf("after replace body = %q size = %d", data, size)
	}
	// the old sidecar must be gone too
	if _, err := c.Header(testURL); err == nil {
		t.Errorf("Header survived a wholesale replace")
	}
}

func TestClear(t *testing.T) {
	base := store.NewMemory()
	c := New(base)
	other := New(store.NewWithPrefix(base, "w"))

	put(t, c, testURL, "mine")
	c.SetHeader(testURL, http.Header{"Etag": {"1"}})
	put(t, other, testURL, "theirs")

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %s", err.Error())
	}
	if c.Contains(testURL) {
		t.Errorf("entry survived Clear")
	}
	// namespaces sharing the store are untouched
	if !other.Contains(testURL) {
		t.Errorf("Clear leaked into another namespace")
	}
}
