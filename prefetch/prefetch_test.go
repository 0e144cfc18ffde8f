package prefetch

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vrstage/prefetch/content"
	"github.com/vrstage/prefetch/mdstore"
	"github.com/vrstage/prefetch/store"
)

// countingServer serves fixed bodies and counts requests per path.
type countingServer struct {
	*httptest.Server
	hits map[string]*int64
}

func newCountingServer(bodies map[string]string) *countingServer {
	cs := &countingServer{hits: make(map[string]*int64)}
	for p := range bodies {
		cs.hits[p] = new(int64)
	}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Path]
		if !ok {
			w.WriteHeader(404)
			return
		}
		atomic.AddInt64(cs.hits[r.URL.Path], 1)
		w.Header().Set("Content-Type", "model/gltf-binary")
		w.Header().Set("Etag", `"tag-`+r.URL.Path+`"`)
		w.Write([]byte(body))
	}))
	return cs
}

func (cs *countingServer) count(path string) int64 {
	return atomic.LoadInt64(cs.hits[path])
}

func newRunner() *Runner {
	return &Runner{
		Metadata: mdstore.NewMemory(),
		Content:  content.New(store.NewMemory()),
	}
}

func TestIdempotentRerun(t *testing.T) {
	srv := newCountingServer(map[string]string{
		"/env.glb":    strings.Repeat("e", 1000),
		"/light.json": `{"lights":[]}`,
	})
	defer srv.Close()

	requests := []Request{
		{ID: srv.URL + "/env.glb", Name: "environment"},
		{ID: srv.URL + "/light.json", Name: "light plan"},
	}
	r := newRunner()

	first := r.Run(requests, Callbacks{})
	if len(first) != 2 {
		t.Fatalf("first run returned %d results", len(first))
	}
	for i, res := range first {
		if res.Outcome != Downloaded {
			t.Errorf("first run result %d: %s", i, res.Outcome)
		}
	}

	second := r.Run(requests, Callbacks{})
	for i, res := range second {
		if res.Outcome != Cached {
			t.Errorf("second run result %d: %s", i, res.Outcome)
		}
		if res.Size != first[i].Size {
			t.Errorf("result %d: size %d then %d", i, first[i].Size, res.Size)
		}
	}
	if n := srv.count("/env.glb"); n != 1 {
		t.Errorf("/env.glb fetched %d times, expected 1", n)
	}
	if n := srv.count("/light.json"); n != 1 {
		t.Errorf("/light.json fetched %d times, expected 1", n)
	}
}

func TestCacheHitShortCircuit(t *testing.T) {
	srv := newCountingServer(map[string]string{"/env.glb": "never fetched"})
	defer srv.Close()

	id := srv.URL + "/env.glb"
	r := newRunner()
	r.Metadata.Put(mdstore.Record{ID: id, Size: 424242})

	var completeSize int64 = -1
	results := r.Run([]Request{{ID: id, Name: "environment"}}, Callbacks{
		FileComplete: func(_, _ string, size int64) { completeSize = size },
	})
	if srv.count("/env.glb") != 0 {
		t.Errorf("network request made for a cached asset")
	}
	if results[0].Outcome != Cached || results[0].Size != 424242 {
		t.Errorf("result = %+v", results[0])
	}
	if completeSize != 424242 {
		t.Errorf("FileComplete size = %d, expected the recorded 424242", completeSize)
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	srv := newCountingServer(map[string]string{
		"/a.glb": "aaaa",
		"/c.glb": "cccccc",
	})
	defer srv.Close()

	requests := []Request{
		{ID: srv.URL + "/a.glb", Name: "a"},
		{ID: srv.URL + "/missing.glb", Name: "b"},
		{ID: srv.URL + "/c.glb", Name: "c"},
	}
	r := newRunner()
	var errored []string
	results := r.Run(requests, Callbacks{
		FileError: func(_, name string, err error) {
			errored = append(errored, name)
			if err == nil {
				t.Errorf("FileError with nil error")
			}
		},
	})

	want := []Outcome{Downloaded, Failed, Downloaded}
	if len(results) != 3 {
		t.Fatalf("returned %d results", len(results))
	}
	for i, res := range results {
		if res.Outcome != want[i] {
			t.Errorf("result %d: %s, expected %s", i, res.Outcome, want[i])
		}
	}
	if results[1].Err == "" {
		t.Errorf("failed result carries no error message")
	}
	if len(errored) != 1 || errored[0] != "b" {
		t.Errorf("FileError calls: %v", errored)
	}
	if srv.count("/c.glb") != 1 {
		t.Errorf("asset after the failure was not downloaded")
	}
}

func TestProgressMonotone(t *testing.T) {
	// 1000 declared bytes delivered in 4 flushed chunks of 250
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		f := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			w.Write([]byte(strings.Repeat("x", 250)))
			f.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer srv.Close()

	var calls []float64
	r := newRunner()
	results := r.Run([]Request{{ID: srv.URL + "/big.glb", Name: "big"}}, Callbacks{
		Progress: func(done float64, total int, _ string) {
			if total != 1 {
				t.Errorf("total = %d", total)
			}
			calls = append(calls, done)
		},
	})
	if results[0].Outcome != Downloaded || results[0].Size != 1000 {
		t.Fatalf("result = %+v", results[0])
	}
	if len(calls) < 2 {
		t.Fatalf("only %d progress calls", len(calls))
	}
	prev := 0.0
	for i, v := range calls {
		if v < prev {
			t.Errorf("progress went backward at call %d: %g after %g", i, v, prev)
		}
		if v > 1 {
			t.Errorf("progress %g exceeds the total", v)
		}
		prev = v
	}
	if last := calls[len(calls)-1]; last != 1 {
		t.Errorf("final progress = %g, expected exactly 1", last)
	}
}

func TestClearAllThenRedownload(t *testing.T) {
	srv := newCountingServer(map[string]string{"/env.glb": "environment bytes"})
	defer srv.Close()

	id := srv.URL + "/env.glb"
	r := newRunner()
	requests := []Request{{ID: id, Name: "environment"}}
	r.Run(requests, Callbacks{})
	if srv.count("/env.glb") != 1 {
		t.Fatalf("first run did not download")
	}

	admin := Admin{Metadata: r.Metadata, Content: r.Content}
	if err := admin.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %s", err.Error())
	}
	info, err := admin.CacheInfo()
	if err != nil {
		t.Fatalf("CacheInfo: %s", err.Error())
	}
	if info.FileCount != 0 || info.TotalSize != 0 || info.MostRecent != nil {
		t.Errorf("CacheInfo after clear = %+v", info)
	}
	if r.Content.Contains(id) {
		t.Errorf("content survived ClearAll")
	}

	results := r.Run(requests, Callbacks{})
	if results[0].Outcome != Downloaded {
		t.Errorf("after clear the asset was not re-downloaded: %s", results[0].Outcome)
	}
	if srv.count("/env.glb") != 2 {
		t.Errorf("/env.glb fetched %d times, expected 2", srv.count("/env.glb"))
	}
}

func TestNoDeclaredLength(t *testing.T) {
	// chunked response: no Content-Length header reaches the client
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		for i := 0; i < 3; i++ {
			w.Write([]byte(strings.Repeat("y", 100)))
			f.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer srv.Close()

	var calls []float64
	r := newRunner()
	results := r.Run([]Request{{ID: srv.URL + "/stream.bin", Name: "stream"}}, Callbacks{
		Progress: func(done float64, _ int, _ string) { calls = append(calls, done) },
	})
	if results[0].Outcome != Downloaded || results[0].Size != 300 {
		t.Fatalf("result = %+v", results[0])
	}
	// only the terminal integral call, no fractional reports
	if len(calls) != 1 || calls[0] != 1 {
		t.Errorf("progress calls = %v, expected [1]", calls)
	}
	rec, err := r.Metadata.Get(srv.URL + "/stream.bin")
	if err != nil || rec == nil {
		t.Fatalf("metadata record missing: %v %v", rec, err)
	}
	if rec.Size != 300 {
		t.Errorf("recorded size %d, expected 300", rec.Size)
	}
}

func TestDuplicateIdentifiers(t *testing.T) {
	srv := newCountingServer(map[string]string{"/env.glb": "once"})
	defer srv.Close()

	id := srv.URL + "/env.glb"
	r := newRunner()
	results := r.Run([]Request{{ID: id, Name: "one"}, {ID: id, Name: "two"}}, Callbacks{})
	if results[0].Outcome != Downloaded {
		t.Errorf("first occurrence: %s", results[0].Outcome)
	}
	// the second occurrence sees the record the first one just wrote
	if results[1].Outcome != Cached {
		t.Errorf("second occurrence: %s", results[1].Outcome)
	}
	if srv.count("/env.glb") != 1 {
		t.Errorf("asset fetched %d times", srv.count("/env.glb"))
	}
}

func TestEmptyRun(t *testing.T) {
	r := newRunner()
	called := false
	results := r.Run(nil, Callbacks{
		Progress: func(float64, int, string) { called = true },
	})
	if len(results) != 0 {
		t.Errorf("returned %d results", len(results))
	}
	if called {
		t.Errorf("Progress called for an empty run")
	}
}

func TestCallbackOrdering(t *testing.T) {
	srv := newCountingServer(map[string]string{
		"/a.glb": "aa",
		"/b.glb": "bb",
	})
	defer srv.Close()

	var events []string
	r := newRunner()
	r.Run([]Request{
		{ID: srv.URL + "/a.glb", Name: "a"},
		{ID: srv.URL + "/b.glb", Name: "b"},
	}, Callbacks{
		FileStart:    func(_, name string) { events = append(events, "start "+name) },
		FileComplete: func(_, name string, _ int64) { events = append(events, "complete "+name) },
	})
	want := "start a,complete a,start b,complete b"
	if got := strings.Join(events, ","); got != want {
		t.Errorf("events = %q, expected %q", got, want)
	}
}

func TestHeadersStored(t *testing.T) {
	srv := newCountingServer(map[string]string{"/env.glb": "bytes"})
	defer srv.Close()

	id := srv.URL + "/env.glb"
	r := newRunner()
	r.Run([]Request{{ID: id, Name: "environment"}}, Callbacks{})

	h, err := r.Content.Header(id)
	if err != nil {
		t.Fatalf("Header: %s", err.Error())
	}
	if h.Get("Content-Type") != "model/gltf-binary" {
		t.Errorf("stored Content-Type = %q", h.Get("Content-Type"))
	}
	rec, _ := r.Metadata.Get(id)
	if rec == nil {
		t.Fatal("metadata record missing")
	}
	if rec.ContentType != "model/gltf-binary" || rec.ETag == "" {
		t.Errorf("record = %+v", rec)
	}
}

func ExampleOutcome_String() {
	fmt.Println(Cached, Downloaded, Failed)
	// Output: cached downloaded failed
}
