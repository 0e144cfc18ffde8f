package server

import (
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/vrstage/prefetch/content"
	"github.com/vrstage/prefetch/store"
)

// file types served from cache. Anything else is passed straight through to
// the upstream without being stored.
var cacheableExt = map[string]bool{
	".glb":       true,
	".gltf":      true,
	".bin":       true,
	".png":       true,
	".jpg":       true,
	".jpeg":      true,
	".ktx2":      true,
	".hdr":       true,
	".mp3":       true,
	".json":      true,
	".lightplan": true,
}

func cacheable(p string) bool {
	return cacheableExt[strings.ToLower(path.Ext(p))]
}

// AssetHandler handles GET and HEAD /asset/*path. The prefetched cache is
// consulted first, then the server's own fill namespace, and finally the
// upstream. Upstream responses of cacheable types are stored in the fill
// namespace as they stream out to the client.
func (s *Server) AssetHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// the star parameter keeps its leading slash
	p := ps.ByName("path")
	id := s.Upstream + p

	if src, size, err := s.Content.Open(id); err == nil {
		hdr, err := s.Content.Header(id)
		if err == nil {
			copyHeader(w.Header(), hdr, "Content-Type")
			copyHeader(w.Header(), hdr, "Etag")
			copyHeader(w.Header(), hdr, "Last-Modified")
		}
		w.Header().Set("X-Cache", "HIT")
		s.serve(w, r, p, src, size)
		return
	}

	if !cacheable(p) {
		s.passthrough(w, r, id)
		return
	}

	key := content.Key(id)
	if src, size, err := s.Hot.Get(key); src != nil && err == nil {
		if ctype := mime.TypeByExtension(path.Ext(p)); ctype != "" {
			w.Header().Set("Content-Type", ctype)
		}
		w.Header().Set("X-Cache", "HIT")
		s.serve(w, r, p, src, size)
		return
	}

	s.fill(w, r, id, key)
}

// serve sends a cached body, honoring range requests.
func (s *Server) serve(w http.ResponseWriter, r *http.Request, p string, src store.ReadAtCloser, size int64) {
	defer src.Close()
	http.ServeContent(w, r, path.Base(p), time.Time{}, io.NewSectionReader(src, 0, size))
}

// fill fetches the asset from the upstream, streaming it to the client and
// into the fill namespace at the same time. Cache trouble never fails the
// client request: on a cache write error the fill is abandoned and the
// partial entry removed.
func (s *Server) fill(w http.ResponseWriter, r *http.Request, id, key string) {
	s.fills.Enter()
	defer s.fills.Leave()

	resp, err := s.client().Get(id)
	if err != nil {
		w.WriteHeader(502)
		return
	}
	defer resp.Body.Close()
	copyHeader(w.Header(), resp.Header, "Content-Type")
	copyHeader(w.Header(), resp.Header, "Content-Length")
	copyHeader(w.Header(), resp.Header, "Etag")
	copyHeader(w.Header(), resp.Header, "Last-Modified")
	w.Header().Set("X-Cache", "MISS")
	if resp.StatusCode != 200 {
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
		return
	}
	if r.Method == "HEAD" {
		return
	}

	cw, err := s.Hot.Put(key)
	if err != nil {
		// someone else may be filling this key. serve without caching.
		io.Copy(w, resp.Body)
		return
	}
	bw := &bestEffortWriter{w: cw}
	io.Copy(io.MultiWriter(w, bw), resp.Body)
	cw.Close()
	if bw.failed {
		s.Hot.Delete(key)
	}
}

// passthrough proxies a request for a non-cacheable type.
func (s *Server) passthrough(w http.ResponseWriter, r *http.Request, id string) {
	resp, err := s.client().Get(id)
	if err != nil {
		w.WriteHeader(502)
		return
	}
	defer resp.Body.Close()
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if r.Method != "HEAD" {
		io.Copy(w, resp.Body)
	}
}

func copyHeader(dst, src http.Header, name string) {
	if v := src.Get(name); v != "" {
		dst.Set(name, v)
	}
}

// bestEffortWriter forwards writes to the cache writer until one fails,
// then swallows the rest so the client copy is unaffected.
type bestEffortWriter struct {
	w      io.Writer
	failed bool
}

func (b *bestEffortWriter) Write(p []byte) (int, error) {
	if !b.failed {
		if _, err := b.w.Write(p); err != nil {
			b.failed = true
		}
	}
	return len(p), nil
}
