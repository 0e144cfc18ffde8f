// Package server implements the caching proxy daemon. It serves asset
// requests out of the prefetched content cache, filling a bounded cache
// namespace of its own from the upstream server on misses, and exposes the
// cache administration operations over HTTP.
package server

import (
	"encoding/json"
	"expvar"
	"fmt"
	"html/template"
	"log"
	"net/http"
	_ "net/http/pprof" // for the pprof server
	"time"

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"

	"github.com/vrstage/prefetch/blobcache"
	"github.com/vrstage/prefetch/content"
	"github.com/vrstage/prefetch/prefetch"
	"github.com/vrstage/prefetch/util"
)

// Version of the daemon. Overridden at link time for releases.
var Version = "devel"

// Server holds the configuration for a prefetch proxy server.
//
// Set the public fields and then call Run. Run listens on the given port
// and blocks handling requests. Do not change any fields after calling Run.
type Server struct {
	// Port number to listen on. Defaults to 14500.
	PortNumber string
	PProfPort  string

	// Upstream is the base URL assets are fetched from, without a
	// trailing slash. Run panics if it is empty.
	Upstream string

	// Content is the prefetched asset cache. Run panics if it is nil.
	Content *content.Cache

	// Runner downloads manifests on POST /prefetch.
	Runner *prefetch.Runner

	// Admin performs the cache administration operations.
	Admin prefetch.Admin

	// Hot is the cache namespace this server fills on demand. If nil, on
	// demand fills are not cached (an EmptyCache is used).
	Hot blobcache.Cache

	// MaxFills bounds how many upstream fills may run at once.
	// Defaults to 2.
	MaxFills int

	// Client makes upstream requests. Optional.
	Client *http.Client

	server httpdown.Server
	fills  util.Gate
}

// Run initializes the server and blocks listening for and handling http
// requests.
func (s *Server) Run() error {
	log.Println("==========")
	log.Printf("Starting prefetchd version %s", Version)
	log.Printf("Upstream = %s", s.Upstream)

	if s.Upstream == "" {
		panic("No upstream given. Upstream is empty.")
	}
	if s.Content == nil {
		panic("No content cache given. Content is nil.")
	}
	if s.Hot == nil {
		log.Println("Not caching on-demand fills")
		s.Hot = blobcache.EmptyCache{}
	}
	if s.MaxFills == 0 {
		s.MaxFills = 2
	}
	s.fills = util.NewGate(s.MaxFills)
	if s.PortNumber == "" {
		s.PortNumber = "14500"
	}

	if s.PProfPort != "" {
		log.Println("Starting PProf on port", s.PProfPort)
		go func() {
			log.Println(http.ListenAndServe(":"+s.PProfPort, nil))
		}()
	}
	log.Println("Listening on", s.PortNumber)

	var err error
	h := httpdown.HTTP{}
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.server.Wait()
}

// Stop shuts the server down and returns once the listening socket is
// closed and in-flight requests have finished.
func (s *Server) Stop() error {
	return s.server.Stop()
}

func (s *Server) addRoutes() http.Handler {
	var routes = []struct {
		method  string
		route   string
		handler httprouter.Handle
	}{
		{"GET", "/asset/*path", s.AssetHandler},
		{"HEAD", "/asset/*path", s.AssetHandler},

		{"POST", "/prefetch", s.PrefetchHandler},
		{"GET", "/cache", s.CacheInfoHandler},
		{"DELETE", "/cache", s.ClearCacheHandler},

		{"GET", "/", s.WelcomeHandler},
		{"GET", "/debug/vars", VarHandler}, // standard route for expvar data
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method, route.route, logWrapper(route.handler))
	}
	return r
}

// PrefetchHandler handles POST /prefetch. The body is an asset manifest;
// the named assets are downloaded one at a time and the per-asset outcomes
// returned as JSON. The request blocks until the run finishes.
func (s *Server) PrefetchHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	requests, err := prefetch.ParseManifest(r.Body)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}
	results := s.Runner.Run(requests, prefetch.Callbacks{
		FileStart: func(id, name string) {
			log.Println("prefetch start", name, id)
		},
		FileError: func(id, name string, err error) {
			log.Println("prefetch error", name, err.Error())
		},
	})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(results)
}

// CacheInfoHandler handles GET /cache.
func (s *Server) CacheInfoHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	info, err := s.Admin.CacheInfo()
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	writeHTMLorJSON(w, r, cacheInfoTemplate, info)
}

var cacheInfoTemplate = template.Must(template.New("cacheinfo").Parse(`<html>
<h1>Cache</h1>
<p>Version {{ .Version }}, {{ .FileCount }} files, {{ .TotalSize }} bytes</p>
<dl>
{{ range .Records }}
	<dt>{{ .ID }}</dt><dd>{{ .Size }} bytes, {{ .ContentType }}, downloaded {{ .DownloadedAt }}</dd>
{{ else }}
	<dt>No files</dt>
{{ end }}
</dl>
</html>`))

// ClearCacheHandler handles DELETE /cache. Both durable stores and the
// server's own fill namespace are emptied.
func (s *Server) ClearCacheHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.Admin.ClearAll(); err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err.Error())
		return
	}
	fmt.Fprintln(w, "cleared")
}

// WelcomeHandler handles GET /.
func (s *Server) WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fmt.Fprintf(w, "prefetchd (%s)\n", Version)
}

// VarHandler adapts the expvar default handler to the httprouter three
// parameter handler. The code is taken from the stdlib expvar package.
func VarHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}

// logWrapper takes a handler and returns one doing the same thing after
// first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}

func writeHTMLorJSON(w http.ResponseWriter,
	r *http.Request,
	tmpl *template.Template,
	val interface{}) {

	if r.Header.Get("Accept-Encoding") == "application/json" ||
		r.FormValue("format") == "json" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(val)
		return
	}
	tmpl.Execute(w, val)
}

// the request timeout is long since assets can be very large
func (s *Server) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: 10 * time.Minute}
}
