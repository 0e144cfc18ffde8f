// Package prefetch downloads a manifest of large assets into the local
// content cache ahead of use, recording per-asset metadata so later runs
// skip anything already cached. It also provides the administrative
// operations over the two stores: aggregate cache info and clearing.
//
// Downloads run strictly sequentially, one asset at a time. The assets are
// tens of megabytes each, so a single download already fills the available
// bandwidth, and sequential processing keeps the progress reporting simple:
// fractional progress assumes one download in flight. Callers wanting
// concurrent runs against the same stores are on their own; two runs can
// both download the same asset, wasting bandwidth, but the last write wins
// and nothing is corrupted.
package prefetch

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/vrstage/prefetch/content"
	"github.com/vrstage/prefetch/mdstore"
	"github.com/vrstage/prefetch/util"
)

// A Request names one asset to prefetch. ID is the asset's URL and is the
// key used in both stores. Name is a human readable label for progress
// display; it does not need to be unique.
type Request struct {
	ID   string
	Name string
}

// Outcome says how one request ended.
type Outcome int

const (
	// Cached means a metadata record existed, so no network access was made.
	Cached Outcome = iota
	// Downloaded means the asset was fetched and stored.
	Downloaded
	// Failed means the download or a store write failed. The run continues
	// with the next asset.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Cached:
		return "cached"
	case Downloaded:
		return "downloaded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// A Result reports the outcome for one request. Size is the asset's size in
// bytes for Cached and Downloaded outcomes; Err is the error message for
// Failed ones.
type Result struct {
	ID      string
	Name    string
	Outcome Outcome
	Size    int64
	Err     string
}

// Callbacks receive per-asset lifecycle and progress events during a run.
// Any of the fields may be nil. For asset i all its callbacks are delivered
// before FileStart for asset i+1, and the first argument of Progress never
// decreases within a run and never exceeds the total.
type Callbacks struct {
	// Progress is called with the number of finished assets. While a
	// download with a declared length is streaming, done includes a
	// fractional part for the bytes received so far.
	Progress func(done float64, total int, name string)

	FileStart    func(id, name string)
	FileComplete func(id, name string, size int64)
	FileError    func(id, name string, err error)
}

func (cb Callbacks) progress(done float64, total int, name string) {
	if cb.Progress != nil {
		cb.Progress(done, total, name)
	}
}

func (cb Callbacks) fileStart(id, name string) {
	if cb.FileStart != nil {
		cb.FileStart(id, name)
	}
}

func (cb Callbacks) fileComplete(id, name string, size int64) {
	if cb.FileComplete != nil {
		cb.FileComplete(id, name, size)
	}
}

func (cb Callbacks) fileError(id, name string, err error) {
	if cb.FileError != nil {
		cb.FileError(id, name, err)
	}
}

// Exported errors.
var (
	ErrNotFound       = errors.New("asset not found on server")
	ErrUnexpectedResp = errors.New("unexpected response status")
)

// A Runner downloads assets into a content cache, keeping the metadata
// store current. The zero Client is replaced by one with a long timeout
// suited to large files.
type Runner struct {
	Metadata mdstore.Store
	Content  *content.Cache

	// Client makes the requests. Optional.
	Client *http.Client

	// Rate, if set, limits the download bandwidth.
	Rate *util.RateCounter
}

// read buffer size for streaming downloads
const chunkSize = 32 * 1024

// Run processes the requests in order, one at a time, and returns a result
// for each in the same order. Assets with a metadata record are skipped
// without network access. A failed asset is recorded in its result and the
// run moves on; Run itself never fails, and duplicate IDs in one list are
// each processed on their own.
func (r *Runner) Run(requests []Request, cb Callbacks) []Result {
	results := make([]Result, 0, len(requests))
	total := len(requests)
	var done float64

	for _, req := range requests {
		cb.fileStart(req.ID, req.Name)

		rec, err := r.Metadata.Get(req.ID)
		if err == nil && rec != nil {
			// cache hit: the asset was downloaded by an earlier run
			done++
			cb.progress(done, total, req.Name)
			cb.fileComplete(req.ID, req.Name, rec.Size)
			results = append(results, Result{
				ID:      req.ID,
				Name:    req.Name,
				Outcome: Cached,
				Size:    rec.Size,
			})
			continue
		}
		if err == nil {
			var newrec mdstore.Record
			newrec, err = r.download(req, done, total, cb)
			if err == nil {
				err = r.Metadata.Put(newrec)
			}
			if err == nil {
				done++
				cb.progress(done, total, req.Name)
				cb.fileComplete(req.ID, req.Name, newrec.Size)
				results = append(results, Result{
					ID:      req.ID,
					Name:    req.Name,
					Outcome: Downloaded,
					Size:    newrec.Size,
				})
				continue
			}
		}
		done++
		cb.progress(done, total, req.Name)
		cb.fileError(req.ID, req.Name, err)
		results = append(results, Result{
			ID:      req.ID,
			Name:    req.Name,
			Outcome: Failed,
			Err:     err.Error(),
		})
	}
	return results
}

// download fetches one asset and stores its body and headers in the content
// cache. done and total are passed through so fractional progress can be
// reported while the body streams in.
func (r *Runner) download(req Request, done float64, total int, cb Callbacks) (mdstore.Record, error) {
	var rec mdstore.Record

	resp, err := r.client().Get(req.ID)
	if err != nil {
		return rec, errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case 200:
		// proceed
	case 404:
		return rec, ErrNotFound
	default:
		return rec, errors.Wrapf(ErrUnexpectedResp, "received status %d", resp.StatusCode)
	}

	// Put clears any old entry, then the header sidecar is saved before the
	// body streams in. A crash mid-stream leaves a sidecar with no complete
	// body; since no metadata record is written until the body completes,
	// the pipeline will re-download and replace both.
	w, err := r.Content.Put(req.ID)
	if err != nil {
		return rec, errors.Wrap(err, "content cache unavailable")
	}
	if err := r.Content.SetHeader(req.ID, resp.Header); err != nil {
		w.Close()
		r.Content.Delete(req.ID)
		return rec, errors.Wrap(err, "content cache unavailable")
	}

	var body io.Reader = resp.Body
	if r.Rate != nil {
		body = r.Rate.Wrap(body)
	}
	declared := resp.ContentLength

	var received int64
	buf := make([]byte, chunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				w.Close()
				r.Content.Delete(req.ID)
				return rec, errors.Wrap(werr, "content cache write failed")
			}
			received += int64(n)
			if declared > 0 {
				// fractional progress, never past this asset's whole unit
				frac := float64(received) / float64(declared)
				if frac > 1 {
					frac = 1
				}
				cb.progress(done+frac, total, req.Name)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			w.Close()
			r.Content.Delete(req.ID)
			return rec, errors.Wrap(rerr, "read failed")
		}
	}
	if err := w.Close(); err != nil {
		r.Content.Delete(req.ID)
		return rec, errors.Wrap(err, "content cache write failed")
	}

	rec = mdstore.Record{
		ID:           req.ID,
		Size:         received,
		ContentType:  resp.Header.Get("Content-Type"),
		ETag:         resp.Header.Get("Etag"),
		LastModified: resp.Header.Get("Last-Modified"),
		DownloadedAt: time.Now(),
	}
	return rec, nil
}

func (r *Runner) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	// the timeout is arbitrary. It is here so a wedged server does not
	// hang a run forever, while still allowing very large downloads.
	return &http.Client{Timeout: 10 * time.Minute}
}
