package prefetch

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/vrstage/prefetch/content"
	"github.com/vrstage/prefetch/mdstore"
)

// Version identifies the cache layout. It is reported in CacheInfo so a
// client can tell when a clear is needed after an upgrade.
const Version = "1"

// CacheInfo is a point-in-time summary of the cache, computed from the
// metadata store alone. The content cache is deliberately not consulted:
// enumerating blobs is expensive, and the metadata is authoritative for the
// pipeline's skip decision. If the two stores have drifted the size
// accounting drifts with them.
type CacheInfo struct {
	Version    string
	FileCount  int
	TotalSize  int64
	MostRecent *time.Time
	Records    []mdstore.Record
}

// ProxyCache is the part of the proxy-owned cache namespace that
// administration needs.
type ProxyCache interface {
	Clear() error
}

// Admin performs the store-wide operations: inspecting the cache and
// clearing it. Proxy is the cache namespace the serving daemon fills on its
// own; it may be nil when no daemon shares these stores.
type Admin struct {
	Metadata mdstore.Store
	Content  *content.Cache
	Proxy    ProxyCache
}

// CacheInfo summarizes the cached assets from the metadata records.
func (a Admin) CacheInfo() (CacheInfo, error) {
	info := CacheInfo{Version: Version}
	records, err := a.Metadata.GetAll()
	if err != nil {
		return info, err
	}
	info.Records = records
	info.FileCount = len(records)
	for i := range records {
		info.TotalSize += records[i].Size
		if info.MostRecent == nil || records[i].DownloadedAt.After(*info.MostRecent) {
			t := records[i].DownloadedAt
			info.MostRecent = &t
		}
	}
	return info, nil
}

// ClearAll empties the content cache, the proxy's namespace, and the
// metadata store, in that order. Content is cleared before metadata so a
// crash in between leaves at worst a metadata record pointing at deleted
// bytes; the opposite order could leave unreferenced bytes that nothing
// would ever clean up. A failure clearing one store is reported but does
// not stop the others from being cleared.
func (a Admin) ClearAll() error {
	var failures []string
	if err := a.Content.Clear(); err != nil {
		failures = append(failures, "content: "+err.Error())
	}
	if a.Proxy != nil {
		if err := a.Proxy.Clear(); err != nil {
			failures = append(failures, "proxy: "+err.Error())
		}
	}
	if err := a.Metadata.Clear(); err != nil {
		failures = append(failures, "metadata: "+err.Error())
	}
	if len(failures) > 0 {
		return errors.New("clear incomplete: " + strings.Join(failures, "; "))
	}
	return nil
}
