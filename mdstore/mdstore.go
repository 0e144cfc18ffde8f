// Package mdstore keeps the durable per-asset download metadata: what has
// been downloaded, how big it was, and the validators it arrived with. The
// prefetch pipeline consults it to decide whether an asset needs to be
// fetched at all, so its records must survive restarts.
//
// There are three implementations: an embedded QL database for development
// and single-machine use, MySQL for production, and an in-memory map for
// tests and the explicitly non-persistent build.
package mdstore

import (
	"errors"
	"time"
)

// Record is the download metadata for one asset. There is at most one
// record per identifier; a new download overwrites the old record.
type Record struct {
	// ID is the asset identifier, the URL the asset was downloaded from.
	ID string

	// Size is the number of body bytes received.
	Size int64

	// ContentType is the Content-Type the response declared, if any.
	ContentType string

	// ETag and LastModified are the response validators, kept opaque.
	ETag         string
	LastModified string

	// DownloadedAt is when the download finished.
	DownloadedAt time.Time
}

// Store is the metadata store contract. All operations are durable once
// they return, except on the memory implementation.
type Store interface {
	// Get returns the record for the given identifier, or nil if there is
	// none. An error means the underlying storage is unavailable.
	Get(id string) (*Record, error)

	// Put upserts the record for r.ID. If r.DownloadedAt is zero it is set
	// to the current time.
	Put(r Record) error

	// GetAll returns every record. The order is store-native and carries
	// no meaning.
	GetAll() ([]Record, error)

	// Clear removes all records. No partial clear is observable.
	Clear() error
}

// ErrStorageUnavailable reports that the metadata database cannot be
// reached. Callers treat it as fatal to the current asset only.
var ErrStorageUnavailable = errors.New("metadata storage unavailable")
