package mdstore

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/cznic/ql/driver"
	"github.com/pkg/errors"
)

// This file implements the metadata store on the QL embedded database.
// It is intended for development and single-machine deployments; use the
// MySQL store when more than one process shares the cache.

type qlStore struct {
	db *sql.DB
}

var _ Store = &qlStore{}

const qlInit = `
	CREATE TABLE IF NOT EXISTS assets (
		id string,
		size int64,
		content_type string,
		etag string,
		last_modified string,
		downloaded_at time
	);
	CREATE INDEX IF NOT EXISTS assetid ON assets (id);
	CREATE INDEX IF NOT EXISTS assetdownloaded ON assets (downloaded_at);
`

// NewQL opens a metadata store saved in the given file, creating it if
// needed. The special name "memory" keeps the database in memory.
func NewQL(filename string) (Store, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		db, err = sql.Open("ql-mem", "mem.db")
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err == nil {
		_, err = performExec(db, qlInit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "open QL metadata store")
	}
	return &qlStore{db: db}, nil
}

func (qs *qlStore) Get(id string) (*Record, error) {
	const query = `
		SELECT size, content_type, etag, last_modified, downloaded_at
		FROM assets
		WHERE id == ?1
		LIMIT 1`

	r := Record{ID: id}
	err := qs.db.QueryRow(query, id).Scan(&r.Size, &r.ContentType, &r.ETag,
		&r.LastModified, &r.DownloadedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		log.Printf("Metadata QL: %s", err.Error())
		return nil, errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	return &r, nil
}

func (qs *qlStore) Put(r Record) error {
	const update = `
		UPDATE assets
		SET size = ?2, content_type = ?3, etag = ?4, last_modified = ?5, downloaded_at = ?6
		WHERE id == ?1`
	const insert = `INSERT INTO assets VALUES (?1, ?2, ?3, ?4, ?5, ?6)`

	if r.DownloadedAt.IsZero() {
		r.DownloadedAt = time.Now()
	}
	result, err := performExec(qs.db, update, r.ID, r.Size, r.ContentType,
		r.ETag, r.LastModified, r.DownloadedAt)
	if err != nil {
		log.Printf("Metadata QL: %s", err.Error())
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if nrows == 0 {
		// no record to update, so make one
		_, err = performExec(qs.db, insert, r.ID, r.Size, r.ContentType,
			r.ETag, r.LastModified, r.DownloadedAt)
		if err != nil {
			log.Printf("Metadata QL: %s", err.Error())
			return errors.Wrap(ErrStorageUnavailable, err.Error())
		}
	}
	return nil
}

func (qs *qlStore) GetAll() ([]Record, error) {
	const query = `
		SELECT id, size, content_type, etag, last_modified, downloaded_at
		FROM assets`

	rows, err := qs.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	defer rows.Close()
	var result []Record
	for rows.Next() {
		var r Record
		err = rows.Scan(&r.ID, &r.Size, &r.ContentType, &r.ETag,
			&r.LastModified, &r.DownloadedAt)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (qs *qlStore) Clear() error {
	// a single statement in a single transaction, so no partial clear is
	// ever visible
	_, err := performExec(qs.db, `DELETE FROM assets`)
	if err != nil {
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	return nil
}

// performExec runs statements inside a transaction, as QL requires for
// anything that mutates the database.
func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	result, err := tx.Exec(query, args...)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	return result, tx.Commit()
}
