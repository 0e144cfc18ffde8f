package mdstore

import (
	"database/sql"
	"log"
	"time"

	"github.com/BurntSushi/migration"
	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// This file implements the metadata store on MySQL, for deployments where
// more than one proxy instance shares one cache.

type mysqlStore struct {
	db *sql.DB
}

var _ Store = &mysqlStore{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
}

// adapt the schema versioning to MySQL
var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

func mysqlschema1(tx migration.LimitedTx) error {
	const s = `
	CREATE TABLE IF NOT EXISTS assets (
		id VARCHAR(255) PRIMARY KEY,
		size BIGINT,
		content_type VARCHAR(255),
		etag VARCHAR(255),
		last_modified VARCHAR(255),
		downloaded_at DATETIME
	)`
	_, err := tx.Exec(s)
	return err
}

// NewMySQL connects to a MySQL database, running any pending migrations.
// dial is a go-sql-driver connection string, e.g.
// "user:password@tcp(localhost:3306)/prefetch?parseTime=true".
func NewMySQL(dial string) (Store, error) {
	db, err := migration.OpenWith(
		"mysql",
		dial,
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		log.Printf("Open MySQL: %s", err.Error())
		return nil, errors.Wrap(err, "open MySQL metadata store")
	}
	return &mysqlStore{db: db}, nil
}

func (ms *mysqlStore) Get(id string) (*Record, error) {
	const query = `
		SELECT size, content_type, etag, last_modified, downloaded_at
		FROM assets
		WHERE id = ?
		LIMIT 1`

	r := Record{ID: id}
	err := ms.db.QueryRow(query, id).Scan(&r.Size, &r.ContentType, &r.ETag,
		&r.LastModified, &r.DownloadedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		log.Printf("Metadata MySQL: %s", err.Error())
		return nil, errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	return &r, nil
}

func (ms *mysqlStore) Put(r Record) error {
	const upsert = `
		INSERT INTO assets (id, size, content_type, etag, last_modified, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			size=?, content_type=?, etag=?, last_modified=?, downloaded_at=?`

	if r.DownloadedAt.IsZero() {
		r.DownloadedAt = time.Now()
	}
	_, err := ms.db.Exec(upsert,
		r.ID, r.Size, r.ContentType, r.ETag, r.LastModified, r.DownloadedAt,
		r.Size, r.ContentType, r.ETag, r.LastModified, r.DownloadedAt)
	if err != nil {
		log.Printf("Metadata MySQL: %s", err.Error())
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	return nil
}

func (ms *mysqlStore) GetAll() ([]Record, error) {
	const query = `
		SELECT id, size, content_type, etag, last_modified, downloaded_at
		FROM assets`

	rows, err := ms.db.Query(query)
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

func (ms *mysqlStore) Clear() error {
	_, err := ms.db.Exec(`DELETE FROM assets`)
	if err != nil {
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	return nil
}
