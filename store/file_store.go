package store

import (
	"errors"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	raven "github.com/getsentry/raven-go"
)

// FileSystem is a file based store. Keys are used as file names, fanned out
// into subdirectories by their first characters to keep directory sizes
// reasonable. New values are staged in a scratch directory and renamed into
// place on close, so a partially written value is never visible under its
// key.
type FileSystem struct {
	root string
}

// subdirectory where values are staged while being written
const scratchdir = "scratch"

var (
	_ Store = &FileSystem{}

	// ErrNotFound indicates the key is not in the store.
	ErrNotFound = errors.New("key not found")

	// ErrKeyExists indicates an attempt to create a key which already exists.
	ErrKeyExists = errors.New("key already exists")

	// ErrKeyInvalid indicates a key containing a slash, whitespace, control
	// characters, or invalid unicode.
	ErrKeyInvalid = errors.New("key contains invalid characters")
)

// NewFileSystem creates a FileSystem store rooted at the given path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root}
}

// List returns a channel enumerating every key in this store.
func (s *FileSystem) List() <-chan string {
	c := make(chan string)
	go func() {
		defer close(c)
		dirs, err := listDir(s.root)
		if err != nil {
			return
		}
		for _, d := range dirs {
			if d == scratchdir {
				continue
			}
			names, err := listDir(filepath.Join(s.root, d))
			if err != nil {
				continue
			}
			for _, name := range names {
				c <- name
			}
		}
	}()
	return c
}

// listDir returns the entry names of a directory. Only the directory itself
// is opened; the entries are not stat'ed.
func listDir(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Println(err)
			raven.CaptureError(err, nil)
		}
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}

// ListPrefix returns a list of all the keys beginning with the given prefix.
func (s *FileSystem) ListPrefix(prefix string) ([]string, error) {
	var glob string
	if len(prefix) >= 2 {
		glob = prefix[0:2]
	} else {
		glob = prefix + "*"
	}
	matches, err := filepath.Glob(filepath.Join(s.root, glob, prefix+"*"))
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(matches))
	for _, m := range matches {
		result = append(result, path.Base(m))
	}
	return result, nil
}

// Open returns a reader for the given key along with the value's size.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	if err := validateKey(key); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(filepath.Join(s.root, keySubdir(key), key))
	if err != nil {
		if os.IsNotExist(err) {
			err = ErrNotFound
		}
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create makes a new entry for the given key and returns a writer for its
// content. The content is staged under scratch/ and renamed into its final
// location when the writer is closed.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	target, err := s.mkpath(keySubdir(key), key)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		return nil, ErrKeyExists
	}
	temp, err := s.mkpath(scratchdir, key)
	if err != nil {
		return nil, err
	}
	// O_EXCL so two writers for the same key conflict instead of interleaving
	f, err := os.OpenFile(temp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}
	return &moveCloser{WriteCloser: f, source: temp, target: target}, nil
}

// mkpath ensures the subdirectory exists under the root and returns the
// absolute path for the keyed file.
func (s *FileSystem) mkpath(subdir, key string) (string, error) {
	dir := filepath.Join(s.root, subdir)
	err := os.MkdirAll(dir, 0775)
	return filepath.Join(dir, key), err
}

// moveCloser renames the scratch file into its final location on Close.
type moveCloser struct {
	io.WriteCloser
	source string
	target string
}

func (w *moveCloser) Close() error {
	err := w.WriteCloser.Close()
	if err != nil {
		return err
	}
	if _, err := os.Stat(w.target); !os.IsNotExist(err) {
		return ErrKeyExists
	}
	return os.Rename(w.source, w.target)
}

// Delete the given key from the store. It is not an error if the key does
// not exist.
func (s *FileSystem) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.root, keySubdir(key), key))
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

// keySubdir returns the fan-out subdirectory for a key, the first two
// characters. Keys are usually hex digests, which spreads values across 256
// directories. Short keys get their own bucket.
func keySubdir(key string) string {
	if len(key) < 2 {
		return "_"
	}
	return key[0:2]
}

func validateKey(key string) error {
	if key == "" || !utf8.ValidString(key) {
		return ErrKeyInvalid
	}
	if strings.Contains(key, "/") {
		return ErrKeyInvalid
	}
	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrKeyInvalid
		}
	}
	return nil
}
