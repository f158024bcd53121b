// Package backend implements the content-addressed byte store that
// pkg/objstore, pkg/opstore, and pkg/index persist into (spec.md §4.1,
// §6's on-disk layout).
//
// Grounded on pkg/cas/cas.go's FileCAS: two-level sharded directory,
// dedup-by-exists, atomic temp-file-then-rename writes. Generalized from
// a single fixed SHA-256 hash to a pluggable ids.HashFunc, and from raw
// bytes to optional snappy compression (mirrors the dolt/noms nbs table
// persister, which snappy-compresses chunk payloads before they hit
// disk).
package backend

import (
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"jjcore/pkg/ids"
	"jjcore/pkg/vcserr"
)

// Store is the primitive put/get/has interface of spec.md §4.1. Writes
// are idempotent: Put of identical content returns the identical Id and
// performs no I/O beyond the existence check.
type Store interface {
	Put(data []byte) (ids.Id, error)
	Get(id ids.Id) ([]byte, error)
	Has(id ids.Id) bool
	Close() error
}

// FileStore is a Store backed by a sharded directory tree, one file per
// object.
type FileStore struct {
	baseDir  string
	hash     ids.HashFunc
	compress bool
}

// NewFileStore creates (or opens) a FileStore rooted at baseDir, hashing
// with hash and, if compress is true, snappy-compressing payloads at
// rest.
func NewFileStore(baseDir string, hash ids.HashFunc, compress bool) (*FileStore, error) {
	objectsDir := filepath.Join(baseDir, "objects")
	if err := os.MkdirAll(objectsDir, 0755); err != nil {
		return nil, errors.Wrap(err, "creating objects directory")
	}
	return &FileStore{baseDir: baseDir, hash: hash, compress: compress}, nil
}

func (s *FileStore) objectPath(id ids.Id) string {
	hex := id.String()
	return filepath.Join(s.baseDir, "objects", hex[:2], hex[2:])
}

// Put stores data and returns its content hash. If an object with the
// same hash already exists, Put is a no-op beyond the hash computation.
func (s *FileStore) Put(data []byte) (ids.Id, error) {
	id := s.hash(data)

	if s.Has(id) {
		return id, nil
	}

	objPath := s.objectPath(id)
	dir := filepath.Dir(objPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ids.Id{}, errors.Wrap(err, "creating object shard directory")
	}

	payload := data
	if s.compress {
		payload = snappy.Encode(nil, data)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return ids.Id{}, errors.Wrap(err, "creating temp file")
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(payload); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return ids.Id{}, errors.Wrap(err, "writing temp file")
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return ids.Id{}, errors.Wrap(err, "syncing temp file")
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return ids.Id{}, errors.Wrap(err, "closing temp file")
	}
	if err := os.Rename(tmpPath, objPath); err != nil {
		os.Remove(tmpPath)
		return ids.Id{}, errors.Wrap(err, "renaming temp file into place")
	}

	return id, nil
}

// Get retrieves data by its hash.
func (s *FileStore) Get(id ids.Id) ([]byte, error) {
	f, err := os.Open(s.objectPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vcserr.NotFound
		}
		return nil, errors.Wrap(err, "opening object")
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "reading object")
	}

	if !s.compress {
		return raw, nil
	}
	data, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, errors.Wrapf(vcserr.InvalidData, "decompressing object %s: %v", id, err)
	}
	return data, nil
}

// Has reports whether id exists in the store.
func (s *FileStore) Has(id ids.Id) bool {
	_, err := os.Stat(s.objectPath(id))
	return err == nil
}

// Close releases resources (no-op for the file backend).
func (s *FileStore) Close() error {
	return nil
}
