// Package objstore layers typed put/get for the four object kinds
// (spec.md §4.1) on top of pkg/backend's raw byte store, and exposes the
// store's well-known empty tree and root commit ids (spec.md §3:
// "The root commit has zero parents, an empty tree, and a well-known
// fixed CommitId per store. It is never rewritten or abandoned.").
//
// Grounded on pkg/store/store.go's NewStoreWithCAS composition (wiring a
// CAS into higher-level typed operations), generalized from one fixed
// Commit shape to Blob/Tree/Commit/Conflict.
package objstore

import (
	"time"

	"jjcore/pkg/backend"
	"jjcore/pkg/ids"
	"jjcore/pkg/objects"
)

// rootTimestamp is the fixed committer/author time stamped on every
// store's well-known root commit, so its CommitId is reproducible.
var rootTimestamp = time.Unix(0, 0).UTC()

// Store exposes the typed object operations of spec.md §4.1.
type Store struct {
	backend backend.Store
}

// New wraps a backend.Store with typed object operations.
func New(b backend.Store) *Store {
	return &Store{backend: b}
}

func (s *Store) PutBlob(data []byte) (ids.FileId, error) {
	id, err := s.backend.Put(data)
	return ids.FileId{Id: id}, err
}

func (s *Store) GetBlob(id ids.FileId) ([]byte, error) {
	return s.backend.Get(id.Id)
}

func (s *Store) PutTree(t objects.Tree) (ids.TreeId, error) {
	t.Canonicalize()
	id, err := s.backend.Put(t.CanonicalBytes())
	return ids.TreeId{Id: id}, err
}

func (s *Store) GetTree(id ids.TreeId) (objects.Tree, error) {
	data, err := s.backend.Get(id.Id)
	if err != nil {
		return objects.Tree{}, err
	}
	return objects.DecodeTree(data)
}

func (s *Store) PutCommit(c objects.Commit) (ids.CommitId, error) {
	id, err := s.backend.Put(c.CanonicalBytes())
	return ids.CommitId{Id: id}, err
}

func (s *Store) GetCommit(id ids.CommitId) (objects.Commit, error) {
	data, err := s.backend.Get(id.Id)
	if err != nil {
		return objects.Commit{}, err
	}
	return objects.DecodeCommit(data)
}

func (s *Store) PutConflict(c objects.Conflict) (ids.ConflictId, error) {
	c.Canonicalize()
	id, err := s.backend.Put(c.CanonicalBytes())
	return ids.ConflictId{Id: id}, err
}

func (s *Store) GetConflict(id ids.ConflictId) (objects.Conflict, error) {
	data, err := s.backend.Get(id.Id)
	if err != nil {
		return objects.Conflict{}, err
	}
	return objects.DecodeConflict(data)
}

// EmptyTree returns the well-known empty tree's id, writing it if this
// is the first call against a fresh backend.
func (s *Store) EmptyTree() (ids.TreeId, error) {
	return s.PutTree(objects.Tree{Entries: nil})
}

// RootCommit returns the store's well-known root commit: zero parents,
// the empty tree, a fixed all-zero ChangeId, and a fixed epoch timestamp
// so that every store using the same hash function agrees on its id
// (spec.md §3).
func (s *Store) RootCommit() (objects.Commit, ids.CommitId, error) {
	emptyTree, err := s.EmptyTree()
	if err != nil {
		return objects.Commit{}, ids.CommitId{}, err
	}
	root := objects.Commit{
		RootTree: emptyTree,
		Parents:  nil,
		ChangeId: ids.ChangeId{},
		Author:   objects.Signature{Name: "", Email: "", Timestamp: rootTimestamp},
		Committer: objects.Signature{
			Name: "", Email: "", Timestamp: rootTimestamp,
		},
		Description: "",
	}
	id, err := s.PutCommit(root)
	return root, id, err
}
