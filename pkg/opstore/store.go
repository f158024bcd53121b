package opstore

import (
	"encoding/json"

	"github.com/pkg/errors"

	"jjcore/pkg/backend"
	"jjcore/pkg/ids"
)

// Store persists Operations and Views as content-addressed records
// (spec.md §4.3: "write_view/write_operation are idempotent on content;
// read_view/read_operation are total for non-GC'd IDs"), the same
// content-addressing discipline pkg/objstore applies to the four object
// kinds, reused here for the op-DAG's own two record kinds.
type Store struct {
	backend backend.Store
}

// New wraps a backend.Store with typed view/operation persistence.
func New(b backend.Store) *Store {
	return &Store{backend: b}
}

func (s *Store) WriteView(v View) (ids.ViewId, error) {
	v.Canonicalize()
	data, err := json.Marshal(v)
	if err != nil {
		return ids.ViewId{}, errors.Wrap(err, "encode view")
	}
	id, err := s.backend.Put(data)
	return ids.ViewId{Id: id}, err
}

func (s *Store) ReadView(id ids.ViewId) (View, error) {
	data, err := s.backend.Get(id.Id)
	if err != nil {
		return View{}, err
	}
	var v View
	if err := json.Unmarshal(data, &v); err != nil {
		return View{}, errors.Wrap(err, "decode view")
	}
	return v, nil
}

func (s *Store) WriteOperation(op Operation) (ids.OperationId, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return ids.OperationId{}, errors.Wrap(err, "encode operation")
	}
	id, err := s.backend.Put(data)
	return ids.OperationId{Id: id}, err
}

func (s *Store) ReadOperation(id ids.OperationId) (Operation, error) {
	data, err := s.backend.Get(id.Id)
	if err != nil {
		return Operation{}, err
	}
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return Operation{}, errors.Wrap(err, "decode operation")
	}
	return op, nil
}
