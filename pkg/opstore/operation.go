package opstore

import (
	"time"

	"jjcore/pkg/ids"
)

// Operation is one content-addressed record in the operation log
// (spec.md §4.3, GLOSSARY): it points at a View and its predecessor
// operations, forming the op-DAG.
type Operation struct {
	ViewId      ids.ViewId
	Parents     []ids.OperationId
	Description string
	Tags        map[string]string
	Start       time.Time
	End         time.Time
}

// mergeDescription is the fixed description stamped on a synthetic
// operation produced by reconciling concurrent leaves (spec.md §4.3).
const mergeDescription = "reconcile divergent operations"

// OperationReader loads operations and views by id, as needed to walk
// the op-DAG and resolve common ancestors.
type OperationReader interface {
	ReadOperation(id ids.OperationId) (Operation, error)
	ReadView(id ids.ViewId) (View, error)
}

// CommonAncestorOperation walks the op-DAG backward from each of ops and
// returns one operation id that is a common ancestor of all of them
// (any deepest common ancestor suffices; spec.md §4.3 only requires
// folding pairwise using "their greatest common ancestors").
func CommonAncestorOperation(r OperationReader, ops []ids.OperationId) (ids.OperationId, error) {
	if len(ops) == 0 {
		return ids.OperationId{}, nil
	}
	ancestorSets := make([]map[ids.OperationId]bool, len(ops))
	for i, op := range ops {
		set, err := ancestorsOf(r, op)
		if err != nil {
			return ids.OperationId{}, err
		}
		ancestorSets[i] = set
	}

	common := ancestorSets[0]
	for _, set := range ancestorSets[1:] {
		for id := range common {
			if !set[id] {
				delete(common, id)
			}
		}
	}

	// Among the shared ancestors, pick the one whose own ancestors
	// include the most other shared ancestors: the deepest (most
	// recent) common ancestor.
	var best ids.OperationId
	bestDepth := -1
	for id := range common {
		set, err := ancestorsOf(r, id)
		if err != nil {
			return ids.OperationId{}, err
		}
		if len(set) > bestDepth {
			bestDepth = len(set)
			best = id
		}
	}
	return best, nil
}

func ancestorsOf(r OperationReader, op ids.OperationId) (map[ids.OperationId]bool, error) {
	visited := map[ids.OperationId]bool{op: true}
	queue := []ids.OperationId{op}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		record, err := r.ReadOperation(id)
		if err != nil {
			return nil, err
		}
		for _, parent := range record.Parents {
			if !visited[parent] {
				visited[parent] = true
				queue = append(queue, parent)
			}
		}
	}
	return visited, nil
}

// MergeOperations folds concurrent leaf operations O1..On into a single
// synthetic operation whose view is the iterated pairwise view merge of
// their views against the common ancestor, and whose parents are the
// leaves themselves (spec.md §4.3's "Operation merge"). The fold is
// associative because the underlying per-field view merge is, so folding
// left-to-right over more than two leaves is safe. The merged view and
// operation are written through s so the returned id is immediately
// readable.
func MergeOperations(s *Store, anc AncestryOracle, leaves []ids.OperationId, now time.Time) (ids.OperationId, Operation, error) {
	if len(leaves) == 0 {
		return ids.OperationId{}, Operation{}, nil
	}
	if len(leaves) == 1 {
		op, err := s.ReadOperation(leaves[0])
		return leaves[0], op, err
	}

	baseId, err := CommonAncestorOperation(s, leaves)
	if err != nil {
		return ids.OperationId{}, Operation{}, err
	}
	baseOp, err := s.ReadOperation(baseId)
	if err != nil {
		return ids.OperationId{}, Operation{}, err
	}
	baseView, err := s.ReadView(baseOp.ViewId)
	if err != nil {
		return ids.OperationId{}, Operation{}, err
	}

	firstOp, err := s.ReadOperation(leaves[0])
	if err != nil {
		return ids.OperationId{}, Operation{}, err
	}
	merged, err := s.ReadView(firstOp.ViewId)
	if err != nil {
		return ids.OperationId{}, Operation{}, err
	}
	for _, leaf := range leaves[1:] {
		op, err := s.ReadOperation(leaf)
		if err != nil {
			return ids.OperationId{}, Operation{}, err
		}
		view, err := s.ReadView(op.ViewId)
		if err != nil {
			return ids.OperationId{}, Operation{}, err
		}
		merged = MergeViews(anc, baseView, merged, view)
	}

	viewId, err := s.WriteView(merged)
	if err != nil {
		return ids.OperationId{}, Operation{}, err
	}
	mergeOp := Operation{
		ViewId:      viewId,
		Parents:     leaves,
		Description: mergeDescription,
		Start:       now,
		End:         now,
	}
	opId, err := s.WriteOperation(mergeOp)
	if err != nil {
		return ids.OperationId{}, Operation{}, err
	}
	return opId, mergeOp, nil
}
