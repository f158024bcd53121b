package merge

import (
	"path"

	"jjcore/pkg/ids"
	"jjcore/pkg/objects"
)

// TreeReader is the read side of an object store needed for diffing and
// merging trees.
type TreeReader interface {
	GetTree(id ids.TreeId) (objects.Tree, error)
}

// VisitFunc receives one changed path during a diff walk. before/after
// are nil when the path is being added/removed.
type VisitFunc func(path string, before, after *objects.TreeValue) error

// Diff walks the changes between a and b (spec.md §4.2), recursing into
// subdirectories only where hashes differ and skipping identical
// subtrees entirely — the same shortcut pkg/tree/diff.go's
// diffAlignedChildren used for prolly-tree children.
func Diff(r TreeReader, a, b ids.TreeId, visit VisitFunc) error {
	if a == b {
		return nil
	}
	return diffAt(r, a, b, "", visit)
}

func diffAt(r TreeReader, aId, bId ids.TreeId, prefix string, visit VisitFunc) error {
	aTree, err := r.GetTree(aId)
	if err != nil {
		return err
	}
	bTree, err := r.GetTree(bId)
	if err != nil {
		return err
	}
	aTree.Canonicalize()
	bTree.Canonicalize()

	i, j := 0, 0
	for i < len(aTree.Entries) || j < len(bTree.Entries) {
		switch {
		case j >= len(bTree.Entries) || (i < len(aTree.Entries) && keyOf(aTree.Entries[i]) < keyOf(bTree.Entries[j])):
			entry := aTree.Entries[i]
			if err := visit(path.Join(prefix, entry.Name), &entry.Value, nil); err != nil {
				return err
			}
			i++
		case i >= len(aTree.Entries) || keyOf(bTree.Entries[j]) < keyOf(aTree.Entries[i]):
			entry := bTree.Entries[j]
			if err := visit(path.Join(prefix, entry.Name), nil, &entry.Value); err != nil {
				return err
			}
			j++
		default:
			av, bv := aTree.Entries[i].Value, bTree.Entries[j].Value
			name := aTree.Entries[i].Name
			if !av.Equal(bv) {
				if av.Kind == objects.KindTree && bv.Kind == objects.KindTree {
					if err := diffAt(r, ids.TreeId{Id: av.Id}, ids.TreeId{Id: bv.Id}, path.Join(prefix, name), visit); err != nil {
						return err
					}
				} else if err := visit(path.Join(prefix, name), &av, &bv); err != nil {
					return err
				}
			}
			i++
			j++
		}
	}
	return nil
}

func keyOf(e objects.TreeEntry) string {
	return objects.SortKey(e.Name, e.Value.Kind)
}
