package merge

import (
	"jjcore/pkg/ids"
	"jjcore/pkg/objects"
)

// Store is the subset of pkg/objstore.Store's operations MergeTrees needs
// to read existing trees/blobs/conflicts and write the merged results.
type Store interface {
	TreeReader
	ConflictReader
	GetBlob(id ids.FileId) ([]byte, error)
	PutBlob(data []byte) (ids.FileId, error)
	PutTree(t objects.Tree) (ids.TreeId, error)
	PutConflict(c objects.Conflict) (ids.ConflictId, error)
}

// MergeTrees performs spec.md §4.2's recursive three-way tree merge.
// Matching the identity shortcuts it's built on — if side1 and side2
// didn't both change relative to base, no recursion is needed at all.
func MergeTrees(s Store, base, side1, side2 ids.TreeId) (ids.TreeId, error) {
	if side1 == base {
		return side2, nil
	}
	if side2 == base || side2 == side1 {
		return side1, nil
	}

	baseTree, err := s.GetTree(base)
	if err != nil {
		return ids.TreeId{}, err
	}
	side1Tree, err := s.GetTree(side1)
	if err != nil {
		return ids.TreeId{}, err
	}
	side2Tree, err := s.GetTree(side2)
	if err != nil {
		return ids.TreeId{}, err
	}

	names := unionNames(baseTree, side1Tree, side2Tree)
	var merged objects.Tree
	for _, name := range names {
		baseV, hasBase := baseTree.Lookup(name)
		side1V, hasSide1 := side1Tree.Lookup(name)
		side2V, hasSide2 := side2Tree.Lookup(name)

		value, present, err := mergeValue(s, optValueOf(hasBase, baseV), optValueOf(hasSide1, side1V), optValueOf(hasSide2, side2V))
		if err != nil {
			return ids.TreeId{}, err
		}
		if present {
			merged.Entries = append(merged.Entries, objects.TreeEntry{Name: name, Value: value})
		}
	}
	return s.PutTree(merged)
}

// optValue holds a TreeValue that may or may not be present at a path,
// treating "absent" as its own value for the three-way comparisons below.
type optValue struct {
	present bool
	value   objects.TreeValue
}

func optValueOf(present bool, v objects.TreeValue) optValue {
	return optValue{present: present, value: v}
}

// unionNames collects every entry name appearing in any of the three
// trees, in first-seen order (PutTree canonicalizes the merged result).
func unionNames(trees ...objects.Tree) []string {
	seen := map[string]bool{}
	var names []string
	for _, t := range trees {
		for _, e := range t.Entries {
			if !seen[e.Name] {
				seen[e.Name] = true
				names = append(names, e.Name)
			}
		}
	}
	return names
}

func equalOpt(a, b optValue) bool {
	if a.present != b.present {
		return false
	}
	if !a.present {
		return true
	}
	return a.value.Equal(b.value)
}

// mergeValue resolves one path's three-way merge: identity shortcuts,
// then recursion for tree-vs-tree, content merge for blob-vs-blob, and a
// persisted Conflict for everything else spec.md §4.2 says not to try to
// resolve (file-vs-directory, modify-vs-delete).
func mergeValue(s Store, base, side1, side2 optValue) (objects.TreeValue, bool, error) {
	if equalOpt(side1, base) {
		return side2.value, side2.present, nil
	}
	if equalOpt(side2, base) || equalOpt(side2, side1) {
		return side1.value, side1.present, nil
	}

	if base.present && side1.present && side2.present &&
		base.value.Kind == objects.KindTree && side1.value.Kind == objects.KindTree && side2.value.Kind == objects.KindTree {
		mergedId, err := MergeTrees(s, ids.TreeId{Id: base.value.Id}, ids.TreeId{Id: side1.value.Id}, ids.TreeId{Id: side2.value.Id})
		if err != nil {
			return objects.TreeValue{}, false, err
		}
		return objects.TreeValue{Kind: objects.KindTree, Id: mergedId.Id}, true, nil
	}

	if base.present && side1.present && side2.present &&
		side1.value.Kind == objects.KindBlob && side2.value.Kind == objects.KindBlob && base.value.Kind == objects.KindBlob {
		resolved, ok, err := mergeBlobValues(s, base.value, side1.value, side2.value)
		if err != nil {
			return objects.TreeValue{}, false, err
		}
		if ok {
			return resolved, true, nil
		}
	}

	return resolveConflict(s, base, side1, side2)
}

// mergeBlobValues attempts a line-level content merge of two blobs that
// both changed relative to a common base blob. It never attempts a
// content merge across an executable-bit change alone; bit flips are
// resolved by majority vote once the content side is settled.
func mergeBlobValues(s Store, base, side1, side2 objects.TreeValue) (objects.TreeValue, bool, error) {
	baseData, err := s.GetBlob(ids.FileId{Id: base.Id})
	if err != nil {
		return objects.TreeValue{}, false, err
	}
	side1Data, err := s.GetBlob(ids.FileId{Id: side1.Id})
	if err != nil {
		return objects.TreeValue{}, false, err
	}
	side2Data, err := s.GetBlob(ids.FileId{Id: side2.Id})
	if err != nil {
		return objects.TreeValue{}, false, err
	}

	merged, ok := MergeFileContent(baseData, side1Data, side2Data)
	if !ok {
		return objects.TreeValue{}, false, nil
	}
	id, err := s.PutBlob(merged)
	if err != nil {
		return objects.TreeValue{}, false, err
	}
	return objects.TreeValue{
		Kind:       objects.KindBlob,
		Id:         id.Id,
		Executable: mergeExecutableBit(base.Executable, side1.Executable, side2.Executable),
	}, true, nil
}

// mergeExecutableBit applies the same three-way identity rule to the
// executable bit as to everything else: unchanged on one side takes the
// other side, agreement on both sides wins outright.
func mergeExecutableBit(base, side1, side2 bool) bool {
	if side1 == base {
		return side2
	}
	return side1
}

// resolveConflict materializes the unresolved paths of base/side1/side2
// as a Conflict object and runs it through Simplify before deciding
// whether a real conflict needs to be persisted at all (spec.md §4.2's
// simplification rules apply to every newly constructed conflict, not
// just ones read back from storage).
func resolveConflict(s Store, base, side1, side2 optValue) (objects.TreeValue, bool, error) {
	c := objects.Conflict{}
	if side1.present {
		c.Adds = append(c.Adds, objects.ConflictTerm{Value: side1.value})
	}
	if side2.present {
		c.Adds = append(c.Adds, objects.ConflictTerm{Value: side2.value})
	}
	if base.present {
		c.Removes = append(c.Removes, objects.ConflictTerm{Value: base.value})
	}
	c.Canonicalize()

	resolution, err := Simplify(s, c)
	if err != nil {
		return objects.TreeValue{}, false, err
	}
	switch {
	case resolution.Absent:
		return objects.TreeValue{}, false, nil
	case resolution.Value != nil:
		return *resolution.Value, true, nil
	default:
		id, err := s.PutConflict(*resolution.Conflict)
		if err != nil {
			return objects.TreeValue{}, false, err
		}
		return objects.TreeValue{Kind: objects.KindConflict, Id: id.Id}, true, nil
	}
}
