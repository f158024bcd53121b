// Package merge implements the tree layer of spec.md §4.2: recursive
// three-way tree merge, conflict object simplification, and the
// line-level three-way file content merge used when both sides touch
// the same regular file.
//
// Grounded on pkg/tree/diff.go's recursive subtree comparison (skip
// matching hashes, recurse into differing subtrees) and pkg/tree/builder.go's
// bottom-up construction, generalized from a flat prolly-tree keyed by
// rolling-hash chunk boundaries to the path-keyed directory tree spec.md
// §3–§4.2 describes.
package merge

import (
	"jjcore/pkg/ids"
	"jjcore/pkg/mset"
	"jjcore/pkg/objects"
)

// ConflictReader loads nested conflict objects during simplification.
type ConflictReader interface {
	GetConflict(id ids.ConflictId) (objects.Conflict, error)
}

// Resolution is the outcome of simplifying a conflict (spec.md §4.2's
// three numbered rules).
type Resolution struct {
	// Absent is true if the path should not exist (adds became empty).
	Absent bool
	// Value is set if the conflict resolved to a single normal value
	// (removes empty, exactly one add).
	Value *objects.TreeValue
	// Conflict is set if a genuine multi-term conflict remains and must
	// be persisted as a Conflict object.
	Conflict *objects.Conflict
}

// Simplify applies spec.md §4.2's three simplification rules to c:
//  1. expand any term whose value is itself a Conflict (positive terms
//     keep their nested adds/removes as-is; negative terms swap them),
//  2. cancel identical value pairs appearing in both removes and adds,
//  3. classify the remainder as absent, a single resolved value, or a
//     conflict to persist.
func Simplify(r ConflictReader, c objects.Conflict) (Resolution, error) {
	var removes, adds []objects.ConflictTerm
	if err := expand(r, c.Adds, false, &removes, &adds); err != nil {
		return Resolution{}, err
	}
	if err := expand(r, c.Removes, true, &removes, &adds); err != nil {
		return Resolution{}, err
	}

	removes, adds = mset.CancelPairs(removes, adds)

	switch {
	case len(adds) == 0:
		return Resolution{Absent: true}, nil
	case len(removes) == 0 && len(adds) == 1:
		v := adds[0].Value
		return Resolution{Value: &v}, nil
	default:
		result := objects.Conflict{Removes: removes, Adds: adds}
		result.Canonicalize()
		return Resolution{Conflict: &result}, nil
	}
}

// expand recursively flattens terms into outRemoves/outAdds. negative
// indicates whether terms is itself a "removes" list (true) or an
// "adds" list (false); a nested conflict's own adds inherit the term's
// polarity unchanged, its removes inherit the flipped polarity — which
// is exactly "positive terms contribute adds/removes unchanged; negative
// terms contribute adds as removes and removes as adds" (spec.md §4.2).
func expand(r ConflictReader, terms []objects.ConflictTerm, negative bool, outRemoves, outAdds *[]objects.ConflictTerm) error {
	for _, term := range terms {
		if term.Value.Kind != objects.KindConflict {
			if negative {
				*outRemoves = append(*outRemoves, term)
			} else {
				*outAdds = append(*outAdds, term)
			}
			continue
		}

		nested, err := r.GetConflict(ids.ConflictId{Id: term.Value.Id})
		if err != nil {
			return err
		}
		if err := expand(r, nested.Adds, negative, outRemoves, outAdds); err != nil {
			return err
		}
		if err := expand(r, nested.Removes, !negative, outRemoves, outAdds); err != nil {
			return err
		}
	}
	return nil
}
