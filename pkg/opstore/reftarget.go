// Package opstore implements spec.md §4.3: the operation log and the
// View value it records — the repository's total mutable state (heads,
// workspaces, branches, remotes, tags, git refs) plus the three-way
// per-field merge that reconciles two views descended from a common
// operation.
//
// Grounded on pkg/branch's ref/HEAD file semantics (generalized from a
// single-valued ref on disk to an in-memory, possibly-conflicted
// RefTarget) and original_source/lib/src/op_store.rs /
// default_index/composite.rs for the exact per-field merge rules
// spec.md §4.3 leaves as prose.
package opstore

import (
	"sort"

	"jjcore/pkg/ids"
	"jjcore/pkg/mset"
)

// RefTarget is a (possibly conflicted) multiset of commit ids a named
// reference resolves to (GLOSSARY). A target with a single add and no
// removes is a normal, unconflicted ref; more than one add, or any
// removes, means the ref is conflicted — mirroring the same
// removes/adds shape pkg/objects.Conflict uses for tree values, per
// spec.md §4.5's "a branch target pointing at C becomes the conflict
// {+T1...+Tk -C}".
type RefTarget struct {
	Removes []ids.CommitId
	Adds    []ids.CommitId
}

// NormalTarget builds an unconflicted RefTarget pointing at a single
// commit.
func NormalTarget(id ids.CommitId) RefTarget {
	return RefTarget{Adds: []ids.CommitId{id}}
}

// IsAbsent reports whether the ref should be treated as not existing
// (its adds cancelled out to nothing).
func (t RefTarget) IsAbsent() bool {
	return len(t.Adds) == 0
}

// IsConflicted reports whether t has more than one resolved target.
func (t RefTarget) IsConflicted() bool {
	return len(t.Removes) > 0 || len(t.Adds) > 1
}

// simplify cancels matching commit ids appearing in both removes and
// adds, the same multiset-cancellation rule spec.md §4.2 applies to
// tree Conflict objects.
func (t RefTarget) simplify() RefTarget {
	removes, adds := mset.CancelPairs(t.Removes, t.Adds)
	return RefTarget{Removes: removes, Adds: adds}
}

func (t RefTarget) canonicalize() RefTarget {
	t = t.simplify()
	sortCommitIds(t.Removes)
	sortCommitIds(t.Adds)
	return t
}

func sortCommitIds(cs []ids.CommitId) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Less(cs[j].Id) })
}

// mergeRefTarget performs spec.md §4.3's three-way multiset merge
// M = L ⊎ R ⊖ B: subtracting B contributes its adds as removes and its
// removes as adds, and canonicalize then cancels matching pairs. A ref
// moved from c1 to c2 on one side and to c3 on the other merges to
// {+c2, +c3, -c1}.
func mergeRefTarget(base, left, right RefTarget) RefTarget {
	adds := mset.Union(mset.Union(left.Adds, right.Adds), base.Removes)
	removes := mset.Union(mset.Union(left.Removes, right.Removes), base.Adds)
	return RefTarget{Adds: adds, Removes: removes}.canonicalize()
}

// TrackingState is whether a remote branch is followed by its local
// counterpart (spec.md §4.3).
type TrackingState int

const (
	NotTracking TrackingState = iota
	Tracking
)

// RemoteRef is one remote's view of a branch: its target and whether the
// local branch tracks it.
type RemoteRef struct {
	Target RefTarget
	State  TrackingState
}

// mergeRemoteRef merges a RemoteRef three-way: "if either side is
// Tracking the result is Tracking; otherwise New" (spec.md §4.3).
func mergeRemoteRef(base, left, right RemoteRef) RemoteRef {
	state := NotTracking
	if left.State == Tracking || right.State == Tracking {
		state = Tracking
	}
	return RemoteRef{
		Target: mergeRefTarget(base.Target, left.Target, right.Target),
		State:  state,
	}
}
