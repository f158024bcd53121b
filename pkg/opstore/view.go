package opstore

import (
	"sort"

	"jjcore/pkg/ids"
)

// localGitRemoteName is the remote name reserved for the implementation-
// managed git mirror (spec.md §4.3): "never tracked explicitly".
const localGitRemoteName = "git"

// View is the total mutable state of a repository as a value (spec.md
// §4.3).
type View struct {
	Heads         []ids.CommitId
	Workspaces    map[string]ids.CommitId
	LocalBranches map[string]RefTarget
	RemoteViews   map[string]map[string]RemoteRef
	Tags          map[string]RefTarget
	GitRefs       map[string]RefTarget
	GitHead       RefTarget
}

// AncestryOracle answers ancestry queries over the commit graph; pkg/index's
// CompositeIndex implements it. View merge needs it only to prune the
// merged heads back down to an antichain.
type AncestryOracle interface {
	IsAncestor(ancestor, descendant ids.CommitId) bool
}

// Canonicalize sorts every field of v into a deterministic order, so two
// independently constructed but logically equal Views hash identically.
func (v *View) Canonicalize() {
	sortCommitIds(v.Heads)
	for k, t := range v.LocalBranches {
		v.LocalBranches[k] = t.canonicalize()
	}
	for remote, branches := range v.RemoteViews {
		for branch, ref := range branches {
			ref.Target = ref.Target.canonicalize()
			v.RemoteViews[remote][branch] = ref
		}
	}
	for k, t := range v.Tags {
		v.Tags[k] = t.canonicalize()
	}
	for k, t := range v.GitRefs {
		v.GitRefs[k] = t.canonicalize()
	}
	v.GitHead = v.GitHead.canonicalize()
}

// MergeViews reconciles two views L and R that both descend from a
// common ancestor view B, per spec.md §4.3's per-field three-way merge.
func MergeViews(anc AncestryOracle, base, left, right View) View {
	merged := View{
		Heads:         mergeHeads(anc, base.Heads, left.Heads, right.Heads),
		Workspaces:    mergeWorkspaces(base.Workspaces, left.Workspaces, right.Workspaces),
		LocalBranches: mergeTargetMap(base.LocalBranches, left.LocalBranches, right.LocalBranches),
		RemoteViews:   mergeRemoteViews(base.RemoteViews, left.RemoteViews, right.RemoteViews),
		Tags:          mergeTargetMap(base.Tags, left.Tags, right.Tags),
		GitRefs:       mergeTargetMap(base.GitRefs, left.GitRefs, right.GitRefs),
		GitHead:       mergeRefTarget(base.GitHead, left.GitHead, right.GitHead),
	}
	merged.Canonicalize()
	return merged
}

// mergeHeads implements spec.md §4.3's head-merge algorithm: start from
// L, drop heads B had that R dropped, add heads R has that weren't in
// B, then prune the result down to an antichain.
func mergeHeads(anc AncestryOracle, base, left, right []ids.CommitId) []ids.CommitId {
	result := toSet(left)
	baseSet := toSet(base)
	rightSet := toSet(right)

	for h := range baseSet {
		if !rightSet[h] {
			delete(result, h)
		}
	}
	for h := range rightSet {
		if !baseSet[h] {
			result[h] = true
		}
	}

	out := fromSet(result)
	out = pruneToAntichain(anc, out)
	sortCommitIds(out)
	return out
}

// pruneToAntichain drops any commit that is an ancestor of another
// commit in the set (spec.md §4.3: "finally, prune the result to an
// antichain").
func pruneToAntichain(anc AncestryOracle, cs []ids.CommitId) []ids.CommitId {
	var out []ids.CommitId
	for i, c := range cs {
		ancestorOfOther := false
		for j, other := range cs {
			if i == j {
				continue
			}
			if anc.IsAncestor(c, other) {
				ancestorOfOther = true
				break
			}
		}
		if !ancestorOfOther {
			out = append(out, c)
		}
	}
	return out
}

func toSet(cs []ids.CommitId) map[ids.CommitId]bool {
	set := make(map[ids.CommitId]bool, len(cs))
	for _, c := range cs {
		set[c] = true
	}
	return set
}

func fromSet(set map[ids.CommitId]bool) []ids.CommitId {
	out := make([]ids.CommitId, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// mergeTargetMap merges a map[string]RefTarget field (branches, tags,
// git_refs) per spec.md §4.3: per key, three-way merge the targets; a
// key absent from all three stays absent, and a key whose merged target
// has no adds is dropped.
func mergeTargetMap(base, left, right map[string]RefTarget) map[string]RefTarget {
	merged := map[string]RefTarget{}
	for _, key := range unionKeys(base, left, right) {
		result := mergeRefTarget(base[key], left[key], right[key])
		if !result.IsAbsent() {
			merged[key] = result
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

// mergeWorkspaces merges the workspaces field the same way as any other
// map-valued field (spec.md §4.3 lists it among them), even though its
// value type is a single CommitId rather than a RefTarget: each key's
// base/left/right commit ids are wrapped as unconflicted RefTargets for
// the merge, and any resulting conflict is resolved by picking the
// lowest commit id (a workspace pointer can't literally be conflicted;
// see DESIGN.md's Open Question decision for this field).
func mergeWorkspaces(base, left, right map[string]ids.CommitId) map[string]ids.CommitId {
	merged := map[string]ids.CommitId{}
	for _, key := range unionKeys(base, left, right) {
		baseTarget := workspaceTarget(base, key)
		leftTarget := workspaceTarget(left, key)
		rightTarget := workspaceTarget(right, key)
		result := mergeRefTarget(baseTarget, leftTarget, rightTarget)
		if result.IsAbsent() {
			continue
		}
		adds := append([]ids.CommitId(nil), result.Adds...)
		sortCommitIds(adds)
		merged[key] = adds[0]
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

func workspaceTarget(m map[string]ids.CommitId, key string) RefTarget {
	id, ok := m[key]
	if !ok {
		return RefTarget{}
	}
	return NormalTarget(id)
}

// mergeRemoteViews merges the remote_views field per (remote, branch)
// pair, forcing the implementation-managed git-mirror remote to stay
// untracked regardless of what the merge computes.
func mergeRemoteViews(base, left, right map[string]map[string]RemoteRef) map[string]map[string]RemoteRef {
	merged := map[string]map[string]RemoteRef{}
	for _, remote := range unionOuterKeys(base, left, right) {
		branches := map[string]RemoteRef{}
		for _, branch := range unionKeys(base[remote], left[remote], right[remote]) {
			result := mergeRemoteRef(base[remote][branch], left[remote][branch], right[remote][branch])
			if remote == localGitRemoteName {
				result.State = NotTracking
			}
			if !result.Target.IsAbsent() {
				branches[branch] = result
			}
		}
		if len(branches) > 0 {
			merged[remote] = branches
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

func unionKeys[V any](maps ...map[string]V) []string {
	seen := map[string]bool{}
	var keys []string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func unionOuterKeys(maps ...map[string]map[string]RemoteRef) []string {
	seen := map[string]bool{}
	var keys []string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}
