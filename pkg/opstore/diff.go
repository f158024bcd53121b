package opstore

import "jjcore/pkg/ids"

// ViewFieldDiff describes one named field's change between two views:
// which keys/elements were added and which were removed. For Heads and
// GitHead the "key" is empty and only the element lists are meaningful.
type ViewFieldDiff struct {
	Field   string
	Added   []string
	Removed []string
}

// Diff returns the set of view-field changes between two operations,
// reusing the view model's own field shapes instead of the view-merge
// machinery (spec.md's SUPPLEMENTED "operation diff" feature, grounded
// on jj's `cli/src/commands/operation/diff.rs`). Unlike MergeViews this
// never needs an AncestryOracle: it's a pure comparison, not a merge.
func Diff(r OperationReader, a, b ids.OperationId) ([]ViewFieldDiff, error) {
	opA, err := r.ReadOperation(a)
	if err != nil {
		return nil, err
	}
	opB, err := r.ReadOperation(b)
	if err != nil {
		return nil, err
	}
	viewA, err := r.ReadView(opA.ViewId)
	if err != nil {
		return nil, err
	}
	viewB, err := r.ReadView(opB.ViewId)
	if err != nil {
		return nil, err
	}
	return diffViews(viewA, viewB), nil
}

func diffViews(a, b View) []ViewFieldDiff {
	var out []ViewFieldDiff

	if d := diffCommitSet("heads", a.Heads, b.Heads); d != nil {
		out = append(out, *d)
	}
	if d := diffWorkspaces(a.Workspaces, b.Workspaces); d != nil {
		out = append(out, *d)
	}
	out = append(out, diffTargetMap("local_branches", a.LocalBranches, b.LocalBranches)...)
	out = append(out, diffTargetMap("tags", a.Tags, b.Tags)...)
	out = append(out, diffTargetMap("git_refs", a.GitRefs, b.GitRefs)...)
	out = append(out, diffRemoteViews(a.RemoteViews, b.RemoteViews)...)
	if d := diffTarget("git_head", a.GitHead, b.GitHead); d != nil {
		out = append(out, *d)
	}
	return out
}

func diffCommitSet(field string, a, b []ids.CommitId) *ViewFieldDiff {
	aSet, bSet := toSet(a), toSet(b)
	var added, removed []string
	for id := range bSet {
		if !aSet[id] {
			added = append(added, id.String())
		}
	}
	for id := range aSet {
		if !bSet[id] {
			removed = append(removed, id.String())
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	return &ViewFieldDiff{Field: field, Added: added, Removed: removed}
}

func diffWorkspaces(a, b map[string]ids.CommitId) *ViewFieldDiff {
	var added, removed []string
	for _, key := range unionKeys(a, b) {
		aId, aOk := a[key]
		bId, bOk := b[key]
		switch {
		case !aOk && bOk:
			added = append(added, key+"="+bId.String())
		case aOk && !bOk:
			removed = append(removed, key+"="+aId.String())
		case aOk && bOk && aId != bId:
			removed = append(removed, key+"="+aId.String())
			added = append(added, key+"="+bId.String())
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	return &ViewFieldDiff{Field: "workspaces", Added: added, Removed: removed}
}

func diffTargetMap(field string, a, b map[string]RefTarget) []ViewFieldDiff {
	var out []ViewFieldDiff
	for _, key := range unionKeys(a, b) {
		if d := diffTarget(field+"["+key+"]", a[key], b[key]); d != nil {
			out = append(out, *d)
		}
	}
	return out
}

func diffTarget(field string, a, b RefTarget) *ViewFieldDiff {
	addedIds := diffCommitIdSlice(b.Adds, a.Adds)
	removedIds := diffCommitIdSlice(a.Adds, b.Adds)
	if len(addedIds) == 0 && len(removedIds) == 0 {
		return nil
	}
	return &ViewFieldDiff{Field: field, Added: idStrings(addedIds), Removed: idStrings(removedIds)}
}

func diffRemoteViews(a, b map[string]map[string]RemoteRef) []ViewFieldDiff {
	var out []ViewFieldDiff
	for _, remote := range unionOuterKeys(a, b) {
		for _, branch := range unionKeys(a[remote], b[remote]) {
			field := "remote_views[" + remote + "/" + branch + "]"
			if d := diffTarget(field, a[remote][branch].Target, b[remote][branch].Target); d != nil {
				out = append(out, *d)
			}
		}
	}
	return out
}

func idStrings(commitIds []ids.CommitId) []string {
	out := make([]string, len(commitIds))
	for i, id := range commitIds {
		out[i] = id.String()
	}
	return out
}

// diffCommitIdSlice returns elements of b not present in a, treating
// both as plain sets (duplicate adds within a conflicted target aren't
// meaningful for this comparison).
func diffCommitIdSlice(b, a []ids.CommitId) []ids.CommitId {
	aSet := toSet(a)
	var out []ids.CommitId
	seen := map[ids.CommitId]bool{}
	for _, id := range b {
		if !aSet[id] && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
