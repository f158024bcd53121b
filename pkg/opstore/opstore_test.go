package opstore_test

import (
	"testing"
	"time"

	"jjcore/pkg/backend"
	"jjcore/pkg/ids"
	"jjcore/pkg/opstore"
)

func newTestStore(t *testing.T) *opstore.Store {
	t.Helper()
	b, err := backend.NewFileStore(t.TempDir(), ids.Blake2b256, false)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return opstore.New(b)
}

func randomCommitId(t *testing.T, seed string) ids.CommitId {
	t.Helper()
	return ids.CommitId{Id: ids.Blake2b256([]byte(seed))}
}

// noAncestry treats no commit as an ancestor of another — enough for
// tests that don't exercise head pruning.
type noAncestry struct{}

func (noAncestry) IsAncestor(ids.CommitId, ids.CommitId) bool { return false }

func TestStore_ViewRoundTrip(t *testing.T) {
	s := newTestStore(t)
	c1 := randomCommitId(t, "c1")

	v := opstore.View{
		Heads:         []ids.CommitId{c1},
		LocalBranches: map[string]opstore.RefTarget{"main": opstore.NormalTarget(c1)},
	}
	id, err := s.WriteView(v)
	if err != nil {
		t.Fatalf("WriteView: %v", err)
	}
	got, err := s.ReadView(id)
	if err != nil {
		t.Fatalf("ReadView: %v", err)
	}
	if len(got.Heads) != 1 || got.Heads[0] != c1 {
		t.Fatalf("unexpected heads: %+v", got.Heads)
	}
	if got.LocalBranches["main"].Adds[0] != c1 {
		t.Fatalf("unexpected branch target: %+v", got.LocalBranches["main"])
	}
}

func TestStore_ViewWriteIsContentAddressed(t *testing.T) {
	s := newTestStore(t)
	c1 := randomCommitId(t, "c1")
	v := opstore.View{Heads: []ids.CommitId{c1}}

	id1, err := s.WriteView(v)
	if err != nil {
		t.Fatalf("WriteView: %v", err)
	}
	id2, err := s.WriteView(v)
	if err != nil {
		t.Fatalf("WriteView: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected identical content to produce identical view id, got %v vs %v", id1, id2)
	}
}

func TestMergeViews_NonConflictingBranchChangesMerge(t *testing.T) {
	c1 := randomCommitId(t, "c1")
	c2 := randomCommitId(t, "c2")
	c3 := randomCommitId(t, "c3")

	base := opstore.View{LocalBranches: map[string]opstore.RefTarget{
		"main":    opstore.NormalTarget(c1),
		"feature": opstore.NormalTarget(c2),
	}}
	left := opstore.View{LocalBranches: map[string]opstore.RefTarget{
		"main":    opstore.NormalTarget(c3),
		"feature": opstore.NormalTarget(c2),
	}}
	right := opstore.View{LocalBranches: map[string]opstore.RefTarget{
		"main":    opstore.NormalTarget(c1),
		"feature": opstore.NormalTarget(c1),
	}}

	merged := opstore.MergeViews(noAncestry{}, base, left, right)
	if merged.LocalBranches["main"].Adds[0] != c3 {
		t.Fatalf("expected main to carry left's move, got %+v", merged.LocalBranches["main"])
	}
	if merged.LocalBranches["feature"].Adds[0] != c1 {
		t.Fatalf("expected feature to carry right's move, got %+v", merged.LocalBranches["feature"])
	}
}

func TestMergeViews_ConflictingBranchMoveProducesConflict(t *testing.T) {
	c1 := randomCommitId(t, "c1")
	c2 := randomCommitId(t, "c2")
	c3 := randomCommitId(t, "c3")

	base := opstore.View{LocalBranches: map[string]opstore.RefTarget{"main": opstore.NormalTarget(c1)}}
	left := opstore.View{LocalBranches: map[string]opstore.RefTarget{"main": opstore.NormalTarget(c2)}}
	right := opstore.View{LocalBranches: map[string]opstore.RefTarget{"main": opstore.NormalTarget(c3)}}

	merged := opstore.MergeViews(noAncestry{}, base, left, right)
	target := merged.LocalBranches["main"]
	if !target.IsConflicted() {
		t.Fatalf("expected main to be conflicted, got %+v", target)
	}
	if len(target.Adds) != 2 || len(target.Removes) != 1 {
		t.Fatalf("expected {+c2,+c3,-c1}, got %+v", target)
	}
}

func TestMergeViews_BranchDeletedOnOneSideIsDropped(t *testing.T) {
	c1 := randomCommitId(t, "c1")

	base := opstore.View{LocalBranches: map[string]opstore.RefTarget{"gone": opstore.NormalTarget(c1)}}
	left := opstore.View{LocalBranches: map[string]opstore.RefTarget{"gone": opstore.NormalTarget(c1)}}
	right := opstore.View{} // deleted "gone"

	merged := opstore.MergeViews(noAncestry{}, base, left, right)
	if _, ok := merged.LocalBranches["gone"]; ok {
		t.Fatalf("expected deleted branch to stay absent, got %+v", merged.LocalBranches)
	}
}

func TestMergeViews_RemoteTrackingStateWinsIfEitherSideTracks(t *testing.T) {
	c1 := randomCommitId(t, "c1")
	base := opstore.View{RemoteViews: map[string]map[string]opstore.RemoteRef{
		"origin": {"main": {Target: opstore.NormalTarget(c1), State: opstore.NotTracking}},
	}}
	left := opstore.View{RemoteViews: map[string]map[string]opstore.RemoteRef{
		"origin": {"main": {Target: opstore.NormalTarget(c1), State: opstore.Tracking}},
	}}
	right := base

	merged := opstore.MergeViews(noAncestry{}, base, left, right)
	if merged.RemoteViews["origin"]["main"].State != opstore.Tracking {
		t.Fatalf("expected tracking to win, got %+v", merged.RemoteViews["origin"]["main"])
	}
}

func TestMergeOperations_FoldsConcurrentLeaves(t *testing.T) {
	s := newTestStore(t)
	c1 := randomCommitId(t, "c1")
	c2 := randomCommitId(t, "c2")
	c3 := randomCommitId(t, "c3")

	baseView := opstore.View{LocalBranches: map[string]opstore.RefTarget{"main": opstore.NormalTarget(c1)}}
	baseViewId, err := s.WriteView(baseView)
	if err != nil {
		t.Fatalf("WriteView: %v", err)
	}
	baseOpId, err := s.WriteOperation(opstore.Operation{ViewId: baseViewId, Description: "init"})
	if err != nil {
		t.Fatalf("WriteOperation: %v", err)
	}

	leftView := opstore.View{LocalBranches: map[string]opstore.RefTarget{"main": opstore.NormalTarget(c2)}}
	leftViewId, err := s.WriteView(leftView)
	if err != nil {
		t.Fatalf("WriteView: %v", err)
	}
	leftOpId, err := s.WriteOperation(opstore.Operation{ViewId: leftViewId, Parents: []ids.OperationId{baseOpId}, Description: "move to c2"})
	if err != nil {
		t.Fatalf("WriteOperation: %v", err)
	}

	rightView := opstore.View{LocalBranches: map[string]opstore.RefTarget{
		"main": opstore.NormalTarget(c1),
		"side": opstore.NormalTarget(c3),
	}}
	rightViewId, err := s.WriteView(rightView)
	if err != nil {
		t.Fatalf("WriteView: %v", err)
	}
	rightOpId, err := s.WriteOperation(opstore.Operation{ViewId: rightViewId, Parents: []ids.OperationId{baseOpId}, Description: "add side branch"})
	if err != nil {
		t.Fatalf("WriteOperation: %v", err)
	}

	mergedOpId, mergedOp, err := opstore.MergeOperations(s, noAncestry{}, []ids.OperationId{leftOpId, rightOpId}, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("MergeOperations: %v", err)
	}
	if mergedOp.Description != "reconcile divergent operations" {
		t.Fatalf("unexpected description: %q", mergedOp.Description)
	}
	mergedView, err := s.ReadView(mergedOp.ViewId)
	if err != nil {
		t.Fatalf("ReadView: %v", err)
	}
	if mergedView.LocalBranches["main"].Adds[0] != c2 {
		t.Fatalf("expected main to carry left's move, got %+v", mergedView.LocalBranches["main"])
	}
	if mergedView.LocalBranches["side"].Adds[0] != c3 {
		t.Fatalf("expected side branch to survive the merge, got %+v", mergedView.LocalBranches)
	}

	reread, err := s.ReadOperation(mergedOpId)
	if err != nil {
		t.Fatalf("ReadOperation: %v", err)
	}
	if len(reread.Parents) != 2 {
		t.Fatalf("expected 2 parents, got %d", len(reread.Parents))
	}
}

func TestLeafTracker_CompareAndSwap(t *testing.T) {
	lt, err := opstore.NewLeafTracker(t.TempDir())
	if err != nil {
		t.Fatalf("NewLeafTracker: %v", err)
	}
	op1 := ids.OperationId{Id: ids.Blake2b256([]byte("op1"))}
	op2 := ids.OperationId{Id: ids.Blake2b256([]byte("op2"))}

	if err := lt.CompareAndSwap(nil, []ids.OperationId{op1}); err != nil {
		t.Fatalf("first CAS: %v", err)
	}
	got, err := lt.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 1 || got[0] != op1 {
		t.Fatalf("unexpected leaves: %+v", got)
	}

	if err := lt.CompareAndSwap([]ids.OperationId{op1}, []ids.OperationId{op1, op2}); err != nil {
		t.Fatalf("second CAS: %v", err)
	}

	if err := lt.CompareAndSwap(nil, []ids.OperationId{op2}); err != opstore.ErrLeavesChanged {
		t.Fatalf("expected ErrLeavesChanged for stale expected set, got %v", err)
	}
}

func TestDiff_ReportsBranchMove(t *testing.T) {
	s := newTestStore(t)
	c1 := randomCommitId(t, "c1")
	c2 := randomCommitId(t, "c2")

	viewA, _ := s.WriteView(opstore.View{LocalBranches: map[string]opstore.RefTarget{"main": opstore.NormalTarget(c1)}})
	viewB, _ := s.WriteView(opstore.View{LocalBranches: map[string]opstore.RefTarget{"main": opstore.NormalTarget(c2)}})
	opA, err := s.WriteOperation(opstore.Operation{ViewId: viewA})
	if err != nil {
		t.Fatalf("WriteOperation: %v", err)
	}
	opB, err := s.WriteOperation(opstore.Operation{ViewId: viewB})
	if err != nil {
		t.Fatalf("WriteOperation: %v", err)
	}

	diffs, err := opstore.Diff(s, opA, opB)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(diffs) != 1 {
		t.Fatalf("expected exactly one field diff, got %+v", diffs)
	}
	if len(diffs[0].Added) != 1 || len(diffs[0].Removed) != 1 {
		t.Fatalf("expected one added and one removed id, got %+v", diffs[0])
	}
}
