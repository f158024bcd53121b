package index_test

import (
	"testing"

	"jjcore/pkg/ids"
	"jjcore/pkg/index"
	"jjcore/pkg/objects"
)

func commitId(seed string) ids.CommitId {
	return ids.CommitId{Id: ids.Blake2b256([]byte(seed))}
}

func changeId(seed string) ids.ChangeId {
	return ids.ChangeId{Id: ids.Blake2b256([]byte("change:" + seed))}
}

func commit(parents ...ids.CommitId) objects.Commit {
	return objects.Commit{Parents: parents, ChangeId: changeId("x")}
}

// buildLinearChain builds root -> a -> b -> c, returning their ids.
func buildLinearChain(t *testing.T, idx *index.CompositeIndex) (root, a, b, c ids.CommitId) {
	t.Helper()
	root = commitId("root")
	if _, err := idx.AddCommit(root, objects.Commit{ChangeId: changeId("root")}); err != nil {
		t.Fatalf("AddCommit root: %v", err)
	}
	a = commitId("a")
	if _, err := idx.AddCommit(a, objects.Commit{Parents: []ids.CommitId{root}, ChangeId: changeId("a")}); err != nil {
		t.Fatalf("AddCommit a: %v", err)
	}
	b = commitId("b")
	if _, err := idx.AddCommit(b, objects.Commit{Parents: []ids.CommitId{a}, ChangeId: changeId("b")}); err != nil {
		t.Fatalf("AddCommit b: %v", err)
	}
	c = commitId("c")
	if _, err := idx.AddCommit(c, objects.Commit{Parents: []ids.CommitId{b}, ChangeId: changeId("c")}); err != nil {
		t.Fatalf("AddCommit c: %v", err)
	}
	return
}

func TestAddCommit_ComputesGeneration(t *testing.T) {
	idx := index.NewCompositeIndex()
	root, a, b, c := buildLinearChain(t, idx)

	for i, id := range []ids.CommitId{root, a, b, c} {
		pos, ok := idx.PosByCommitId(id)
		if !ok {
			t.Fatalf("commit %d not found", i)
		}
		e, ok := idx.EntryByPos(pos)
		if !ok {
			t.Fatalf("entry %d not found", i)
		}
		if int(e.Generation) != i {
			t.Fatalf("commit %d: expected generation %d, got %d", i, i, e.Generation)
		}
	}
}

func TestIsAncestor(t *testing.T) {
	idx := index.NewCompositeIndex()
	root, a, _, c := buildLinearChain(t, idx)

	if !idx.IsAncestor(root, c) {
		t.Fatal("expected root to be an ancestor of c")
	}
	if !idx.IsAncestor(a, c) {
		t.Fatal("expected a to be an ancestor of c")
	}
	if idx.IsAncestor(c, a) {
		t.Fatal("did not expect c to be an ancestor of a")
	}
	if !idx.IsAncestor(c, c) {
		t.Fatal("expected a commit to be its own ancestor")
	}
}

func TestCommonAncestors_DivergentBranches(t *testing.T) {
	idx := index.NewCompositeIndex()
	root := commitId("root")
	mustAdd(t, idx, root, commit())

	left := commitId("left")
	mustAdd(t, idx, left, commit(root))
	right := commitId("right")
	mustAdd(t, idx, right, commit(root))

	leftTip := commitId("left-tip")
	mustAdd(t, idx, leftTip, commit(left))
	rightTip := commitId("right-tip")
	mustAdd(t, idx, rightTip, commit(right))

	commons, err := idx.CommonAncestors([]ids.CommitId{leftTip}, []ids.CommitId{rightTip})
	if err != nil {
		t.Fatalf("CommonAncestors: %v", err)
	}
	if len(commons) != 1 || commons[0] != root {
		t.Fatalf("expected [root], got %+v", commons)
	}
}

func TestHeads_PrunesAncestorsFromCandidateSet(t *testing.T) {
	idx := index.NewCompositeIndex()
	root, a, b, c := buildLinearChain(t, idx)

	heads, err := idx.Heads([]ids.CommitId{root, a, b, c})
	if err != nil {
		t.Fatalf("Heads: %v", err)
	}
	if len(heads) != 1 || heads[0] != c {
		t.Fatalf("expected only the tip to remain a head, got %+v", heads)
	}
}

func TestHeads_KeepsBothSidesOfAFork(t *testing.T) {
	idx := index.NewCompositeIndex()
	root := commitId("root")
	mustAdd(t, idx, root, commit())
	left := commitId("left")
	mustAdd(t, idx, left, commit(root))
	right := commitId("right")
	mustAdd(t, idx, right, commit(root))

	heads, err := idx.Heads([]ids.CommitId{root, left, right})
	if err != nil {
		t.Fatalf("Heads: %v", err)
	}
	if len(heads) != 2 {
		t.Fatalf("expected both fork tips to remain heads, got %+v", heads)
	}
}

func TestSaveLoad_RoundTripsSegmentChain(t *testing.T) {
	dir := t.TempDir()
	ss, err := index.NewSegmentStore(dir, ids.Blake2b256)
	if err != nil {
		t.Fatalf("NewSegmentStore: %v", err)
	}

	idx := index.NewCompositeIndex()
	root, a, b, c := buildLinearChain(t, idx)
	headId, err := idx.Save(ss, nil)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reloaded, err := index.Load(ss, headId)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer reloaded.Close()

	for _, id := range []ids.CommitId{root, a, b, c} {
		if _, ok := reloaded.PosByCommitId(id); !ok {
			t.Fatalf("commit %s missing after reload", id)
		}
	}
	if !reloaded.IsAncestor(root, c) {
		t.Fatal("expected root to remain an ancestor of c after reload")
	}
}

func TestResolveCommitIdPrefix(t *testing.T) {
	idx := index.NewCompositeIndex()
	root, a, _, _ := buildLinearChain(t, idx)

	full := root.String()
	res, found := idx.ResolveCommitIdPrefix(full[:8])
	if res != index.SingleMatch || found != root {
		t.Fatalf("expected SingleMatch(root), got %v %v", res, found)
	}

	if res, _ := idx.ResolveCommitIdPrefix("ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"); res != index.NoMatch {
		t.Fatalf("expected NoMatch for an unused prefix, got %v", res)
	}
	_ = a
}

func mustAdd(t *testing.T, idx *index.CompositeIndex, id ids.CommitId, c objects.Commit) {
	t.Helper()
	if _, err := idx.AddCommit(id, c); err != nil {
		t.Fatalf("AddCommit: %v", err)
	}
}
