package rewrite_test

import (
	"testing"
	"time"

	"jjcore/pkg/backend"
	"jjcore/pkg/ids"
	"jjcore/pkg/index"
	"jjcore/pkg/objects"
	"jjcore/pkg/objstore"
	"jjcore/pkg/rewrite"
)

func newStore(t *testing.T) *objstore.Store {
	t.Helper()
	b, err := backend.NewFileStore(t.TempDir(), ids.Blake2b256, false)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return objstore.New(b)
}

func changeId(seed string) ids.ChangeId {
	return ids.ChangeId{Id: ids.Blake2b256([]byte("change:" + seed))}
}

// sig returns a fixed signature so commit ids are reproducible across
// test runs.
func sig(name string) objects.Signature {
	return objects.Signature{Name: name, Email: name + "@example.com", Timestamp: time.Unix(1000, 0).UTC()}
}

// addCommit writes a tree-less commit (RootTree is the store's empty
// tree) with the given parents and description, returning its id.
func addCommit(t *testing.T, store *objstore.Store, idx *index.CompositeIndex, change ids.ChangeId, desc string, parents ...ids.CommitId) ids.CommitId {
	t.Helper()
	empty, err := store.EmptyTree()
	if err != nil {
		t.Fatalf("EmptyTree: %v", err)
	}
	c := objects.Commit{
		RootTree:    empty,
		Parents:     parents,
		ChangeId:    change,
		Author:      sig("author"),
		Committer:   sig("author"),
		Description: desc,
	}
	id, err := store.PutCommit(c)
	if err != nil {
		t.Fatalf("PutCommit: %v", err)
	}
	if _, err := idx.AddCommit(id, c); err != nil {
		t.Fatalf("AddCommit: %v", err)
	}
	return id
}

// buildChain builds root -> a -> b -> c (all with the store's shared
// empty tree, so a plain rebase never needs to actually merge content).
func buildChain(t *testing.T, store *objstore.Store, idx *index.CompositeIndex) (root, a, b, c ids.CommitId) {
	t.Helper()
	root = addCommit(t, store, idx, changeId("root"), "root")
	a = addCommit(t, store, idx, changeId("a"), "a", root)
	b = addCommit(t, store, idx, changeId("b"), "b", a)
	c = addCommit(t, store, idx, changeId("c"), "c", b)
	return
}

func TestRebaseDescendants_SimpleRewriteRebasesDescendants(t *testing.T) {
	store := newStore(t)
	idx := index.NewCompositeIndex()
	root, a, b, c := buildChain(t, store, idx)

	aPrime := addCommit(t, store, idx, changeId("a"), "a amended", root)

	decl := rewrite.NewDeclarations()
	decl.Rewrite(a, aPrime)

	eng := rewrite.NewEngine(store, idx)
	eng.Now = func() time.Time { return time.Unix(2000, 0).UTC() }
	result, err := eng.RebaseDescendants(decl)
	if err != nil {
		t.Fatalf("RebaseDescendants: %v", err)
	}

	if result.Rewrites[a] != aPrime {
		t.Fatalf("expected a -> a', got %v", result.Rewrites[a])
	}
	newB, ok := result.Rewrites[b]
	if !ok {
		t.Fatalf("b was not rebased")
	}
	newC, ok := result.Rewrites[c]
	if !ok {
		t.Fatalf("c was not rebased")
	}

	bCommit, err := store.GetCommit(newB)
	if err != nil {
		t.Fatalf("GetCommit newB: %v", err)
	}
	if len(bCommit.Parents) != 1 || bCommit.Parents[0] != aPrime {
		t.Fatalf("expected new b's parent to be a', got %v", bCommit.Parents)
	}
	if bCommit.ChangeId != changeId("b") {
		t.Fatalf("rebased commit changed ChangeId")
	}

	cCommit, err := store.GetCommit(newC)
	if err != nil {
		t.Fatalf("GetCommit newC: %v", err)
	}
	if len(cCommit.Parents) != 1 || cCommit.Parents[0] != newB {
		t.Fatalf("expected new c's parent to be new b, got %v", cCommit.Parents)
	}

	upd, ok := result.RefUpdates[a]
	if !ok || len(upd.New) != 1 || upd.New[0] != aPrime {
		t.Fatalf("expected ref update a -> a', got %+v", upd)
	}
}

func TestRebaseDescendants_DivergentRewriteFreezesDescendants(t *testing.T) {
	store := newStore(t)
	idx := index.NewCompositeIndex()
	root, a, _, c := buildChain(t, store, idx)

	a1 := addCommit(t, store, idx, changeId("a"), "a variant 1", root)
	a2 := addCommit(t, store, idx, changeId("a"), "a variant 2", root)

	decl := rewrite.NewDeclarations()
	decl.Rewrite(a, a1, a2)

	eng := rewrite.NewEngine(store, idx)
	result, err := eng.RebaseDescendants(decl)
	if err != nil {
		t.Fatalf("RebaseDescendants: %v", err)
	}

	upd, ok := result.RefUpdates[a]
	if !ok {
		t.Fatalf("expected a ref update to exist")
	}
	if len(upd.New) != 2 {
		t.Fatalf("expected a divergent ref update with 2 targets, got %v", upd.New)
	}

	if _, ok := result.Rewrites[c]; ok {
		t.Fatalf("descendant of a divergently-rewritten commit must not be rebased")
	}
}

func TestRebaseDescendants_AbandonReparentsDescendants(t *testing.T) {
	store := newStore(t)
	idx := index.NewCompositeIndex()
	root, a, b, c := buildChain(t, store, idx)

	decl := rewrite.NewDeclarations()
	decl.Abandon(a)

	eng := rewrite.NewEngine(store, idx)
	result, err := eng.RebaseDescendants(decl)
	if err != nil {
		t.Fatalf("RebaseDescendants: %v", err)
	}

	newB, ok := result.Rewrites[b]
	if !ok {
		t.Fatalf("b was not rebased after its parent was abandoned")
	}
	bCommit, err := store.GetCommit(newB)
	if err != nil {
		t.Fatalf("GetCommit newB: %v", err)
	}
	if len(bCommit.Parents) != 1 || bCommit.Parents[0] != root {
		t.Fatalf("expected new b reparented onto root, got %v", bCommit.Parents)
	}

	if _, ok := result.Rewrites[c]; !ok {
		t.Fatalf("c was not rebased transitively")
	}
}

func TestRebaseDescendants_AbandonedLeafResolvesToStandInParent(t *testing.T) {
	store := newStore(t)
	idx := index.NewCompositeIndex()
	root, _, _, _ := buildChain(t, store, idx)

	other := addCommit(t, store, idx, changeId("other"), "unrelated", root)

	decl := rewrite.NewDeclarations()
	decl.Abandon(other)

	eng := rewrite.NewEngine(store, idx)
	result, err := eng.RebaseDescendants(decl)
	if err != nil {
		t.Fatalf("RebaseDescendants: %v", err)
	}
	// A leaf with no descendants still needs its stand-in recorded: any
	// ref pointing directly at it must retarget to root.
	if result.Rewrites[other] != root {
		t.Fatalf("expected other -> root, got %v", result.Rewrites[other])
	}
	upd, ok := result.RefUpdates[other]
	if !ok || len(upd.New) != 1 || upd.New[0] != root {
		t.Fatalf("expected ref update other -> root, got %+v", upd)
	}
}

// treeWithFile builds a single-entry tree "name" -> content and returns
// its id.
func treeWithFile(t *testing.T, store *objstore.Store, name, content string) ids.TreeId {
	t.Helper()
	blobId, err := store.PutBlob([]byte(content))
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	tree := objects.Tree{Entries: []objects.TreeEntry{{Name: name, Value: objects.TreeValue{Kind: objects.KindBlob, Id: blobId.Id}}}}
	tree.Canonicalize()
	treeId, err := store.PutTree(tree)
	if err != nil {
		t.Fatalf("PutTree: %v", err)
	}
	return treeId
}

func commitWithTree(t *testing.T, store *objstore.Store, idx *index.CompositeIndex, change ids.ChangeId, desc string, tree ids.TreeId, parents ...ids.CommitId) ids.CommitId {
	t.Helper()
	c := objects.Commit{
		RootTree:    tree,
		Parents:     parents,
		ChangeId:    change,
		Author:      sig("author"),
		Committer:   sig("author"),
		Description: desc,
	}
	id, err := store.PutCommit(c)
	if err != nil {
		t.Fatalf("PutCommit: %v", err)
	}
	if _, err := idx.AddCommit(id, c); err != nil {
		t.Fatalf("AddCommit: %v", err)
	}
	return id
}

func TestRebaseDescendants_AbandonNewlyEmptyCollapsesRebasedCommit(t *testing.T) {
	store := newStore(t)
	idx := index.NewCompositeIndex()

	root := addCommit(t, store, idx, changeId("root"), "root")
	treeX := treeWithFile(t, store, "f.txt", "x")
	a := commitWithTree(t, store, idx, changeId("a"), "a", treeX, root)
	// b adds content on top of a, making b's diff from a non-empty.
	treeXY := treeWithFile(t, store, "f.txt", "xy")
	b := commitWithTree(t, store, idx, changeId("b"), "b", treeXY, a)

	// a' already carries b's content, so rebasing b onto a' merges to
	// the same tree a' already has: b becomes newly empty.
	aPrime := commitWithTree(t, store, idx, changeId("a"), "a amended", treeXY, root)

	decl := rewrite.NewDeclarations()
	decl.Rewrite(a, aPrime)

	eng := rewrite.NewEngine(store, idx)
	eng.Mode = rewrite.AbandonNewlyEmpty
	result, err := eng.RebaseDescendants(decl)
	if err != nil {
		t.Fatalf("RebaseDescendants: %v", err)
	}

	if result.Rewrites[b] != aPrime {
		t.Fatalf("expected b to collapse onto a' once newly empty, got %v", result.Rewrites[b])
	}
}

func TestRebaseDescendants_KeepNewlyEmptyRetainsRebasedCommit(t *testing.T) {
	store := newStore(t)
	idx := index.NewCompositeIndex()

	root := addCommit(t, store, idx, changeId("root"), "root")
	treeX := treeWithFile(t, store, "f.txt", "x")
	a := commitWithTree(t, store, idx, changeId("a"), "a", treeX, root)
	treeXY := treeWithFile(t, store, "f.txt", "xy")
	b := commitWithTree(t, store, idx, changeId("b"), "b", treeXY, a)
	aPrime := commitWithTree(t, store, idx, changeId("a"), "a amended", treeXY, root)

	decl := rewrite.NewDeclarations()
	decl.Rewrite(a, aPrime)

	eng := rewrite.NewEngine(store, idx)
	// default Mode is KeepNewlyEmpty
	result, err := eng.RebaseDescendants(decl)
	if err != nil {
		t.Fatalf("RebaseDescendants: %v", err)
	}

	newB, ok := result.Rewrites[b]
	if !ok || newB == aPrime {
		t.Fatalf("expected b to be retained as its own rebased commit, got %v", newB)
	}
	bCommit, err := store.GetCommit(newB)
	if err != nil {
		t.Fatalf("GetCommit newB: %v", err)
	}
	if bCommit.RootTree != treeXY {
		t.Fatalf("expected retained b's tree to still be treeXY, got %v", bCommit.RootTree)
	}
}

func TestRebaseDescendants_CycleIsRejected(t *testing.T) {
	store := newStore(t)
	idx := index.NewCompositeIndex()
	_, a, b, _ := buildChain(t, store, idx)

	decl := rewrite.NewDeclarations()
	decl.Rewrite(a, b) // b is a descendant of a, so rewriting a onto b is a cycle

	eng := rewrite.NewEngine(store, idx)
	if _, err := eng.RebaseDescendants(decl); err == nil {
		t.Fatalf("expected a cycle error")
	}
}
