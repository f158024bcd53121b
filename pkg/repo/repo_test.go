package repo_test

import (
	"errors"
	"testing"
	"time"

	"jjcore/pkg/ids"
	"jjcore/pkg/objects"
	"jjcore/pkg/repo"
	"jjcore/pkg/vcserr"
)

func sig(name string) objects.Signature {
	return objects.Signature{Name: name, Email: name + "@example.com", Timestamp: time.Unix(1000, 0).UTC()}
}

func openRepo(t *testing.T) *repo.Repo {
	t.Helper()
	r, err := repo.Init(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r
}

// treeWithFile builds a single-entry tree "name" -> content via r's
// object store and returns its id.
func treeWithFile(t *testing.T, r *repo.Repo, name, content string) ids.TreeId {
	t.Helper()
	blobId, err := r.Objects().PutBlob([]byte(content))
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	tree := objects.Tree{Entries: []objects.TreeEntry{{Name: name, Value: objects.TreeValue{Kind: objects.KindBlob, Id: blobId.Id}}}}
	treeId, err := r.Objects().PutTree(tree)
	if err != nil {
		t.Fatalf("PutTree: %v", err)
	}
	return treeId
}

func TestInitLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r, err := repo.Init(dir, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	opId, op, view, err := r.CurrentOperation()
	if err != nil {
		t.Fatalf("CurrentOperation: %v", err)
	}
	if opId.IsZero() {
		t.Fatalf("expected a non-zero initial operation id")
	}
	if len(view.Heads) != 1 {
		t.Fatalf("expected one head after init, got %d", len(view.Heads))
	}
	root := view.Heads[0]
	if view.Workspaces["default"] != root {
		t.Fatalf("expected default workspace to point at root")
	}
	if op.Description != "initialize repo" {
		t.Fatalf("unexpected initial operation description: %q", op.Description)
	}

	loaded, err := repo.Load(dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	loadedOpId, _, loadedView, err := loaded.CurrentOperation()
	if err != nil {
		t.Fatalf("CurrentOperation after Load: %v", err)
	}
	if loadedOpId.Id != opId.Id {
		t.Fatalf("Load observed a different current operation than Init left behind")
	}
	if loadedView.Workspaces["default"] != root {
		t.Fatalf("Load observed a different default workspace target")
	}
}

func TestTransactionAddCommitAndBranch(t *testing.T) {
	r := openRepo(t)
	_, _, view, err := r.CurrentOperation()
	if err != nil {
		t.Fatalf("CurrentOperation: %v", err)
	}
	root := view.Heads[0]

	tx, err := r.StartTransaction()
	if err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}
	tree := treeWithFile(t, r, "README.md", "hello")
	commitId, err := tx.Mutable.NewCommit([]ids.CommitId{root}, tree, sig("a"), sig("a"), "add README")
	if err != nil {
		t.Fatalf("NewCommit: %v", err)
	}
	if err := tx.Mutable.SetWorkingCopyCommit("default", commitId); err != nil {
		t.Fatalf("SetWorkingCopyCommit: %v", err)
	}
	if err := tx.Mutable.CreateBranch("main", commitId); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if _, err := tx.Finish("add README"); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	_, _, view, err = r.CurrentOperation()
	if err != nil {
		t.Fatalf("CurrentOperation after Finish: %v", err)
	}
	if len(view.Heads) != 1 || view.Heads[0] != commitId {
		t.Fatalf("expected the new commit to be the sole head, got %v", view.Heads)
	}
	if view.Workspaces["default"] != commitId {
		t.Fatalf("expected default workspace to follow the new commit")
	}
	branch, ok := view.LocalBranches["main"]
	if !ok || len(branch.Adds) != 1 || branch.Adds[0] != commitId {
		t.Fatalf("expected branch main -> new commit, got %+v", branch)
	}
}

func TestCreateBranchRejectsInvalidName(t *testing.T) {
	r := openRepo(t)
	tx, err := r.StartTransaction()
	if err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}
	if err := tx.Mutable.CreateBranch("HEAD", ids.CommitId{}); !errors.Is(err, repo.ErrInvalidRefName) {
		t.Fatalf("expected ErrInvalidRefName, got %v", err)
	}
}

func TestRewriteRootIsRejected(t *testing.T) {
	r := openRepo(t)
	_, _, view, err := r.CurrentOperation()
	if err != nil {
		t.Fatalf("CurrentOperation: %v", err)
	}
	root := view.Heads[0]

	tx, err := r.StartTransaction()
	if err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}
	if err := tx.Mutable.RecordAbandoned(root); !errors.Is(err, vcserr.RewriteRoot) {
		t.Fatalf("expected RewriteRoot abandoning the root, got %v", err)
	}
	if err := tx.Mutable.RecordRewritten(root, root); !errors.Is(err, vcserr.RewriteRoot) {
		t.Fatalf("expected RewriteRoot rewriting the root, got %v", err)
	}
}

// buildTwoCommits starts and finishes one transaction that adds commitA
// on top of root, then a second that adds commitB on top of commitA,
// tracking branch "main" throughout. Returns both commit ids.
func buildTwoCommits(t *testing.T, r *repo.Repo) (commitA, commitB ids.CommitId) {
	t.Helper()
	_, _, view, err := r.CurrentOperation()
	if err != nil {
		t.Fatalf("CurrentOperation: %v", err)
	}
	root := view.Heads[0]

	tx1, err := r.StartTransaction()
	if err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}
	treeA := treeWithFile(t, r, "f.txt", "a")
	commitA, err = tx1.Mutable.NewCommit([]ids.CommitId{root}, treeA, sig("a"), sig("a"), "a")
	if err != nil {
		t.Fatalf("NewCommit a: %v", err)
	}
	if err := tx1.Mutable.SetWorkingCopyCommit("default", commitA); err != nil {
		t.Fatalf("SetWorkingCopyCommit: %v", err)
	}
	if err := tx1.Mutable.CreateBranch("main", commitA); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if _, err := tx1.Finish("a"); err != nil {
		t.Fatalf("Finish tx1: %v", err)
	}

	tx2, err := r.StartTransaction()
	if err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}
	treeB := treeWithFile(t, r, "f.txt", "ab")
	commitB, err = tx2.Mutable.NewCommit([]ids.CommitId{commitA}, treeB, sig("b"), sig("b"), "b")
	if err != nil {
		t.Fatalf("NewCommit b: %v", err)
	}
	if err := tx2.Mutable.SetWorkingCopyCommit("default", commitB); err != nil {
		t.Fatalf("SetWorkingCopyCommit: %v", err)
	}
	if err := tx2.Mutable.CreateBranch("main", commitB); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if _, err := tx2.Finish("b"); err != nil {
		t.Fatalf("Finish tx2: %v", err)
	}
	return commitA, commitB
}

func TestRecordRewrittenRebasesDescendantAndRetargetsBranch(t *testing.T) {
	r := openRepo(t)
	commitA, commitB := buildTwoCommits(t, r)

	tx3, err := r.StartTransaction()
	if err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}
	treeAPrime := treeWithFile(t, r, "f.txt", "a-amended")
	// commitA's sole parent is root; fetch it from the object store to
	// rebuild an amended commit over the same parent.
	origA, err := r.Objects().GetCommit(commitA)
	if err != nil {
		t.Fatalf("GetCommit commitA: %v", err)
	}
	rootId := origA.Parents[0]
	commitAPrime, err := tx3.Mutable.NewCommit([]ids.CommitId{rootId}, treeAPrime, sig("a"), sig("a"), "a amended")
	if err != nil {
		t.Fatalf("NewCommit a': %v", err)
	}
	if err := tx3.Mutable.RecordRewritten(commitA, commitAPrime); err != nil {
		t.Fatalf("RecordRewritten: %v", err)
	}
	if _, err := tx3.Finish("amend a"); err != nil {
		t.Fatalf("Finish tx3: %v", err)
	}

	_, _, view, err := r.CurrentOperation()
	if err != nil {
		t.Fatalf("CurrentOperation after rewrite: %v", err)
	}
	if len(view.Heads) != 1 {
		t.Fatalf("expected a single head after the rebase, got %v", view.Heads)
	}
	newHead := view.Heads[0]
	if newHead == commitB {
		t.Fatalf("expected commitB to be rebased onto a new commit, not left in place")
	}
	newCommit, err := r.Objects().GetCommit(newHead)
	if err != nil {
		t.Fatalf("GetCommit newHead: %v", err)
	}
	if len(newCommit.Parents) != 1 || newCommit.Parents[0] != commitAPrime {
		t.Fatalf("expected rebased head's parent to be the amended commit, got %v", newCommit.Parents)
	}
	branch, ok := view.LocalBranches["main"]
	if !ok || len(branch.Adds) != 1 || branch.Adds[0] != newHead {
		t.Fatalf("expected branch main to follow the rebased head, got %+v", branch)
	}
	if view.Workspaces["default"] != newHead {
		t.Fatalf("expected the working copy to follow the rebased head, got %v", view.Workspaces["default"])
	}
}

// putWithChangeId writes a commit directly with an explicit ChangeId
// (NewCommit always mints a fresh one, but a divergent rewrite's targets
// must keep the rewritten commit's original ChangeId — spec.md §3's
// "stable, rewrite-surviving identity").
func putWithChangeId(t *testing.T, r *repo.Repo, change ids.ChangeId, tree ids.TreeId, desc string, parents ...ids.CommitId) ids.CommitId {
	t.Helper()
	c := objects.Commit{
		RootTree:    tree,
		Parents:     parents,
		ChangeId:    change,
		Author:      sig("a"),
		Committer:   sig("a"),
		Description: desc,
	}
	id, err := r.Objects().PutCommit(c)
	if err != nil {
		t.Fatalf("PutCommit: %v", err)
	}
	return id
}

func TestDivergentRewriteIsVisibleAsDivergentChangeId(t *testing.T) {
	r := openRepo(t)
	commitA, _ := buildTwoCommits(t, r)
	origA, err := r.Objects().GetCommit(commitA)
	if err != nil {
		t.Fatalf("GetCommit commitA: %v", err)
	}
	root := origA.Parents[0]

	tx, err := r.StartTransaction()
	if err != nil {
		t.Fatalf("StartTransaction: %v", err)
	}
	tree1 := treeWithFile(t, r, "f.txt", "variant-1")
	a1 := putWithChangeId(t, r, origA.ChangeId, tree1, "a variant 1", root)
	if err := tx.Mutable.AddHead(a1); err != nil {
		t.Fatalf("AddHead a1: %v", err)
	}
	tree2 := treeWithFile(t, r, "f.txt", "variant-2")
	a2 := putWithChangeId(t, r, origA.ChangeId, tree2, "a variant 2", root)
	if err := tx.Mutable.AddHead(a2); err != nil {
		t.Fatalf("AddHead a2: %v", err)
	}
	if err := tx.Mutable.RecordRewritten(commitA, a1, a2); err != nil {
		t.Fatalf("RecordRewritten: %v", err)
	}
	if _, err := tx.Finish("diverge a"); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	divergent, err := tx.Mutable.DivergentChangeIds()
	if err != nil {
		t.Fatalf("DivergentChangeIds: %v", err)
	}
	// commitB (a's descendant) was never rebased — a divergent rewrite
	// freezes its descendants in place — so the old commitA is still
	// reachable through it alongside the two new variants: three commits
	// now share a's change id.
	commits, ok := divergent[origA.ChangeId]
	if !ok || len(commits) != 3 {
		t.Fatalf("expected 3 divergent commits for a's change id, got %v", commits)
	}
	seen := map[ids.CommitId]bool{}
	for _, c := range commits {
		seen[c] = true
	}
	if !seen[commitA] || !seen[a1] || !seen[a2] {
		t.Fatalf("expected commitA, a1, and a2 among the divergent commits, got %v", commits)
	}
}

// TestConcurrentTransactionsReconcileAsSiblingHeads covers spec.md §5's
// "there may be several leaf operations simultaneously" and §4.6's
// operation-merge-on-observe: two transactions forked from the same base
// both add an unrelated commit and both Finish successfully (neither is
// cancelled in favor of the other), then a later read reconciles the two
// leaves into one merged operation whose view shows both new commits as
// heads.
func TestConcurrentTransactionsReconcileAsSiblingHeads(t *testing.T) {
	r := openRepo(t)
	_, _, view, err := r.CurrentOperation()
	if err != nil {
		t.Fatalf("CurrentOperation: %v", err)
	}
	root := view.Heads[0]

	tx1, err := r.StartTransaction()
	if err != nil {
		t.Fatalf("StartTransaction tx1: %v", err)
	}
	tx2, err := r.StartTransaction()
	if err != nil {
		t.Fatalf("StartTransaction tx2: %v", err)
	}

	tree1 := treeWithFile(t, r, "one.txt", "1")
	commitA, err := tx1.Mutable.NewCommit([]ids.CommitId{root}, tree1, sig("a"), sig("a"), "one")
	if err != nil {
		t.Fatalf("NewCommit a: %v", err)
	}
	if _, err := tx1.Finish("one"); err != nil {
		t.Fatalf("Finish tx1: %v", err)
	}

	tree2 := treeWithFile(t, r, "two.txt", "2")
	commitB, err := tx2.Mutable.NewCommit([]ids.CommitId{root}, tree2, sig("b"), sig("b"), "two")
	if err != nil {
		t.Fatalf("NewCommit b: %v", err)
	}
	if _, err := tx2.Finish("two"); err != nil {
		t.Fatalf("Finish tx2: %v (both siblings of the same base must succeed, not just the first)", err)
	}

	_, _, merged, err := r.CurrentOperation()
	if err != nil {
		t.Fatalf("CurrentOperation after both finish: %v", err)
	}
	if len(merged.Heads) != 2 {
		t.Fatalf("expected both sibling commits reconciled as heads, got %v", merged.Heads)
	}
	seen := map[ids.CommitId]bool{}
	for _, h := range merged.Heads {
		seen[h] = true
	}
	if !seen[commitA] || !seen[commitB] {
		t.Fatalf("expected heads {%s, %s}, got %v", commitA, commitB, merged.Heads)
	}

	// A fresh transaction started after reconciliation forks from the
	// single merged operation and sees both commits as its base heads.
	tx3, err := r.StartTransaction()
	if err != nil {
		t.Fatalf("StartTransaction after reconciliation: %v", err)
	}
	if tx3.BaseOp.IsZero() {
		t.Fatalf("expected a valid base operation")
	}
	baseHeads := tx3.Mutable.View().Heads
	if len(baseHeads) != 2 {
		t.Fatalf("expected the new transaction to fork from both reconciled heads, got %v", baseHeads)
	}
}
