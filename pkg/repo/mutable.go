package repo

import (
	"time"

	"github.com/pkg/errors"

	"jjcore/pkg/ids"
	"jjcore/pkg/index"
	"jjcore/pkg/merge"
	"jjcore/pkg/objects"
	"jjcore/pkg/opstore"
	"jjcore/pkg/rewrite"
	"jjcore/pkg/vcserr"
)

// MutableRepo is the in-progress state a Transaction mutates: a forked
// View plus a fresh mutable index layer stacked on the base index
// (spec.md §4.6), and the rewrite/abandon declarations a later
// RebaseDescendants call will resolve.
type MutableRepo struct {
	repo *Repo
	idx  *index.CompositeIndex
	view opstore.View
	decl *rewrite.Declarations
	now  func() time.Time
}

// View returns the current (uncanonicalized) view. Callers must not
// retain the returned maps/slices past the next mutating call.
func (m *MutableRepo) View() opstore.View { return m.view }

// Index exposes the mutable composite index, e.g. for ancestry queries
// mid-transaction.
func (m *MutableRepo) Index() *index.CompositeIndex { return m.idx }

func (m *MutableRepo) isRoot(id ids.CommitId) (bool, error) {
	_, rootId, err := m.repo.objects.RootCommit()
	if err != nil {
		return false, err
	}
	return id == rootId, nil
}

// AddHead inserts commitId into the index (pulling in any ancestors not
// already indexed) and folds it into the view's head antichain (spec.md
// §4.6's "add_head").
func (m *MutableRepo) AddHead(commitId ids.CommitId) error {
	if err := m.indexWithAncestors(commitId); err != nil {
		return err
	}
	candidates := append(append([]ids.CommitId(nil), m.view.Heads...), commitId)
	heads, err := m.idx.Heads(dedupe(candidates))
	if err != nil {
		return errors.Wrap(err, "prune heads")
	}
	m.view.Heads = heads
	return nil
}

func (m *MutableRepo) indexWithAncestors(commitId ids.CommitId) error {
	if _, ok := m.idx.PosByCommitId(commitId); ok {
		return nil
	}
	commit, err := m.repo.objects.GetCommit(commitId)
	if err != nil {
		return errors.Wrapf(err, "read commit %s", commitId)
	}
	for _, p := range commit.Parents {
		if err := m.indexWithAncestors(p); err != nil {
			return err
		}
	}
	_, err = m.idx.AddCommit(commitId, commit)
	return err
}

// NewCommit builds, persists, and indexes a brand-new commit with a
// fresh ChangeId (spec.md §3: "assigned on commit creation"), and folds
// it into the view's heads. Every parent must already be indexed (a
// transaction calls AddHead or NewCommit itself for each ancestor first).
func (m *MutableRepo) NewCommit(parents []ids.CommitId, tree ids.TreeId, author, committer objects.Signature, description string) (ids.CommitId, error) {
	c := objects.Commit{
		RootTree:    tree,
		Parents:     append([]ids.CommitId(nil), parents...),
		ChangeId:    ids.NewChangeId(),
		Author:      author,
		Committer:   committer,
		Description: description,
	}
	id, err := m.repo.objects.PutCommit(c)
	if err != nil {
		return ids.CommitId{}, err
	}
	if _, err := m.idx.AddCommit(id, c); err != nil {
		return ids.CommitId{}, err
	}
	if err := m.AddHead(id); err != nil {
		return ids.CommitId{}, err
	}
	return id, nil
}

// RecordRewritten declares old replaced by targets, refused for the root
// commit (spec.md §7's always-fatal RewriteRoot kind).
func (m *MutableRepo) RecordRewritten(old ids.CommitId, targets ...ids.CommitId) error {
	isRoot, err := m.isRoot(old)
	if err != nil {
		return err
	}
	if isRoot {
		return errors.Wrapf(vcserr.RewriteRoot, "rewrite %s", old)
	}
	m.decl.Rewrite(old, targets...)
	return nil
}

// RecordAbandoned declares old abandoned, refused for the root commit.
func (m *MutableRepo) RecordAbandoned(old ids.CommitId) error {
	isRoot, err := m.isRoot(old)
	if err != nil {
		return err
	}
	if isRoot {
		return errors.Wrapf(vcserr.RewriteRoot, "abandon %s", old)
	}
	m.decl.Abandon(old)
	return nil
}

// RebaseDescendants runs the declared rewrites/abandonments to
// completion (spec.md §4.5 via pkg/rewrite.Engine), folds the result
// into the view's heads, branches, tags, git refs, and working-copy
// pointers, and resets the declaration set for the next round.
func (m *MutableRepo) RebaseDescendants(mode rewrite.EmptyMode) (*rewrite.Result, error) {
	eng := rewrite.NewEngine(m.repo.objects, m.idx)
	eng.Mode = mode
	if m.now != nil {
		eng.Now = m.now
	}
	result, err := eng.RebaseDescendants(m.decl)
	if err != nil {
		return nil, err
	}
	if err := m.applyResult(result); err != nil {
		return nil, err
	}
	m.decl = rewrite.NewDeclarations()
	return result, nil
}

// resolveCommit reports what old now resolves to after a rebase,
// preferring the (possibly divergent) RefUpdates entry — which exists
// for every declared seed that resolved to a replacement, single- or
// multi-target — and falling back to
// Rewrites, which also covers ordinary descendants that moved without
// being declared themselves. Returns nil if old was never visited.
func resolveCommit(result *rewrite.Result, old ids.CommitId) []ids.CommitId {
	if upd, ok := result.RefUpdates[old]; ok {
		return upd.New
	}
	if nw, ok := result.Rewrites[old]; ok {
		return []ids.CommitId{nw}
	}
	return nil
}

func (m *MutableRepo) applyResult(result *rewrite.Result) error {
	var headCandidates []ids.CommitId
	for _, h := range m.view.Heads {
		if repl := resolveCommit(result, h); repl != nil {
			headCandidates = append(headCandidates, repl...)
		} else {
			headCandidates = append(headCandidates, h)
		}
	}
	heads, err := m.idx.Heads(dedupe(headCandidates))
	if err != nil {
		return errors.Wrap(err, "prune rebased heads")
	}
	m.view.Heads = heads

	retargetMap(m.view.LocalBranches, result)
	retargetMap(m.view.Tags, result)
	retargetMap(m.view.GitRefs, result)

	return m.retargetWorkspaces(result)
}

// retargetMap moves a branch/tag/git-ref map's adds that point at a
// rewritten commit to its replacement(s), turning a divergent rewrite
// into the conflict shape spec.md §4.5 describes: "+T1...+Tk -C".
func retargetMap(targets map[string]opstore.RefTarget, result *rewrite.Result) {
	for key, t := range targets {
		changed := false
		var newAdds []ids.CommitId
		for _, add := range t.Adds {
			repl := resolveCommit(result, add)
			if repl == nil {
				newAdds = append(newAdds, add)
				continue
			}
			changed = true
			newAdds = append(newAdds, repl...)
			if len(repl) > 1 {
				t.Removes = append(t.Removes, add)
			}
		}
		if changed {
			t.Adds = newAdds
			targets[key] = t
		}
	}
}

// retargetWorkspaces follows rewritten working-copy pointers and applies
// spec.md §4.5's working-copy abandonment policy: a workspace pointer
// that lands on an abandoned commit gets a fresh empty child atop its
// stand-in parent(s), unless the abandoned commit is exempt (non-empty
// diff from its parent, a non-empty description, a ref still pointing at
// it, or other descendants of its own).
func (m *MutableRepo) retargetWorkspaces(result *rewrite.Result) error {
	for name, commitId := range m.view.Workspaces {
		repl := resolveCommit(result, commitId)
		if repl == nil {
			continue
		}
		if !m.decl.Abandoned[commitId] {
			m.view.Workspaces[name] = repl[0]
			continue
		}
		exempt, err := m.workingCopyExempt(commitId)
		if err != nil {
			return err
		}
		if exempt {
			m.view.Workspaces[name] = repl[0]
			continue
		}
		freshId, err := m.freshEmptyChild(repl)
		if err != nil {
			return err
		}
		m.view.Workspaces[name] = freshId
		if err := m.AddHead(freshId); err != nil {
			return err
		}
	}
	return nil
}

func (m *MutableRepo) workingCopyExempt(old ids.CommitId) (bool, error) {
	commit, err := m.repo.objects.GetCommit(old)
	if err != nil {
		return false, err
	}
	if commit.Description != "" {
		return true, nil
	}
	if m.refPointsAt(old) {
		return true, nil
	}
	if m.hasOtherDescendant(old) {
		return true, nil
	}
	return m.hasNonEmptyDiff(commit)
}

func (m *MutableRepo) refPointsAt(id ids.CommitId) bool {
	for _, targets := range []map[string]opstore.RefTarget{m.view.LocalBranches, m.view.Tags, m.view.GitRefs} {
		for _, t := range targets {
			for _, add := range t.Adds {
				if add == id {
					return true
				}
			}
		}
	}
	return false
}

func (m *MutableRepo) hasOtherDescendant(old ids.CommitId) bool {
	pos, ok := m.idx.PosByCommitId(old)
	if !ok {
		return false
	}
	for _, e := range m.idx.AllEntries() {
		for _, p := range e.Parents {
			if p == pos {
				return true
			}
		}
	}
	return false
}

func (m *MutableRepo) hasNonEmptyDiff(commit objects.Commit) (bool, error) {
	if len(commit.Parents) != 1 {
		return true, nil
	}
	parent, err := m.repo.objects.GetCommit(commit.Parents[0])
	if err != nil {
		return false, err
	}
	return commit.RootTree != parent.RootTree, nil
}

// freshEmptyChild builds a new, description-less commit atop parents
// (folding more than one pairwise, the same simplification
// pkg/rewrite.Engine.mergeCommitTrees documents), with a fresh ChangeId,
// for a workspace pointer whose previous commit was abandoned outright.
func (m *MutableRepo) freshEmptyChild(parents []ids.CommitId) (ids.CommitId, error) {
	tree, err := m.foldParentTrees(parents)
	if err != nil {
		return ids.CommitId{}, err
	}
	ts := m.nowTime()
	sig := objects.Signature{Timestamp: ts}
	c := objects.Commit{
		RootTree:  tree,
		Parents:   append([]ids.CommitId(nil), parents...),
		ChangeId:  ids.NewChangeId(),
		Author:    sig,
		Committer: sig,
	}
	id, err := m.repo.objects.PutCommit(c)
	if err != nil {
		return ids.CommitId{}, err
	}
	if _, err := m.idx.AddCommit(id, c); err != nil {
		return ids.CommitId{}, err
	}
	return id, nil
}

func (m *MutableRepo) foldParentTrees(parents []ids.CommitId) (ids.TreeId, error) {
	if len(parents) == 0 {
		return m.repo.objects.EmptyTree()
	}
	first, err := m.repo.objects.GetCommit(parents[0])
	if err != nil {
		return ids.TreeId{}, err
	}
	if len(parents) == 1 {
		return first.RootTree, nil
	}
	base := first.RootTree
	acc := first.RootTree
	for _, p := range parents[1:] {
		c, err := m.repo.objects.GetCommit(p)
		if err != nil {
			return ids.TreeId{}, err
		}
		acc, err = merge.MergeTrees(m.repo.objects, base, acc, c.RootTree)
		if err != nil {
			return ids.TreeId{}, err
		}
	}
	return acc, nil
}

func (m *MutableRepo) nowTime() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now().UTC()
}

// SetWorkingCopyCommit points workspace at commitId, indexing it (and
// its ancestors) and folding it into the head antichain first — the
// working-copy snapshot placeholder hook: a real CLI would first snapshot
// the on-disk working copy into commitId, which is out of this module's
// scope.
func (m *MutableRepo) SetWorkingCopyCommit(workspace string, commitId ids.CommitId) error {
	if err := m.AddHead(commitId); err != nil {
		return err
	}
	if m.view.Workspaces == nil {
		m.view.Workspaces = map[string]ids.CommitId{}
	}
	m.view.Workspaces[workspace] = commitId
	return nil
}

// CreateBranch points a local branch at commitId, refusing a name
// spec.md's ref layout can't represent.
func (m *MutableRepo) CreateBranch(name string, commitId ids.CommitId) error {
	if err := ValidateRefName(name); err != nil {
		return err
	}
	if m.view.LocalBranches == nil {
		m.view.LocalBranches = map[string]opstore.RefTarget{}
	}
	m.view.LocalBranches[name] = opstore.NormalTarget(commitId)
	return nil
}

// DivergentChangeIds returns every ChangeId with more than one commit
// currently visible (an ancestor of, or equal to, some head) — the
// supplemented equivalent of jj's "divergent change" detection, needed
// because a declared divergent rewrite (spec.md §4.5) leaves several
// commits sharing one ChangeId live in the DAG at once.
func (m *MutableRepo) DivergentChangeIds() (map[ids.ChangeId][]ids.CommitId, error) {
	byChange := map[ids.ChangeId][]ids.CommitId{}
	for _, e := range m.idx.AllEntries() {
		visible, err := m.isVisible(e.CommitId)
		if err != nil {
			return nil, err
		}
		if !visible {
			continue
		}
		byChange[e.ChangeId] = append(byChange[e.ChangeId], e.CommitId)
	}
	out := map[ids.ChangeId][]ids.CommitId{}
	for cid, commits := range byChange {
		if len(commits) > 1 {
			out[cid] = commits
		}
	}
	return out, nil
}

func (m *MutableRepo) isVisible(id ids.CommitId) (bool, error) {
	for _, h := range m.view.Heads {
		if m.idx.IsAncestor(id, h) {
			return true, nil
		}
	}
	return false, nil
}

func dedupe(cs []ids.CommitId) []ids.CommitId {
	seen := map[ids.CommitId]bool{}
	var out []ids.CommitId
	for _, c := range cs {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
