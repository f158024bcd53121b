package rewrite

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"jjcore/pkg/ids"
	"jjcore/pkg/index"
	"jjcore/pkg/merge"
	"jjcore/pkg/objects"
	"jjcore/pkg/vcserr"
)

// EmptyMode controls the "empty after rebase" policy of spec.md §4.5.
type EmptyMode int

const (
	// KeepNewlyEmpty leaves a rebased commit in place even if its tree
	// now equals its sole parent's.
	KeepNewlyEmpty EmptyMode = iota
	// AbandonNewlyEmpty abandons a rebased commit whose tree came to
	// equal its sole parent's tree, provided it wasn't already empty
	// before the rebase and isn't a multi-parent merge.
	AbandonNewlyEmpty
)

// Declarations is a transaction's rewrite/abandon intent: each original
// commit maps either to one-or-more replacements sharing its ChangeId,
// or to abandonment.
type Declarations struct {
	Rewritten map[ids.CommitId][]ids.CommitId
	Abandoned map[ids.CommitId]bool
}

// NewDeclarations returns an empty Declarations ready for Rewrite/Abandon
// calls.
func NewDeclarations() *Declarations {
	return &Declarations{Rewritten: map[ids.CommitId][]ids.CommitId{}, Abandoned: map[ids.CommitId]bool{}}
}

// Rewrite declares old replaced by targets (len(targets) > 1 is a
// divergent rewrite).
func (d *Declarations) Rewrite(old ids.CommitId, targets ...ids.CommitId) {
	d.Rewritten[old] = targets
}

// Abandon declares old abandoned with no replacement.
func (d *Declarations) Abandon(old ids.CommitId) {
	d.Abandoned[old] = true
}

// RefUpdate is how a ref target pointing at an old commit should move
// (spec.md §4.5: "a branch target pointing at C becomes the conflict
// {+T1...+Tk -C} if |T|>1; if |T|=1, becomes normal at T1").
type RefUpdate struct {
	Old     ids.CommitId
	New     []ids.CommitId
	Removed bool // true if C should be removed outright (never used today, reserved for future abandon-to-nothing refs)
}

// Result is everything a transaction needs to apply a completed rebase:
// the final old->new commit mapping (for descendants that moved) and the
// ref retargeting table for every declared-rewritten or abandoned
// commit.
type Result struct {
	// Rewrites maps every old commit id that was cleanly replaced by
	// exactly one commit (declared or rebased) to that commit.
	Rewrites map[ids.CommitId]ids.CommitId
	// RefUpdates is keyed by the commits named in Declarations,
	// describing how a ref pointing at it should move. A declared
	// abandon that resolves to no stand-in (its parents are frozen by a
	// divergent rewrite, or it has none) gets no entry.
	RefUpdates map[ids.CommitId]RefUpdate
	// NewHeads are the newly emitted rebased commits; callers add these
	// to the mutable index.
	NewHeads []ids.CommitId
}

// Store is everything the rewrite engine needs from the object store:
// merge.Store for the tree merges, plus commit read/write and the
// well-known empty tree (all satisfied directly by *objstore.Store).
type Store interface {
	merge.Store
	GetCommit(id ids.CommitId) (objects.Commit, error)
	PutCommit(c objects.Commit) (ids.CommitId, error)
	EmptyTree() (ids.TreeId, error)
}

// Engine runs RebaseDescendants against a fixed object store and index.
type Engine struct {
	Store   Store
	Index   *index.CompositeIndex
	Mode    EmptyMode
	Workers int
	Now     func() time.Time
}

// NewEngine builds an Engine with sane defaults (Workers defaults to 4,
// Now defaults to time.Now if unset by the caller — transactions that
// need determinism should set Now explicitly).
func NewEngine(store Store, idx *index.CompositeIndex) *Engine {
	return &Engine{Store: store, Index: idx, Mode: KeepNewlyEmpty, Workers: 4, Now: time.Now}
}

// resolution is the per-commit outcome tracked while walking the
// descendant set.
type resolution struct {
	// target is the single commit this old id now resolves to, if any.
	target ids.CommitId
	hasOne bool
	// multi holds the replacement set when this id diverged (rewritten
	// to several targets, or abandoned onto several stand-in parents).
	multi []ids.CommitId
	// frozen marks a commit (or its descendant) whose ancestry passes
	// through a divergent rewrite: per spec.md §4.5 "Divergent rewrite"
	// its descendants are not rebased at all.
	frozen bool
}

// RebaseDescendants performs spec.md §4.5's algorithm: compute
// (rewritten ∪ abandoned)::, walk it in ascending-generation
// (topological) order, and resolve every commit to its final identity.
// Every commit named as a Rewrite target must already be present in
// e.Index (a transaction builds and indexes a replacement before
// declaring the rewrite); commits this engine emits during the rebase
// are added to e.Index itself as they're created.
func (e *Engine) RebaseDescendants(decl *Declarations) (*Result, error) {
	if err := checkNoCycles(e.Index, decl); err != nil {
		return nil, err
	}

	seeds := seedSet(decl)
	visit, err := descendantsInclusive(e.Index, seeds)
	if err != nil {
		return nil, err
	}
	ordered := sortByGeneration(e.Index, visit)

	res := map[ids.CommitId]*resolution{}
	result := &Result{Rewrites: map[ids.CommitId]ids.CommitId{}, RefUpdates: map[ids.CommitId]RefUpdate{}}

	levels := groupByGeneration(e.Index, ordered)
	for _, level := range levels {
		type outcome struct {
			id  ids.CommitId
			res *resolution
			new *objects.Commit
			newId ids.CommitId
			err error
		}
		outcomes := make([]outcome, len(level))
		sem := make(chan struct{}, workerCount(e.Workers))
		var wg sync.WaitGroup
		for i, c := range level {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int, c ids.CommitId) {
				defer wg.Done()
				defer func() { <-sem }()
				o, newCommit, newId, err := e.resolveOne(decl, res, c)
				outcomes[i] = outcome{id: c, res: o, new: newCommit, newId: newId, err: err}
			}(i, c)
		}
		wg.Wait()

		// Installed serially: CompositeIndex.AddCommit isn't safe for
		// concurrent callers, and a later level's normalizeParents needs
		// every new commit from this level already indexed (same-level
		// commits never depend on each other — generation strictly
		// increases from parent to child).
		for _, o := range outcomes {
			if o.err != nil {
				return nil, o.err
			}
			res[o.id] = o.res
			if o.res.hasOne {
				result.Rewrites[o.id] = o.res.target
			}
			if o.new != nil {
				if _, err := e.Index.AddCommit(o.newId, *o.new); err != nil {
					return nil, err
				}
				result.NewHeads = append(result.NewHeads, o.newId)
			}
		}
	}

	for old := range seeds {
		r := res[old]
		if r == nil {
			continue
		}
		if len(r.multi) > 1 {
			result.RefUpdates[old] = RefUpdate{Old: old, New: append([]ids.CommitId(nil), r.multi...)}
		} else if r.hasOne {
			result.RefUpdates[old] = RefUpdate{Old: old, New: []ids.CommitId{r.target}}
		}
	}

	return result, nil
}

// resolveOne computes commit c's resolution. It only reads from res (via
// the already-resolved parents), never writes to it — callers install
// the result into res after the whole generation level finishes, so
// concurrent resolveOne calls within one level never race.
func (e *Engine) resolveOne(decl *Declarations, res map[ids.CommitId]*resolution, c ids.CommitId) (*resolution, *objects.Commit, ids.CommitId, error) {
	if targets, ok := decl.Rewritten[c]; ok {
		return e.resolveDeclaredRewrite(targets), nil, ids.CommitId{}, nil
	}
	if decl.Abandoned[c] {
		return e.resolveAbandon(res, c)
	}
	return e.resolveDescendant(res, c)
}

func (e *Engine) resolveDeclaredRewrite(targets []ids.CommitId) *resolution {
	if len(targets) == 1 {
		return &resolution{target: targets[0], hasOne: true}
	}
	// Divergent: freeze descendants, but still report the ref conflict.
	return &resolution{multi: append([]ids.CommitId(nil), targets...), frozen: true}
}

func (e *Engine) resolveAbandon(res map[ids.CommitId]*resolution, c ids.CommitId) (*resolution, *objects.Commit, ids.CommitId, error) {
	commit, err := e.getCommit(c)
	if err != nil {
		return nil, nil, ids.CommitId{}, err
	}
	standIns, frozen, err := e.normalizeParents(res, commit.Parents)
	if err != nil {
		return nil, nil, ids.CommitId{}, err
	}
	if frozen {
		return &resolution{frozen: true}, nil, ids.CommitId{}, nil
	}
	if len(standIns) == 1 {
		return &resolution{target: standIns[0], hasOne: true}, nil, ids.CommitId{}, nil
	}
	return &resolution{multi: standIns}, nil, ids.CommitId{}, nil
}

func (e *Engine) resolveDescendant(res map[ids.CommitId]*resolution, c ids.CommitId) (*resolution, *objects.Commit, ids.CommitId, error) {
	commit, err := e.getCommit(c)
	if err != nil {
		return nil, nil, ids.CommitId{}, err
	}
	newParents, frozen, err := e.normalizeParents(res, commit.Parents)
	if err != nil {
		return nil, nil, ids.CommitId{}, err
	}
	if frozen {
		return &resolution{frozen: true}, nil, ids.CommitId{}, nil
	}
	if sameParentSet(commit.Parents, newParents) {
		// No-op: C keeps its own identity.
		return &resolution{target: c, hasOne: true}, nil, ids.CommitId{}, nil
	}

	oldBase, err := e.mergeCommitTrees(commit.Parents)
	if err != nil {
		return nil, nil, ids.CommitId{}, err
	}
	newBase, err := e.mergeCommitTrees(newParents)
	if err != nil {
		return nil, nil, ids.CommitId{}, err
	}
	mergedTree, err := merge.MergeTrees(e.Store, oldBase, newBase, commit.RootTree)
	if err != nil {
		return nil, nil, ids.CommitId{}, err
	}

	if e.Mode == AbandonNewlyEmpty && len(newParents) == 1 {
		wasEmpty := oldBase == commit.RootTree
		nowEmpty := mergedTree == newBase
		if nowEmpty && !wasEmpty {
			return &resolution{target: newParents[0], hasOne: true}, nil, ids.CommitId{}, nil
		}
	}

	newCommit := objects.Commit{
		RootTree:    mergedTree,
		Parents:     newParents,
		ChangeId:    commit.ChangeId,
		Author:      commit.Author,
		Committer:   objects.Signature{Name: commit.Committer.Name, Email: commit.Committer.Email, Timestamp: e.now()},
		Description: commit.Description,
	}
	newId, err := e.putCommit(newCommit)
	if err != nil {
		return nil, nil, ids.CommitId{}, err
	}
	return &resolution{target: newId, hasOne: true}, &newCommit, newId, nil
}

// normalizeParents expands each of parents through the already-resolved
// rewrite map, drops anything that turns out to be an ancestor of
// another candidate (spec.md §4.5 "normalize"), and propagates frozen
// status from any divergently-rewritten ancestor.
func (e *Engine) normalizeParents(res map[ids.CommitId]*resolution, parents []ids.CommitId) ([]ids.CommitId, bool, error) {
	var candidates []ids.CommitId
	for _, p := range parents {
		r, ok := res[p]
		if !ok {
			candidates = append(candidates, p)
			continue
		}
		if r.frozen {
			return nil, true, nil
		}
		if r.hasOne {
			candidates = append(candidates, r.target)
		} else {
			candidates = append(candidates, r.multi...)
		}
	}
	heads, err := e.Index.Heads(dedupe(candidates))
	if err != nil {
		return nil, false, err
	}
	sortCommitIds(heads)
	return heads, false, nil
}

func (e *Engine) getCommit(id ids.CommitId) (objects.Commit, error) {
	return e.Store.GetCommit(id)
}

func (e *Engine) putCommit(c objects.Commit) (ids.CommitId, error) {
	return e.Store.PutCommit(c)
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// mergeCommitTrees folds N parent trees into one "virtual merge base"
// tree. For 0 or 1 parents this is exact (the empty tree, or the sole
// parent's tree). For more, it folds pairwise using the first parent's
// tree as the shared base for every subsequent merge — a documented
// simplification of jj's real per-pair common-ancestor lookup (see
// DESIGN.md), adequate because spec.md never requires this helper to
// itself be conflict-free, only deterministic.
func (e *Engine) mergeCommitTrees(parents []ids.CommitId) (ids.TreeId, error) {
	if len(parents) == 0 {
		return e.Store.EmptyTree()
	}
	first, err := e.getCommit(parents[0])
	if err != nil {
		return ids.TreeId{}, err
	}
	acc := first.RootTree
	if len(parents) == 1 {
		return acc, nil
	}
	base := first.RootTree
	for _, p := range parents[1:] {
		c, err := e.getCommit(p)
		if err != nil {
			return ids.TreeId{}, err
		}
		acc, err = merge.MergeTrees(e.Store, base, acc, c.RootTree)
		if err != nil {
			return ids.TreeId{}, err
		}
	}
	return acc, nil
}

func seedSet(decl *Declarations) map[ids.CommitId]bool {
	out := map[ids.CommitId]bool{}
	for id := range decl.Rewritten {
		out[id] = true
	}
	for id := range decl.Abandoned {
		out[id] = true
	}
	return out
}

// descendantsInclusive returns seeds union every commit that has a seed
// as an ancestor (spec.md §4.5's "(rewritten ∪ abandoned)::").
func descendantsInclusive(idx *index.CompositeIndex, seeds map[ids.CommitId]bool) (map[ids.CommitId]bool, error) {
	out := map[ids.CommitId]bool{}
	for s := range seeds {
		out[s] = true
	}
	for _, e := range idx.AllEntries() {
		if out[e.CommitId] {
			continue
		}
		for s := range seeds {
			if idx.IsAncestor(s, e.CommitId) {
				out[e.CommitId] = true
				break
			}
		}
	}
	return out, nil
}

func sortByGeneration(idx *index.CompositeIndex, visit map[ids.CommitId]bool) []ids.CommitId {
	out := make([]ids.CommitId, 0, len(visit))
	for id := range visit {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return generationOf(idx, out[i]) < generationOf(idx, out[j])
	})
	return out
}

func groupByGeneration(idx *index.CompositeIndex, ordered []ids.CommitId) [][]ids.CommitId {
	var levels [][]ids.CommitId
	var cur []ids.CommitId
	var curGen uint32
	first := true
	for _, id := range ordered {
		g := generationOf(idx, id)
		if first || g != curGen {
			if len(cur) > 0 {
				levels = append(levels, cur)
			}
			cur = nil
			curGen = g
			first = false
		}
		cur = append(cur, id)
	}
	if len(cur) > 0 {
		levels = append(levels, cur)
	}
	return levels
}

func generationOf(idx *index.CompositeIndex, id ids.CommitId) uint32 {
	pos, ok := idx.PosByCommitId(id)
	if !ok {
		return 0
	}
	e, ok := idx.EntryByPos(pos)
	if !ok {
		return 0
	}
	return e.Generation
}

func sameParentSet(a, b []ids.CommitId) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := append([]ids.CommitId(nil), a...), append([]ids.CommitId(nil), b...)
	sortCommitIds(sa)
	sortCommitIds(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func sortCommitIds(cs []ids.CommitId) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Less(cs[j].Id) })
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

func workerCount(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// checkNoCycles implements spec.md §4.5's "Loop prevention": no declared
// new-child (the old commit whose descendants are being reparented) may
// be an ancestor of any declared new-parent (its replacement) — else
// those very descendants would end up rebased onto one of themselves.
func checkNoCycles(idx *index.CompositeIndex, decl *Declarations) error {
	for old, targets := range decl.Rewritten {
		for _, t := range targets {
			if idx.IsAncestor(old, t) {
				return errors.Wrapf(vcserr.Internal, "rewrite: cycle detected: %s is a declared replacement descending from %s", t, old)
			}
		}
	}
	return nil
}
