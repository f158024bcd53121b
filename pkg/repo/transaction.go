package repo

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"jjcore/pkg/ids"
	"jjcore/pkg/index"
	"jjcore/pkg/opstore"
	"jjcore/pkg/rewrite"
	"jjcore/pkg/vcserr"
)

// maxMergeAttempts bounds the retry loop StartTransaction runs against a
// racing leaf-set CAS before giving up (spec.md §5: losers of the race
// observe the winner and can reconcile; this caps how many times one
// caller tries before surfacing that to its own caller instead).
const maxMergeAttempts = 8

// maxLeafPublishAttempts bounds Finish's retry loop against a leaf set
// some other transaction is concurrently updating. Unlike
// maxMergeAttempts, a retry here is never "someone else already reconciled
// my base away" — Finish always recomputes its edit (drop BaseOp if still
// present, add the new operation) against whatever the current leaf set
// is, so it only needs to retry on a torn CAS, never give up on behalf of
// the caller's own work.
const maxLeafPublishAttempts = 8

// Transaction is a single fork-mutate-finish cycle against a Repo
// (spec.md §4.6). BaseOp is the operation this transaction's new
// operation will record as its sole parent.
type Transaction struct {
	repo    *Repo
	BaseOp  ids.OperationId
	Mutable *MutableRepo
	Mode    rewrite.EmptyMode
	start   time.Time
}

// StartTransaction forks a Transaction from the repo's current leaf
// operation. If more than one leaf exists (concurrent transactions
// raced to publish), it first reconciles them via
// pkg/opstore.MergeOperations and publishes the merge as the new sole
// leaf, so every transaction's Finish only ever needs to record one
// parent.
func (r *Repo) StartTransaction() (*Transaction, error) {
	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		leaves, err := r.leaves.Read()
		if err != nil {
			return nil, err
		}
		if len(leaves) == 0 {
			return nil, errors.Wrap(vcserr.Internal, "repo: no operation leaves (repo not initialized?)")
		}

		baseOpId := leaves[0]
		if len(leaves) > 1 {
			merged, published, err := r.mergeLeaves(leaves)
			if err != nil {
				return nil, err
			}
			if !published {
				// Someone else published first; re-read and retry.
				continue
			}
			baseOpId = merged
		}

		idx, err := r.loadIndexForOp(baseOpId)
		if err != nil {
			return nil, err
		}
		idx.StartModification()

		baseOp, err := r.ops.ReadOperation(baseOpId)
		if err != nil {
			return nil, err
		}
		baseView, err := r.ops.ReadView(baseOp.ViewId)
		if err != nil {
			return nil, err
		}

		return &Transaction{
			repo:   r,
			BaseOp: baseOpId,
			Mutable: &MutableRepo{
				repo: r,
				idx:  idx,
				view: cloneView(baseView),
				decl: rewrite.NewDeclarations(),
			},
			start: time.Now().UTC(),
		}, nil
	}
	return nil, errors.Wrap(vcserr.Cancelled, "repo: too many concurrent operation-leaf merges, give up")
}

// mergeLeaves folds leaves into one synthetic operation and tries to
// publish it as the sole leaf via CAS. published is false if another
// writer's CAS won the race first; the caller should re-read and retry.
func (r *Repo) mergeLeaves(leaves []ids.OperationId) (merged ids.OperationId, published bool, err error) {
	idx, err := r.unionIndex(leaves)
	if err != nil {
		return ids.OperationId{}, false, err
	}

	mergedId, mergedOp, err := opstore.MergeOperations(r.ops, idx, leaves, time.Now().UTC())
	if err != nil {
		idx.Close()
		return ids.OperationId{}, false, err
	}
	_ = mergedOp

	segId, err := idx.Save(r.segStore, r.log)
	if err != nil {
		idx.Close()
		return ids.OperationId{}, false, err
	}
	if err := idx.Close(); err != nil {
		return ids.OperationId{}, false, err
	}
	if err := r.headPtr.Write(mergedId.Id, segId); err != nil {
		return ids.OperationId{}, false, err
	}

	if err := r.leaves.CompareAndSwap(leaves, []ids.OperationId{mergedId}); err != nil {
		if errors.Is(err, opstore.ErrLeavesChanged) {
			return ids.OperationId{}, false, nil
		}
		return ids.OperationId{}, false, err
	}
	return mergedId, true, nil
}

// unionIndex builds one composite index covering every commit reachable
// from any of leaves' recorded index heads. StartTransaction's
// idx.StartModification only ever stacks a fresh *sibling* segment on the
// shared parent (pkg/index/segment.go's newChildSegment), so two
// transactions forked from the same base produce sibling segment chains,
// neither containing the other — picking "whichever is biggest" would
// silently drop the smaller fork's commits, violating spec.md §4.4's "the
// commit index contains every commit reachable from every head of every
// operation". Instead this loads the first leaf's chain as a base and
// replays every entry unique to the other leaves on top of it, ascending
// by generation so each entry's parents are already present in the base
// by the time it's added (every commit a fork adds is either already in
// the shared base or was added earlier, at a lower generation, by that
// same fork).
func (r *Repo) unionIndex(leaves []ids.OperationId) (*index.CompositeIndex, error) {
	segIds := make([]ids.Id, len(leaves))
	for i, leaf := range leaves {
		segId, err := r.headPtr.Read(leaf.Id)
		if err != nil {
			return nil, err
		}
		segIds[i] = segId
	}

	base, err := index.Load(r.segStore, segIds[0])
	if err != nil {
		return nil, err
	}
	base.StartModification()

	seen := map[ids.CommitId]bool{}
	for _, e := range base.AllEntries() {
		seen[e.CommitId] = true
	}

	var missing []index.Entry
	for _, segId := range segIds[1:] {
		other, err := index.Load(r.segStore, segId)
		if err != nil {
			base.Close()
			return nil, err
		}
		for _, e := range other.AllEntries() {
			if !seen[e.CommitId] {
				seen[e.CommitId] = true
				missing = append(missing, e)
			}
		}
		if err := other.Close(); err != nil {
			base.Close()
			return nil, err
		}
	}

	sort.Slice(missing, func(i, j int) bool { return missing[i].Generation < missing[j].Generation })
	for _, e := range missing {
		commit, err := r.objects.GetCommit(e.CommitId)
		if err != nil {
			base.Close()
			return nil, err
		}
		if _, err := base.AddCommit(e.CommitId, commit); err != nil {
			base.Close()
			return nil, err
		}
	}
	return base, nil
}

func cloneView(v opstore.View) opstore.View {
	out := opstore.View{
		Heads:         append([]ids.CommitId(nil), v.Heads...),
		Workspaces:    map[string]ids.CommitId{},
		LocalBranches: map[string]opstore.RefTarget{},
		RemoteViews:   map[string]map[string]opstore.RemoteRef{},
		Tags:          map[string]opstore.RefTarget{},
		GitRefs:       map[string]opstore.RefTarget{},
		GitHead:       v.GitHead,
	}
	for k, val := range v.Workspaces {
		out.Workspaces[k] = val
	}
	for k, val := range v.LocalBranches {
		out.LocalBranches[k] = val
	}
	for remote, branches := range v.RemoteViews {
		inner := map[string]opstore.RemoteRef{}
		for branch, ref := range branches {
			inner[branch] = ref
		}
		out.RemoteViews[remote] = inner
	}
	for k, val := range v.Tags {
		out.Tags[k] = val
	}
	for k, val := range v.GitRefs {
		out.GitRefs[k] = val
	}
	return out
}

// Finish runs spec.md §4.6's four-step close-out: rebase every
// descendant of a declared rewrite/abandon to completion, save the
// mutable index layer, write the mutated view and a new operation
// recording BaseOp as its parent, and publish that operation as a new
// leaf. Publishing only ever drops BaseOp from the leaf set and adds the
// new operation — it never discards leaves a concurrent Finish added
// from the same base, so two transactions forked from one operation both
// succeed and coexist as separate leaves (spec.md §5: "there may be
// several leaf operations simultaneously"; §4.6: "losers of the race
// observe the winner as a concurrent op and can reconcile" — reconciled
// by StartTransaction/CurrentOperation's mergeLeaves, not discarded
// here). vcserr.Cancelled only surfaces after maxLeafPublishAttempts
// straight CAS collisions, the same contention bound StartTransaction
// applies to its own merge retries.
func (tx *Transaction) Finish(description string) (ids.OperationId, error) {
	if _, err := tx.Mutable.RebaseDescendants(tx.Mode); err != nil {
		return ids.OperationId{}, errors.Wrap(err, "rebase descendants")
	}

	segId, err := tx.Mutable.idx.Save(tx.repo.segStore, tx.repo.log)
	if err != nil {
		return ids.OperationId{}, errors.Wrap(err, "save index")
	}

	view := tx.Mutable.view
	view.Canonicalize()
	viewId, err := tx.repo.ops.WriteView(view)
	if err != nil {
		return ids.OperationId{}, errors.Wrap(err, "write view")
	}

	now := time.Now().UTC()
	op := opstore.Operation{
		ViewId:      viewId,
		Parents:     []ids.OperationId{tx.BaseOp},
		Description: description,
		Start:       tx.start,
		End:         now,
	}
	opId, err := tx.repo.ops.WriteOperation(op)
	if err != nil {
		return ids.OperationId{}, errors.Wrap(err, "write operation")
	}
	if err := tx.repo.headPtr.Write(opId.Id, segId); err != nil {
		return ids.OperationId{}, errors.Wrap(err, "record index head")
	}

	if err := tx.repo.publishLeaf(tx.BaseOp, opId); err != nil {
		return ids.OperationId{}, err
	}
	return opId, nil
}

// publishLeaf replaces baseOp with newOp in the repo's leaf set,
// preserving any other leaf already there (a sibling transaction that
// finished first from the same base). Retries on a torn CAS against a
// freshly re-read current set; gives up as vcserr.Cancelled only after
// maxLeafPublishAttempts straight collisions.
func (r *Repo) publishLeaf(baseOp, newOp ids.OperationId) error {
	for attempt := 0; attempt < maxLeafPublishAttempts; attempt++ {
		current, err := r.leaves.Read()
		if err != nil {
			return err
		}
		next := append(removeLeaf(current, baseOp), newOp)
		if err := r.leaves.CompareAndSwap(current, next); err == nil {
			return nil
		} else if !errors.Is(err, opstore.ErrLeavesChanged) {
			return err
		}
	}
	return errors.Wrap(vcserr.Cancelled, "repo: too many concurrent leaf-set updates, give up")
}

func removeLeaf(leaves []ids.OperationId, target ids.OperationId) []ids.OperationId {
	out := make([]ids.OperationId, 0, len(leaves))
	for _, l := range leaves {
		if l.Id != target.Id {
			out = append(out, l)
		}
	}
	return out
}
