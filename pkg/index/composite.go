package index

import (
	"container/heap"
	"fmt"

	"jjcore/pkg/ids"
	"jjcore/pkg/objects"
)

// ErrAmbiguousPrefix is returned by ResolveCommitIdPrefix when more than
// one commit shares the given hex prefix.
var ErrAmbiguousPrefix = fmt.Errorf("index: ambiguous prefix")

// ErrNoMatch is returned by ResolveCommitIdPrefix when no commit has the
// given hex prefix.
var ErrNoMatch = fmt.Errorf("index: no match for prefix")

// CompositeIndex is a stack of segments, oldest at the bottom, queried
// as a single logical index (spec.md §4.4's "composite view"). The top
// of the stack is open for mutation until Save freezes it.
type CompositeIndex struct {
	top *segment
}

// NewCompositeIndex starts an empty index with no persisted segments.
func NewCompositeIndex() *CompositeIndex {
	return &CompositeIndex{top: newRootSegment()}
}

// Load opens the composite index rooted at the segment file named
// headId (empty id means an empty index).
func Load(ss *SegmentStore, headId ids.Id) (*CompositeIndex, error) {
	top, err := ss.LoadChain(headId)
	if err != nil {
		return nil, err
	}
	return &CompositeIndex{top: top}, nil
}

// StartModification opens a fresh mutable layer on top of the current
// (possibly read-only) index, so new commits can be added without
// mutating already-saved segments.
func (idx *CompositeIndex) StartModification() {
	idx.top = newChildSegment(idx.top)
}

// Close releases any mmap handles held by read-only segments in the
// chain.
func (idx *CompositeIndex) Close() error {
	var first error
	for s := idx.top; s != nil; s = s.parent {
		if s.mm != nil {
			if err := s.mm.Unmap(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// NumCommits is the total number of commits across every segment.
func (idx *CompositeIndex) NumCommits() uint32 {
	return uint32(idx.top.base) + idx.top.numLocalCommits
}

// AddCommit appends a commit to the mutable top layer, computing its
// generation number from its already-indexed parents (spec.md §4.4
// "Mutable layer": "computing generation from looked-up parent
// entries").
func (idx *CompositeIndex) AddCommit(commitId ids.CommitId, commit objects.Commit) (IndexPosition, error) {
	if pos, ok := idx.PosByCommitId(commitId); ok {
		return pos, nil
	}

	var parentPositions []IndexPosition
	var generation uint32
	for _, p := range commit.Parents {
		ppos, ok := idx.PosByCommitId(p)
		if !ok {
			return 0, fmt.Errorf("index: parent commit %s not indexed", p)
		}
		parentPositions = append(parentPositions, ppos)
		e, ok := idx.EntryByPos(ppos)
		if !ok {
			return 0, fmt.Errorf("index: parent position %d not found", ppos)
		}
		if e.Generation+1 > generation {
			generation = e.Generation + 1
		}
	}
	return idx.top.addEntry(commitId, commit.ChangeId, generation, parentPositions), nil
}

// EntryByPos resolves a global position to its entry, walking the
// segment stack from the top down.
func (idx *CompositeIndex) EntryByPos(pos IndexPosition) (Entry, bool) {
	for s := idx.top; s != nil; s = s.parent {
		if pos >= s.base {
			return s.entryByLocalPos(uint32(pos - s.base))
		}
	}
	return Entry{}, false
}

// PosByCommitId looks up a commit's global position, walking
// newest-first (spec.md §4.4: "walk newest-first (cheaper cache)").
func (idx *CompositeIndex) PosByCommitId(id ids.CommitId) (IndexPosition, bool) {
	for s := idx.top; s != nil; s = s.parent {
		if pos, ok := s.posByCommitId(id); ok {
			return pos, true
		}
	}
	return 0, false
}

// PositionsByChangeId returns every global position (across all
// segments) sharing the given change id, ascending (divergent rewrites
// can map one change id to several commits).
func (idx *CompositeIndex) PositionsByChangeId(id ids.ChangeId) []IndexPosition {
	var out []IndexPosition
	for s := idx.top; s != nil; s = s.parent {
		out = append(out, s.byChangeId[id]...)
	}
	sortPositions(out)
	return out
}

func sortPositions(ps []IndexPosition) {
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && ps[j-1] > ps[j]; j-- {
			ps[j-1], ps[j] = ps[j], ps[j-1]
		}
	}
}

// IsAncestor reports whether a is an ancestor of (or equal to) b.
// Satisfies pkg/opstore.AncestryOracle.
func (idx *CompositeIndex) IsAncestor(a, b ids.CommitId) bool {
	aPos, ok := idx.PosByCommitId(a)
	if !ok {
		return false
	}
	bPos, ok := idx.PosByCommitId(b)
	if !ok {
		return false
	}
	return idx.isAncestorPos(aPos, bPos)
}

// isAncestorPos is a generation-pruned DFS over b's ancestry, grounded
// on composite.rs's is_ancestor_pos: "pruning any entry whose generation
// <= gen(a); found iff ancestry holds."
func (idx *CompositeIndex) isAncestorPos(a, b IndexPosition) bool {
	if a == b {
		return true
	}
	aEntry, ok := idx.EntryByPos(a)
	if !ok {
		return false
	}
	genA := aEntry.Generation

	visited := map[IndexPosition]bool{}
	stack := []IndexPosition{b}
	for len(stack) > 0 {
		pos := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[pos] {
			continue
		}
		visited[pos] = true
		if pos == a {
			return true
		}
		e, ok := idx.EntryByPos(pos)
		if !ok || e.Generation <= genA {
			continue
		}
		for _, p := range e.Parents {
			if !visited[p] {
				stack = append(stack, p)
			}
		}
	}
	return false
}

// posHeapItem is a (generation, position) pair ordered as a max-heap.
type posHeapItem struct {
	gen uint32
	pos IndexPosition
}

type posHeap []posHeapItem

func (h posHeap) Len() int { return len(h) }
func (h posHeap) Less(i, j int) bool {
	if h[i].gen != h[j].gen {
		return h[i].gen > h[j].gen
	}
	return h[i].pos > h[j].pos
}
func (h posHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *posHeap) Push(x interface{}) { *h = append(*h, x.(posHeapItem)) }
func (h *posHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// CommonAncestors returns the minimal set of common ancestors of xs and
// ys (spec.md §4.4: dual generation-ordered heap walk, reduced to
// heads).
func (idx *CompositeIndex) CommonAncestors(xs, ys []ids.CommitId) ([]ids.CommitId, error) {
	xPos, err := idx.resolveAll(xs)
	if err != nil {
		return nil, err
	}
	yPos, err := idx.resolveAll(ys)
	if err != nil {
		return nil, err
	}
	commons := idx.commonAncestorsPos(xPos, yPos)
	heads := idx.headsPos(commons)
	return idx.toCommitIds(heads), nil
}

func (idx *CompositeIndex) resolveAll(cs []ids.CommitId) ([]IndexPosition, error) {
	out := make([]IndexPosition, len(cs))
	for i, c := range cs {
		pos, ok := idx.PosByCommitId(c)
		if !ok {
			return nil, fmt.Errorf("index: commit %s not indexed", c)
		}
		out[i] = pos
	}
	return out, nil
}

func (idx *CompositeIndex) toCommitIds(ps []IndexPosition) []ids.CommitId {
	out := make([]ids.CommitId, 0, len(ps))
	for _, p := range ps {
		if e, ok := idx.EntryByPos(p); ok {
			out = append(out, e.CommitId)
		}
	}
	return out
}

func (idx *CompositeIndex) seedHeap(seeds []IndexPosition) *posHeap {
	h := &posHeap{}
	heap.Init(h)
	for _, pos := range seeds {
		if e, ok := idx.EntryByPos(pos); ok {
			heap.Push(h, posHeapItem{gen: e.Generation, pos: pos})
		}
	}
	return h
}

func (idx *CompositeIndex) commonAncestorsPos(xs, ys []IndexPosition) []IndexPosition {
	heapX := idx.seedHeap(xs)
	heapY := idx.seedHeap(ys)
	visitedX := map[IndexPosition]bool{}
	visitedY := map[IndexPosition]bool{}
	var commons []IndexPosition

	advance := func(h *posHeap, visited map[IndexPosition]bool) {
		item := heap.Pop(h).(posHeapItem)
		if visited[item.pos] {
			return
		}
		visited[item.pos] = true
		e, ok := idx.EntryByPos(item.pos)
		if !ok {
			return
		}
		for _, p := range e.Parents {
			if pe, ok := idx.EntryByPos(p); ok {
				heap.Push(h, posHeapItem{gen: pe.Generation, pos: p})
			}
		}
	}

	for heapX.Len() > 0 && heapY.Len() > 0 {
		topX := (*heapX)[0]
		topY := (*heapY)[0]
		if topX.pos == topY.pos {
			commons = append(commons, topX.pos)
			heap.Pop(heapX)
			heap.Pop(heapY)
			continue
		}
		if topX.gen > topY.gen || (topX.gen == topY.gen && topX.pos > topY.pos) {
			advance(heapX, visitedX)
		} else {
			advance(heapY, visitedY)
		}
	}
	return commons
}

// Heads reduces a set of commits to its antichain of heads (commits with
// no descendant also in the set). Satisfies the set-reduction needed by
// pkg/opstore's view-merge head pruning.
func (idx *CompositeIndex) Heads(candidates []ids.CommitId) ([]ids.CommitId, error) {
	positions, err := idx.resolveAll(candidates)
	if err != nil {
		return nil, err
	}
	return idx.toCommitIds(idx.headsPos(positions)), nil
}

// headsPos implements composite.rs's heads_pos: seed a max-heap with the
// candidates' parents, walk down by generation removing any visited
// candidate, stop once generation falls below the minimum candidate
// generation; whatever candidates remain are heads.
func (idx *CompositeIndex) headsPos(candidates []IndexPosition) []IndexPosition {
	if len(candidates) <= 1 {
		return append([]IndexPosition(nil), candidates...)
	}
	remaining := map[IndexPosition]bool{}
	minGen := ^uint32(0)
	for _, c := range candidates {
		remaining[c] = true
		if e, ok := idx.EntryByPos(c); ok && e.Generation < minGen {
			minGen = e.Generation
		}
	}

	h := &posHeap{}
	heap.Init(h)
	visited := map[IndexPosition]bool{}
	for _, c := range candidates {
		if e, ok := idx.EntryByPos(c); ok {
			for _, p := range e.Parents {
				if pe, ok := idx.EntryByPos(p); ok {
					heap.Push(h, posHeapItem{gen: pe.Generation, pos: p})
				}
			}
		}
	}

	for h.Len() > 0 {
		item := (*h)[0]
		if item.gen < minGen {
			break
		}
		heap.Pop(h)
		if visited[item.pos] {
			continue
		}
		visited[item.pos] = true
		delete(remaining, item.pos)
		if e, ok := idx.EntryByPos(item.pos); ok {
			for _, p := range e.Parents {
				if pe, ok := idx.EntryByPos(p); ok {
					heap.Push(h, posHeapItem{gen: pe.Generation, pos: p})
				}
			}
		}
	}

	var out []IndexPosition
	for _, c := range candidates {
		if remaining[c] {
			out = append(out, c)
		}
	}
	return out
}

// PrefixResolution is the result kind of ResolveCommitIdPrefix.
type PrefixResolution int

const (
	NoMatch PrefixResolution = iota
	SingleMatch
	AmbiguousMatch
)

// ResolveCommitIdPrefix resolves a hex prefix against every segment's
// commit-id table, combining the per-segment results the way
// composite.rs's resolve_commit_id_prefix does.
func (idx *CompositeIndex) ResolveCommitIdPrefix(hexPrefix string) (PrefixResolution, ids.CommitId) {
	var found ids.CommitId
	count := 0
	for s := idx.top; s != nil; s = s.parent {
		for _, ce := range s.byCommitId {
			if hasHexPrefix(ce.CommitId.Id, hexPrefix) {
				if count == 0 {
					found = ce.CommitId
				} else if found.Id != ce.CommitId.Id {
					return AmbiguousMatch, ids.CommitId{}
				}
				count++
			}
		}
	}
	if count == 0 {
		return NoMatch, ids.CommitId{}
	}
	return SingleMatch, found
}

// AllEntries returns every commit entry across the whole segment stack,
// unordered. Used by pkg/rewrite to enumerate the descendant set of a
// rewrite/abandon declaration; the index doesn't otherwise expose a
// direct descendants-of query (spec.md §4.4 only names ancestor-direction
// primitives), so callers build it from the full entry list plus
// IsAncestor.
func (idx *CompositeIndex) AllEntries() []Entry {
	var out []Entry
	for s := idx.top; s != nil; s = s.parent {
		out = append(out, s.entries...)
	}
	return out
}

func hasHexPrefix(id ids.Id, prefix string) bool {
	full := id.String()
	return len(full) >= len(prefix) && full[:len(prefix)] == prefix
}
