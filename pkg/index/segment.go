package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"jjcore/pkg/ids"
)

// formatVersion is bumped whenever the on-disk segment layout changes.
const formatVersion = 1

// overflowFlag marks a parent1 slot as "see the overflow table" instead
// of holding an inline position (spec.md §4.4 file format: "high bit
// set: ~overflow_pos, ~num_parents").
const overflowFlag = uint32(0x8000_0000)

// noParent is the inline-slot sentinel for "this parent slot is unused".
const noParent = ^uint32(0)

// IndexPosition is a commit's position in the full composite index,
// strictly increasing along parent edges (spec.md §4.4 "Global
// position"): every parent position is numerically less than its
// child's.
type IndexPosition uint32

// Entry is one commit's decoded index record. Parents always holds
// global positions, already resolved out of whichever of the inline or
// overflow encodings the segment used on disk.
type Entry struct {
	Position   IndexPosition
	Generation uint32
	ChangeId   ids.ChangeId
	CommitId   ids.CommitId
	Parents    []IndexPosition
}

type commitIdEntry struct {
	CommitId ids.CommitId
	LocalPos uint32
}

// segment is one layer of the index stack: either a loaded read-only
// file (mm != nil) or the in-memory mutable top layer (mm == nil).
// Both shapes share the same decoded representation so composite
// queries don't need to special-case which kind they're walking.
type segment struct {
	parent *segment
	id     ids.Id // zero for the mutable top layer
	mm     mmapHandle

	base            IndexPosition // parent's total commit count
	numLocalCommits uint32

	entries    []Entry                      // length numLocalCommits, Position ascending
	byCommitId []commitIdEntry              // sorted by CommitId, for binary search
	byChangeId map[ids.ChangeId][]IndexPosition
}

// mmapHandle abstracts the mapped bytes so tests can build segments
// without touching the filesystem.
type mmapHandle interface {
	Unmap() error
}

func newRootSegment() *segment {
	return &segment{byChangeId: map[ids.ChangeId][]IndexPosition{}}
}

// newChildSegment opens a fresh mutable layer on top of parent (spec.md
// §4.4 "start_modification").
func newChildSegment(parent *segment) *segment {
	return &segment{
		parent:     parent,
		base:       parent.base + IndexPosition(parent.numLocalCommits),
		byChangeId: map[ids.ChangeId][]IndexPosition{},
	}
}

// addEntry appends a commit to this (necessarily mutable) segment.
// Callers resolve parent generations via the full composite chain before
// calling this.
func (s *segment) addEntry(commitId ids.CommitId, changeId ids.ChangeId, generation uint32, parents []IndexPosition) IndexPosition {
	pos := s.base + IndexPosition(s.numLocalCommits)
	e := Entry{Position: pos, Generation: generation, ChangeId: changeId, CommitId: commitId, Parents: parents}
	s.entries = append(s.entries, e)
	s.numLocalCommits++

	// Keep byCommitId sorted by insertion-point search; segments built by
	// AddCommit are small until merged, so an insertion sort is fine.
	localPos := uint32(len(s.entries) - 1)
	idx := sort.Search(len(s.byCommitId), func(i int) bool { return !s.byCommitId[i].CommitId.Less(commitId.Id) })
	s.byCommitId = append(s.byCommitId, commitIdEntry{})
	copy(s.byCommitId[idx+1:], s.byCommitId[idx:])
	s.byCommitId[idx] = commitIdEntry{CommitId: commitId, LocalPos: localPos}

	s.byChangeId[changeId] = append(s.byChangeId[changeId], pos)
	return pos
}

func (s *segment) entryByLocalPos(localPos uint32) (Entry, bool) {
	if localPos >= s.numLocalCommits {
		return Entry{}, false
	}
	return s.entries[localPos], true
}

func (s *segment) posByCommitId(id ids.CommitId) (IndexPosition, bool) {
	n := len(s.byCommitId)
	i := sort.Search(n, func(i int) bool { return !s.byCommitId[i].CommitId.Less(id.Id) })
	if i < n && s.byCommitId[i].CommitId.Id == id.Id {
		return s.base + IndexPosition(s.byCommitId[i].LocalPos), true
	}
	return 0, false
}

// encode serializes this segment's local commits to the on-disk layout
// of spec.md §4.4, referencing parentFilename (empty for the root
// segment).
func (s *segment) encode(parentFilename string) []byte {
	var buf bytes.Buffer
	putU32 := func(v uint32) { var b [4]byte; binary.BigEndian.PutUint32(b[:], v); buf.Write(b[:]) }

	putU32(formatVersion)
	putU32(uint32(len(parentFilename)))
	buf.WriteString(parentFilename)

	// Unique change ids, sorted, with each change id's (global) index
	// positions collected into a length-prefixed run in overflow_change_positions
	// (DESIGN.md "Index overflow-position table encoding": every change
	// id indirects through the run table, uniform and simple, since a
	// change id mapping to exactly one commit is just a run of length 1).
	changeIds := make([]ids.ChangeId, 0, len(s.byChangeId))
	for cid := range s.byChangeId {
		changeIds = append(changeIds, cid)
	}
	sort.Slice(changeIds, func(i, j int) bool { return changeIds[i].Less(changeIds[j].Id) })
	changeIndex := make(map[ids.ChangeId]uint32, len(changeIds))
	for i, cid := range changeIds {
		changeIndex[cid] = uint32(i)
	}

	var overflowParents []uint32
	var overflowChangePositions []uint32
	changeRunOffsets := make([]uint32, len(changeIds))
	for i, cid := range changeIds {
		positions := s.byChangeId[cid]
		changeRunOffsets[i] = uint32(len(overflowChangePositions))
		overflowChangePositions = append(overflowChangePositions, uint32(len(positions)))
		for _, p := range positions {
			overflowChangePositions = append(overflowChangePositions, uint32(p))
		}
	}

	putU32(s.numLocalCommits)

	parentRunStart := make([]uint32, len(s.entries))
	for i, e := range s.entries {
		if len(e.Parents) > 2 {
			parentRunStart[i] = uint32(len(overflowParents))
			for _, p := range e.Parents {
				overflowParents = append(overflowParents, uint32(p))
			}
		}
	}
	putU32(uint32(len(overflowParents)))

	for i, e := range s.entries {
		putU32(e.Generation)
		switch {
		case len(e.Parents) == 0:
			putU32(noParent)
			putU32(noParent)
		case len(e.Parents) == 1:
			putU32(uint32(e.Parents[0]))
			putU32(noParent)
		case len(e.Parents) == 2:
			putU32(uint32(e.Parents[0]))
			putU32(uint32(e.Parents[1]))
		default:
			putU32(overflowFlag | parentRunStart[i])
			putU32(uint32(len(e.Parents)))
		}
		putU32(changeIndex[e.ChangeId])
		buf.Write(e.CommitId.Id[:])
	}

	for _, ce := range s.byCommitId {
		buf.Write(ce.CommitId.Id[:])
		putU32(ce.LocalPos)
	}

	putU32(uint32(len(changeIds)))
	for _, cid := range changeIds {
		buf.Write(cid.Id[:])
	}
	for _, offset := range changeRunOffsets {
		putU32(^offset)
	}

	putU32(uint32(len(overflowParents)))
	for _, p := range overflowParents {
		putU32(p)
	}
	putU32(uint32(len(overflowChangePositions)))
	for _, p := range overflowChangePositions {
		putU32(p)
	}

	return buf.Bytes()
}

// decodeSegment parses raw segment bytes into a segment chained onto
// parent, which must already be loaded (so base/global positions line
// up). It also returns the parent filename recorded in the header;
// SegmentStore.LoadChain loads that parent before calling decodeSegment.
func decodeSegment(raw []byte, parent *segment) (*segment, string, error) {
	r := &reader{buf: raw}

	version, err := r.u32()
	if err != nil {
		return nil, "", err
	}
	if version != formatVersion {
		return nil, "", fmt.Errorf("index: unsupported segment format version %d", version)
	}
	filenameLen, err := r.u32()
	if err != nil {
		return nil, "", err
	}
	parentFilename, err := r.bytes(int(filenameLen))
	if err != nil {
		return nil, "", err
	}

	numLocal, err := r.u32()
	if err != nil {
		return nil, "", err
	}
	numOverflowParentEntries, err := r.u32()
	if err != nil {
		return nil, "", err
	}

	s := &segment{parent: parent, byChangeId: map[ids.ChangeId][]IndexPosition{}}
	if parent != nil {
		s.base = parent.base + IndexPosition(parent.numLocalCommits)
	}
	s.numLocalCommits = numLocal

	type rawEntry struct {
		generation  uint32
		parent1     uint32
		parent2     uint32
		changeIdIdx uint32
		commitId    ids.CommitId
	}
	raws := make([]rawEntry, numLocal)
	for i := range raws {
		gen, err := r.u32()
		if err != nil {
			return nil, "", err
		}
		p1, err := r.u32()
		if err != nil {
			return nil, "", err
		}
		p2, err := r.u32()
		if err != nil {
			return nil, "", err
		}
		ci, err := r.u32()
		if err != nil {
			return nil, "", err
		}
		cid, err := r.id()
		if err != nil {
			return nil, "", err
		}
		raws[i] = rawEntry{gen, p1, p2, ci, ids.CommitId{Id: cid}}
	}

	byCommitId := make([]commitIdEntry, numLocal)
	for i := range byCommitId {
		cid, err := r.id()
		if err != nil {
			return nil, "", err
		}
		localPos, err := r.u32()
		if err != nil {
			return nil, "", err
		}
		byCommitId[i] = commitIdEntry{CommitId: ids.CommitId{Id: cid}, LocalPos: localPos}
	}
	s.byCommitId = byCommitId

	numChangeIds, err := r.u32()
	if err != nil {
		return nil, "", err
	}
	changeIds := make([]ids.ChangeId, numChangeIds)
	for i := range changeIds {
		cid, err := r.id()
		if err != nil {
			return nil, "", err
		}
		changeIds[i] = ids.ChangeId{Id: cid}
	}
	changeRunOffsets := make([]uint32, numChangeIds)
	for i := range changeRunOffsets {
		v, err := r.u32()
		if err != nil {
			return nil, "", err
		}
		changeRunOffsets[i] = ^v
	}

	overflowParentsLen, err := r.u32()
	if err != nil {
		return nil, "", err
	}
	if overflowParentsLen != numOverflowParentEntries {
		return nil, "", fmt.Errorf("index: overflow parent table length mismatch: %d vs header %d", overflowParentsLen, numOverflowParentEntries)
	}
	overflowParents := make([]uint32, overflowParentsLen)
	for i := range overflowParents {
		v, err := r.u32()
		if err != nil {
			return nil, "", err
		}
		overflowParents[i] = v
	}

	overflowChangeLen, err := r.u32()
	if err != nil {
		return nil, "", err
	}
	overflowChangePositions := make([]uint32, overflowChangeLen)
	for i := range overflowChangePositions {
		v, err := r.u32()
		if err != nil {
			return nil, "", err
		}
		overflowChangePositions[i] = v
	}

	entries := make([]Entry, numLocal)
	for i, re := range raws {
		var parents []IndexPosition
		switch {
		case re.parent1 == noParent:
			// no parents
		case re.parent1&overflowFlag != 0:
			start := re.parent1 &^ overflowFlag
			count := re.parent2
			parents = make([]IndexPosition, count)
			for j := uint32(0); j < count; j++ {
				parents[j] = IndexPosition(overflowParents[start+j])
			}
		case re.parent2 == noParent:
			parents = []IndexPosition{IndexPosition(re.parent1)}
		default:
			parents = []IndexPosition{IndexPosition(re.parent1), IndexPosition(re.parent2)}
		}

		changeId := changeIds[re.changeIdIdx]
		entries[i] = Entry{
			Position:   s.base + IndexPosition(i),
			Generation: re.generation,
			ChangeId:   changeId,
			CommitId:   re.commitId,
			Parents:    parents,
		}
	}
	s.entries = entries

	for i, cid := range changeIds {
		offset := changeRunOffsets[i]
		count := overflowChangePositions[offset]
		positions := make([]IndexPosition, count)
		for j := uint32(0); j < count; j++ {
			positions[j] = IndexPosition(overflowChangePositions[offset+1+j])
		}
		s.byChangeId[cid] = positions
	}

	return s, string(parentFilename), nil
}

// reader is a small cursor over segment bytes, used by both the mmap
// path and tests that decode an in-memory buffer directly.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("index: truncated segment at offset %d", r.pos)
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("index: truncated segment at offset %d", r.pos)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) id() (ids.Id, error) {
	b, err := r.bytes(ids.Len)
	if err != nil {
		return ids.Id{}, err
	}
	var id ids.Id
	copy(id[:], b)
	return id, nil
}
