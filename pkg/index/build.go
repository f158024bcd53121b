package index

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"jjcore/pkg/ids"
)

// Save freezes the index's mutable top layer(s) into read-only segment
// files, applying spec.md §4.4's layering rule: "if the mutable layer
// holds more than half the commits of its immediate parent segment,
// merge them into one larger segment; repeat recursively", which keeps
// the segment count O(log n). It returns the id of the resulting head
// segment file (empty id if the index holds no commits at all).
func (idx *CompositeIndex) Save(ss *SegmentStore, log *logrus.Entry) (ids.Id, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	if idx.NumCommits() == 0 {
		return ids.Id{}, nil
	}

	if idx.top.numLocalCommits == 0 && idx.top.id.IsZero() && idx.top.parent != nil {
		// Nothing new was added on top of an already-saved chain.
		idx.top = idx.top.parent
		return idx.top.id, nil
	}

	// Merge this layer into its parent while it holds more than half the
	// parent's commit count, growing the merged segment until the ratio
	// settles — yields O(log n) segments over time.
	for idx.top.parent != nil && idx.top.parent.numLocalCommits > 0 &&
		uint64(idx.top.numLocalCommits)*2 > uint64(idx.top.parent.numLocalCommits) {
		merged := mergeSegments(idx.top.parent, idx.top)
		idx.top = merged
	}

	id, err := ss.SaveOne(idx.top)
	if err != nil {
		return ids.Id{}, err
	}
	log.WithFields(logrus.Fields{
		"segment":  id.String(),
		"commits":  humanize.Comma(int64(idx.top.numLocalCommits)),
		"total":    humanize.Comma(int64(idx.NumCommits())),
	}).Debug("index: saved segment")
	return id, nil
}

// mergeSegments combines an immediate parent/child pair of segments into
// one larger segment, renumbering the child's local positions to follow
// directly after the parent's, exactly mirroring what re-decoding a
// single merged file would produce.
func mergeSegments(parent, child *segment) *segment {
	merged := &segment{
		parent:          parent.parent,
		base:            parent.base,
		byChangeId:      map[ids.ChangeId][]IndexPosition{},
		numLocalCommits: parent.numLocalCommits + child.numLocalCommits,
	}
	merged.entries = make([]Entry, 0, merged.numLocalCommits)
	merged.entries = append(merged.entries, parent.entries...)
	merged.entries = append(merged.entries, child.entries...)

	merged.byCommitId = make([]commitIdEntry, 0, merged.numLocalCommits)
	for _, ce := range parent.byCommitId {
		merged.byCommitId = append(merged.byCommitId, ce)
	}
	for _, ce := range child.byCommitId {
		merged.byCommitId = append(merged.byCommitId, commitIdEntry{
			CommitId: ce.CommitId,
			LocalPos: ce.LocalPos + parent.numLocalCommits,
		})
	}
	sortCommitIdEntries(merged.byCommitId)

	for cid, positions := range parent.byChangeId {
		merged.byChangeId[cid] = append(merged.byChangeId[cid], positions...)
	}
	for cid, positions := range child.byChangeId {
		merged.byChangeId[cid] = append(merged.byChangeId[cid], positions...)
	}

	return merged
}

func sortCommitIdEntries(es []commitIdEntry) {
	sort.Slice(es, func(i, j int) bool { return es[i].CommitId.Less(es[j].CommitId.Id) })
}

// HeadPointer persists (atomically) a tiny file naming the head index
// segment for one operation, matching spec.md §6's
// "index/operations/<op-id> — tiny file naming the head index segment".
type HeadPointer struct {
	dir string
}

// NewHeadPointer opens (creating if needed) the operations directory
// under indexDir.
func NewHeadPointer(indexDir string) (*HeadPointer, error) {
	dir := filepath.Join(indexDir, "operations")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create index operations dir")
	}
	return &HeadPointer{dir: dir}, nil
}

// Write records that operation opId's view corresponds to index segment
// segId.
func (hp *HeadPointer) Write(opId, segId ids.Id) error {
	path := filepath.Join(hp.dir, opId.String())
	tmp, err := os.CreateTemp(hp.dir, ".op-tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp op pointer file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(segId.String()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "write temp op pointer file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "sync temp op pointer file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "close temp op pointer file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "publish op pointer file")
	}
	return nil
}

// Read returns the index segment id recorded for opId.
func (hp *HeadPointer) Read(opId ids.Id) (ids.Id, error) {
	data, err := os.ReadFile(filepath.Join(hp.dir, opId.String()))
	if err != nil {
		return ids.Id{}, errors.Wrap(err, "read op pointer file")
	}
	return ids.ParseId(string(data))
}
