package index

import (
	"os"
	"path/filepath"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"jjcore/pkg/ids"
)

// SegmentStore persists segment files under index/segments/<hex-hash>
// (spec.md §6), content-addressed the same way pkg/backend addresses
// objects but written directly so Load can hand back an mmap-ed view
// instead of a copied byte slice.
type SegmentStore struct {
	dir  string
	hash ids.HashFunc
}

// NewSegmentStore opens (creating if needed) the segments directory
// under indexDir.
func NewSegmentStore(indexDir string, hash ids.HashFunc) (*SegmentStore, error) {
	dir := filepath.Join(indexDir, "segments")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create index segments dir")
	}
	return &SegmentStore{dir: dir, hash: hash}, nil
}

func (ss *SegmentStore) path(id ids.Id) string {
	return filepath.Join(ss.dir, id.String())
}

// Save writes data under its content hash, atomically, and returns the
// resulting filename (spec.md §4.4: "File name is the hex of a hash over
// these bytes, so concurrent writers converge").
func (ss *SegmentStore) Save(data []byte) (ids.Id, error) {
	id := ss.hash(data)
	path := ss.path(id)
	if _, err := os.Stat(path); err == nil {
		return id, nil
	}

	tmp, err := os.CreateTemp(ss.dir, ".segment-tmp-*")
	if err != nil {
		return ids.Id{}, errors.Wrap(err, "create temp segment file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return ids.Id{}, errors.Wrap(err, "write temp segment file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return ids.Id{}, errors.Wrap(err, "sync temp segment file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return ids.Id{}, errors.Wrap(err, "close temp segment file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return ids.Id{}, errors.Wrap(err, "publish segment file")
	}
	return id, nil
}

// mappedSegment owns the mmap backing a loaded read-only segment's
// bytes, so CompositeIndex.Close can release it.
type mappedSegment struct {
	mm mmap.MMap
}

func (m mappedSegment) Unmap() error { return m.mm.Unmap() }

// mapFile opens and mmaps the segment file named id, returning the raw
// bytes and an mmap handle the caller must keep alive (or Unmap) for as
// long as any segment still references them.
func (ss *SegmentStore) mapFile(id ids.Id) (mmap.MMap, error) {
	f, err := os.Open(ss.path(id))
	if err != nil {
		return nil, errors.Wrap(err, "open segment file")
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errors.Wrap(err, "mmap segment file")
	}
	return m, nil
}

// LoadChain loads the segment named headId and recursively loads every
// ancestor segment it names, returning the fully-linked read-only chain.
// The parent chain is resolved bottom-up: a segment's global positions
// depend on its parent's total commit count, so the parent must be fully
// loaded (and its base known) before the child's entries are decoded.
func (ss *SegmentStore) LoadChain(headId ids.Id) (*segment, error) {
	if headId.IsZero() {
		return newRootSegment(), nil
	}

	m, err := ss.mapFile(headId)
	if err != nil {
		return nil, err
	}
	raw := []byte(m)

	parentFilename, err := peekParentFilename(raw)
	if err != nil {
		m.Unmap()
		return nil, err
	}

	var parent *segment
	if parentFilename != "" {
		parentId, err := ids.ParseId(parentFilename)
		if err != nil {
			m.Unmap()
			return nil, errors.Wrap(err, "parse parent segment filename")
		}
		parent, err = ss.LoadChain(parentId)
		if err != nil {
			m.Unmap()
			return nil, err
		}
	}

	s, _, err := decodeSegment(raw, parent)
	if err != nil {
		m.Unmap()
		return nil, err
	}
	s.id = headId
	s.mm = mappedSegment{mm: m}
	return s, nil
}

// peekParentFilename reads just enough of a segment's header to recover
// the parent segment's filename, without decoding the rest of the file.
func peekParentFilename(raw []byte) (string, error) {
	r := &reader{buf: raw}
	if _, err := r.u32(); err != nil { // format_version
		return "", err
	}
	filenameLen, err := r.u32()
	if err != nil {
		return "", err
	}
	name, err := r.bytes(int(filenameLen))
	if err != nil {
		return "", err
	}
	return string(name), nil
}

// SaveOne persists seg as a standalone segment file, linking it to its
// parent (if any) by filename, and returns the content id.
func (ss *SegmentStore) SaveOne(seg *segment) (ids.Id, error) {
	parentFilename := ""
	if seg.parent != nil && !seg.parent.id.IsZero() {
		parentFilename = seg.parent.id.String()
	}
	data := seg.encode(parentFilename)
	id, err := ss.Save(data)
	if err != nil {
		return ids.Id{}, err
	}
	seg.id = id
	return id, nil
}
