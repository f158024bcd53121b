package opstore

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"jjcore/pkg/ids"
)

// ErrLeavesChanged is returned by LeafTracker.CompareAndSwap when the
// leaf set on disk no longer matches the caller's expected value: some
// other writer published a new leaf concurrently (spec.md §5: "losers of
// the race observe the winner as a concurrent op and can reconcile").
var ErrLeavesChanged = errors.New("opstore: leaf set changed concurrently")

// LeafTracker persists the op-DAG's current leaf operations as a small
// file, one hex id per line, published with the same atomic
// temp-file-then-rename pattern the teacher uses for branch ref files
// (pkg/branch/manager.go's writeBranchRef), so a reader never observes a
// torn write.
type LeafTracker struct {
	path string
}

// NewLeafTracker creates dir if needed and returns a tracker for the
// leaf-pointer file inside it; the file itself is written on the first
// CompareAndSwap.
func NewLeafTracker(dir string) (*LeafTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create leaves dir")
	}
	return &LeafTracker{path: filepath.Join(dir, "leaves")}, nil
}

// Read returns the current leaf set, or nil if none has been published
// yet.
func (lt *LeafTracker) Read() ([]ids.OperationId, error) {
	data, err := os.ReadFile(lt.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read leaves")
	}
	var out []ids.OperationId
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		id, err := ids.ParseId(line)
		if err != nil {
			return nil, errors.Wrap(err, "parse leaf id")
		}
		out = append(out, ids.OperationId{Id: id})
	}
	return out, nil
}

// CompareAndSwap atomically replaces the leaf set from expected to next.
// If the set currently on disk doesn't match expected, it returns
// ErrLeavesChanged without writing anything.
func (lt *LeafTracker) CompareAndSwap(expected, next []ids.OperationId) error {
	current, err := lt.Read()
	if err != nil {
		return err
	}
	if !sameOperationSet(current, expected) {
		return ErrLeavesChanged
	}
	return lt.writeAtomic(next)
}

func (lt *LeafTracker) writeAtomic(leaves []ids.OperationId) error {
	sorted := append([]ids.OperationId(nil), leaves...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j].Id) })

	var sb strings.Builder
	for _, id := range sorted {
		sb.WriteString(id.String())
		sb.WriteByte('\n')
	}

	dir := filepath.Dir(lt.path)
	tmp, err := os.CreateTemp(dir, ".leaves-tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp leaves file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(sb.String()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "write temp leaves file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "sync temp leaves file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "close temp leaves file")
	}
	if err := os.Rename(tmpPath, lt.path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "publish leaves file")
	}
	return nil
}

func sameOperationSet(a, b []ids.OperationId) bool {
	if len(a) != len(b) {
		return false
	}
	sortOps := func(ops []ids.OperationId) []ids.OperationId {
		out := append([]ids.OperationId(nil), ops...)
		sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j].Id) })
		return out
	}
	sa, sb := sortOps(a), sortOps(b)
	for i := range sa {
		if sa[i].Id != sb[i].Id {
			return false
		}
	}
	return true
}
