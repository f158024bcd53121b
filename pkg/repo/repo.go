package repo

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"jjcore/pkg/backend"
	"jjcore/pkg/config"
	"jjcore/pkg/ids"
	"jjcore/pkg/index"
	"jjcore/pkg/objstore"
	"jjcore/pkg/opstore"
	"jjcore/pkg/vcserr"
)

// nativeStoreType is the only backend kind this module implements; the
// marker files exist on disk purely to match spec.md §6's layout and to
// let Load refuse a directory it doesn't know how to open.
const nativeStoreType = "native"

// compressObjects/compressOps fix the backend.FileStore compression
// choice for the life of a repository (the flag isn't itself persisted,
// so Load must agree with whatever Init used). Objects benefit from
// snappy (trees and commits repeat paths and signatures); JSON view/
// operation records are already small, so the op store skips it.
const (
	compressObjects = true
	compressOps     = false
)

func storeDir(dir string) string      { return filepath.Join(dir, "store") }
func opStoreDir(dir string) string    { return filepath.Join(dir, "op_store") }
func indexDir(dir string) string      { return filepath.Join(dir, "index") }
func workspacesDir(dir string) string { return filepath.Join(dir, "workspaces") }

// Repo is a loaded repository: its object store, operation log, and
// index, plus the leaf pointer that names the op-DAG's current tips
// (spec.md §6's on-disk layout, §4.6's external interface).
type Repo struct {
	dir      string
	objects  *objstore.Store
	ops      *opstore.Store
	segStore *index.SegmentStore
	headPtr  *index.HeadPointer
	leaves   *opstore.LeafTracker
	hash     ids.HashFunc
	log      *logrus.Entry
}

// Objects exposes the repo's content-addressed object store.
func (r *Repo) Objects() *objstore.Store { return r.objects }

// Operations exposes the repo's operation-log store.
func (r *Repo) Operations() *opstore.Store { return r.ops }

func writeMarker(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(vcserr.BackendError, "create %s: %v", filepath.Dir(path), err)
	}
	return os.WriteFile(path, []byte(content+"\n"), 0o644)
}

func readMarker(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrapf(vcserr.NotFound, "marker file %s", path)
		}
		return "", errors.Wrapf(vcserr.BackendError, "read %s: %v", path, err)
	}
	return string(data), nil
}

// Init creates a brand-new repository at dir: the on-disk layout of
// spec.md §6, a well-known root commit, and a single initial operation
// whose view has one workspace ("default") pointed at the root.
func Init(dir string, log *logrus.Entry) (*Repo, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(vcserr.BackendError, "create repo dir: %v", err)
	}
	if err := writeMarker(filepath.Join(dir, "store_type"), nativeStoreType); err != nil {
		return nil, err
	}
	if err := writeMarker(filepath.Join(dir, "op_store_type"), nativeStoreType); err != nil {
		return nil, err
	}
	if err := writeMarker(filepath.Join(indexDir(dir), "type"), nativeStoreType); err != nil {
		return nil, err
	}
	if err := config.Write(dir, config.Default()); err != nil {
		return nil, errors.Wrap(err, "write config.toml")
	}
	if err := os.MkdirAll(workspacesDir(dir), 0o755); err != nil {
		return nil, errors.Wrapf(vcserr.BackendError, "create workspaces dir: %v", err)
	}

	hash := ids.Blake2b256
	objBackend, err := backend.NewFileStore(storeDir(dir), hash, compressObjects)
	if err != nil {
		return nil, errors.Wrap(err, "open object store")
	}
	opBackend, err := backend.NewFileStore(opStoreDir(dir), hash, compressOps)
	if err != nil {
		return nil, errors.Wrap(err, "open op store")
	}
	segStore, err := index.NewSegmentStore(indexDir(dir), hash)
	if err != nil {
		return nil, err
	}
	headPtr, err := index.NewHeadPointer(indexDir(dir))
	if err != nil {
		return nil, err
	}
	leaves, err := opstore.NewLeafTracker(filepath.Join(dir, "op_heads"))
	if err != nil {
		return nil, err
	}

	objects := objstore.New(objBackend)
	ops := opstore.New(opBackend)

	_, rootId, err := objects.RootCommit()
	if err != nil {
		return nil, errors.Wrap(err, "write root commit")
	}
	root, err := objects.GetCommit(rootId)
	if err != nil {
		return nil, errors.Wrap(err, "read back root commit")
	}

	idx := index.NewCompositeIndex()
	if _, err := idx.AddCommit(rootId, root); err != nil {
		return nil, errors.Wrap(err, "index root commit")
	}
	segId, err := idx.Save(segStore, log)
	if err != nil {
		return nil, errors.Wrap(err, "save initial index segment")
	}

	view := opstore.View{
		Heads:      []ids.CommitId{rootId},
		Workspaces: map[string]ids.CommitId{"default": rootId},
	}
	viewId, err := ops.WriteView(view)
	if err != nil {
		return nil, errors.Wrap(err, "write initial view")
	}
	now := time.Now().UTC()
	initOp := opstore.Operation{
		ViewId:      viewId,
		Description: "initialize repo",
		Start:       now,
		End:         now,
	}
	opId, err := ops.WriteOperation(initOp)
	if err != nil {
		return nil, errors.Wrap(err, "write initial operation")
	}
	if err := headPtr.Write(opId.Id, segId); err != nil {
		return nil, errors.Wrap(err, "record initial op's index head")
	}
	if err := leaves.CompareAndSwap(nil, []ids.OperationId{opId}); err != nil {
		return nil, errors.Wrap(err, "publish initial operation as leaf")
	}
	if err := os.MkdirAll(filepath.Join(workspacesDir(dir), "default"), 0o755); err != nil {
		return nil, errors.Wrapf(vcserr.BackendError, "create default workspace dir: %v", err)
	}

	return &Repo{
		dir:      dir,
		objects:  objects,
		ops:      ops,
		segStore: segStore,
		headPtr:  headPtr,
		leaves:   leaves,
		hash:     hash,
		log:      log,
	}, nil
}

// Load opens an existing repository at dir.
func Load(dir string, log *logrus.Entry) (*Repo, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if _, err := readMarker(filepath.Join(dir, "store_type")); err != nil {
		return nil, errors.Wrap(err, "load repo")
	}
	if _, err := config.Load(dir); err != nil {
		return nil, errors.Wrap(err, "load repo")
	}

	hash := ids.Blake2b256
	objBackend, err := backend.NewFileStore(storeDir(dir), hash, compressObjects)
	if err != nil {
		return nil, errors.Wrap(err, "open object store")
	}
	opBackend, err := backend.NewFileStore(opStoreDir(dir), hash, compressOps)
	if err != nil {
		return nil, errors.Wrap(err, "open op store")
	}
	segStore, err := index.NewSegmentStore(indexDir(dir), hash)
	if err != nil {
		return nil, err
	}
	headPtr, err := index.NewHeadPointer(indexDir(dir))
	if err != nil {
		return nil, err
	}
	leaves, err := opstore.NewLeafTracker(filepath.Join(dir, "op_heads"))
	if err != nil {
		return nil, err
	}

	return &Repo{
		dir:      dir,
		objects:  objstore.New(objBackend),
		ops:      opstore.New(opBackend),
		segStore: segStore,
		headPtr:  headPtr,
		leaves:   leaves,
		hash:     hash,
		log:      log,
	}, nil
}

// CurrentOperation returns the repository's current leaf operation and
// its view, reconciling concurrent leaves first if more than one exists
// (the same path StartTransaction takes), for callers that only want to
// inspect state without opening a transaction.
func (r *Repo) CurrentOperation() (ids.OperationId, opstore.Operation, opstore.View, error) {
	leaves, err := r.leaves.Read()
	if err != nil {
		return ids.OperationId{}, opstore.Operation{}, opstore.View{}, err
	}
	if len(leaves) == 0 {
		return ids.OperationId{}, opstore.Operation{}, opstore.View{}, errors.Wrap(vcserr.Internal, "repo: no operation leaves")
	}
	opId := leaves[0]
	if len(leaves) > 1 {
		merged, published, err := r.mergeLeaves(leaves)
		if err != nil {
			return ids.OperationId{}, opstore.Operation{}, opstore.View{}, err
		}
		if published {
			opId = merged
		} else if leaves, err = r.leaves.Read(); err != nil {
			return ids.OperationId{}, opstore.Operation{}, opstore.View{}, err
		} else {
			opId = leaves[0]
		}
	}
	op, err := r.ops.ReadOperation(opId)
	if err != nil {
		return ids.OperationId{}, opstore.Operation{}, opstore.View{}, err
	}
	view, err := r.ops.ReadView(op.ViewId)
	if err != nil {
		return ids.OperationId{}, opstore.Operation{}, opstore.View{}, err
	}
	return opId, op, view, nil
}

// loadIndexForOp loads the composite index as it stood at the end of
// operation opId (via its recorded head segment), ready to be stacked
// with a fresh mutable layer by a transaction.
func (r *Repo) loadIndexForOp(opId ids.OperationId) (*index.CompositeIndex, error) {
	segId, err := r.headPtr.Read(opId.Id)
	if err != nil {
		return nil, errors.Wrapf(err, "read index head for operation %s", opId)
	}
	return index.Load(r.segStore, segId)
}

// indexAncestryOracle adapts *index.CompositeIndex's IsAncestor method to
// opstore.AncestryOracle; CompositeIndex already satisfies the interface
// structurally, this alias just documents the wiring (mergeLeaves passes
// the union index to opstore.MergeOperations as its head-pruning oracle).
type indexAncestryOracle = opstore.AncestryOracle

var _ indexAncestryOracle = (*index.CompositeIndex)(nil)
