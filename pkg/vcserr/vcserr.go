// Package vcserr defines the closed set of error kinds the core surfaces
// (spec.md §7). Packages wrap these sentinels with github.com/pkg/errors
// at the call site that first observed the failure, so callers can test
// with errors.Is while still getting a stack trace on the outermost wrap.
// Not every error carries one: pkg/opstore (ErrLeavesChanged) and
// pkg/repo (ErrInvalidRefName) define sentinels of their own, and some
// encode/decode failures are wrapped without a kind.
//
// Grounded on the teacher's sentinel-error style (pkg/cas.ErrHashNotFound,
// pkg/branch.ErrBranchNotFound, ...), generalized to the seven kinds
// spec.md names instead of one sentinel per concrete situation.
package vcserr

import "errors"

var (
	// NotFound: an id is absent from a store.
	NotFound = errors.New("not found")
	// InvalidData: stored bytes fail canonical parsing.
	InvalidData = errors.New("invalid data")
	// Conflict: a reference has unresolved conflict parts.
	Conflict = errors.New("unresolved conflict")
	// RewriteRoot: an attempt to rewrite or abandon the root commit.
	RewriteRoot = errors.New("cannot rewrite or abandon the root commit")
	// BackendError: pass-through failure from the object or operation
	// store's underlying storage.
	BackendError = errors.New("backend error")
	// Cancelled: an operation gave up; pkg/repo returns it when its
	// bounded retries against concurrent leaf-set updates run out.
	Cancelled = errors.New("cancelled")
	// Internal: a programming-level invariant was violated.
	Internal = errors.New("internal error")
)
