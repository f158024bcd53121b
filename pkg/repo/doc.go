// Package repo ties pkg/objstore, pkg/opstore, pkg/index, and pkg/rewrite
// into the external interface spec.md §6 describes: load_repo, a
// transaction lifecycle that forks a mutable view from the current
// operation, mutates it, rebases its descendants, and publishes a new
// operation as a leaf (spec.md §4.6, §5).
//
// Grounded on pkg/store/store.go's NewStoreWithCAS composition style
// (wiring independently-testable pieces behind one façade type) and
// pkg/branch/{manager,validate}.go's atomic ref-file writes and
// name-validation rules, generalized from a single HEAD-and-branches
// model to the multi-workspace, multi-branch, operation-logged view
// model spec.md §4.3/§4.6 describes.
package repo
