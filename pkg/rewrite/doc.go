// Package rewrite implements the descendant rebase engine of spec.md
// §4.5: given a set of commits declared rewritten (mapped to one or more
// replacements sharing the original's ChangeId) or abandoned, it walks
// every descendant in topological order, rewriting parent pointers and
// re-merging trees, and reports how refs pointing at the rewritten
// commits should move.
//
// Grounded on original_source/lib/src/rewrite.rs (the new_parents
// normalization and divergent/abandon policies) and
// original_source/cli/src/commands/rebase.rs (level-parallel rebasing),
// written in the teacher's pkg/tree traversal idiom: build bottom-up,
// recording each step's result before moving to the next.
package rewrite
