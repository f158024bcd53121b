// Package index implements the segmented, memory-mapped commit index of
// spec.md §4.4: a stack of segments (oldest read-only files at the
// bottom, one in-memory mutable layer on top) giving position lookup,
// ancestry queries, prefix resolution, and head computation over the
// commit DAG.
//
// Grounded on original_source/lib/src/default_index/{readonly,mutable,
// composite}.rs, translated into the teacher's pkg/tree "build bottom-up,
// load on demand" idiom: a segment is built once in memory, then frozen
// to a content-addressed file exactly like pkg/tree's node persistence.
// Segment files live under their own on-disk area (index/segments/<hex>,
// spec.md §6), written directly to disk and loaded with
// github.com/edsrzf/mmap-go rather than through pkg/backend, because
// pkg/backend optionally
// snappy-compresses payloads — incompatible with mapping the file
// straight into the process's address space for binary search.
package index
