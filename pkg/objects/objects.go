// Package objects defines the four object kinds of spec.md §3–§4.1
// (Blob, Tree, Commit, Conflict) and their canonical, hash-stable
// encoding.
//
// Grounded on pkg/store/commit.go's commitJSON marshal/unmarshal pattern
// (hex-encode hash fields, encoding/json for the rest), generalized from
// one fixed commit shape to the tree-of-values and N-way conflict shapes
// spec.md §3 describes. Canonical encoding uses encoding/json over
// structs with explicitly sorted slice fields rather than maps, so Go's
// stable struct-field and slice-order marshalling gives us byte-for-byte
// determinism for free, the same guarantee the teacher relied on for its
// fixed-shape commitJSON.
package objects

import (
	"encoding/json"
	"sort"
	"time"

	"jjcore/pkg/ids"
)

// Kind discriminates the four values a tree entry (or conflict term) can
// point at.
type Kind int

const (
	KindBlob Kind = iota
	KindSymlink
	KindTree
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindSymlink:
		return "symlink"
	case KindTree:
		return "tree"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// TreeValue is what a path in a tree (or a term in a conflict) points at:
// a Blob (with an executable bit), a Symlink, a Tree, or a nested
// Conflict.
type TreeValue struct {
	Kind       Kind   `json:"kind"`
	Id         ids.Id `json:"id"`
	Executable bool   `json:"executable,omitempty"`
}

// Equal reports whether two tree values are identical (used by the
// three-way merge of pkg/merge to detect "side equals base").
func (v TreeValue) Equal(other TreeValue) bool {
	return v.Kind == other.Kind && v.Id == other.Id && v.Executable == other.Executable
}

func (v TreeValue) MarshalJSON() ([]byte, error) {
	aux := struct {
		Kind       string `json:"kind"`
		Id         ids.Id `json:"id"`
		Executable bool   `json:"executable,omitempty"`
	}{Kind: v.Kind.String(), Id: v.Id, Executable: v.Executable}
	return json.Marshal(aux)
}

func (v *TreeValue) UnmarshalJSON(data []byte) error {
	var aux struct {
		Kind       string `json:"kind"`
		Id         ids.Id `json:"id"`
		Executable bool   `json:"executable,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*v = TreeValue{Id: aux.Id, Executable: aux.Executable}
	switch aux.Kind {
	case "blob":
		v.Kind = KindBlob
	case "symlink":
		v.Kind = KindSymlink
	case "tree":
		v.Kind = KindTree
	case "conflict":
		v.Kind = KindConflict
	}
	return nil
}

// TreeEntry is one named child of a Tree.
type TreeEntry struct {
	Name  string    `json:"name"`
	Value TreeValue `json:"value"`
}

// Tree is an ordered map from name to TreeValue (spec.md §3). Entries
// are sorted canonically before hashing: directory names compare as if
// suffixed with "/", so a file "foo" sorts before "foo.txt" but a
// directory "foo" (compared as "foo/") sorts after it — this keeps file/directory transitions at the
// same name from colliding in sort order (spec.md §4.1).
type Tree struct {
	Entries []TreeEntry `json:"entries"`
}

// SortKey is the comparison key for canonical tree ordering: directory
// names compare as if suffixed with "/", so a file and a directory that
// would otherwise share a name never collide in sort order.
func SortKey(name string, kind Kind) string {
	if kind == KindTree {
		return name + "/"
	}
	return name
}

// Canonicalize sorts t's entries in place into canonical order.
func (t *Tree) Canonicalize() {
	sort.Slice(t.Entries, func(i, j int) bool {
		return SortKey(t.Entries[i].Name, t.Entries[i].Value.Kind) <
			SortKey(t.Entries[j].Name, t.Entries[j].Value.Kind)
	})
}

// Lookup returns the entry for name, if present.
func (t *Tree) Lookup(name string) (TreeValue, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return TreeValue{}, false
}

// Signature is an author or committer stamp (spec.md §3).
type Signature struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
}

// Commit is the two-layer-identity object of spec.md §3: a stable
// CommitId over content, and a ChangeId that survives rewrites.
type Commit struct {
	RootTree    ids.TreeId     `json:"root_tree"`
	Parents     []ids.CommitId `json:"parents"`
	ChangeId    ids.ChangeId   `json:"change_id"`
	Author      Signature      `json:"author"`
	Committer   Signature      `json:"committer"`
	Description string         `json:"description"`
}

// ConflictTerm is one element of a Conflict's removes or adds multiset.
type ConflictTerm struct {
	Value TreeValue `json:"value"`
}

// Conflict is the N-way conflict object of spec.md §3–§4.2: two
// multisets, removes (negative terms) and adds (positive terms).
type Conflict struct {
	Removes []ConflictTerm `json:"removes"`
	Adds    []ConflictTerm `json:"adds"`
}

// canonicalTermOrder sorts conflict terms for deterministic hashing.
func canonicalTermOrder(terms []ConflictTerm) {
	sort.Slice(terms, func(i, j int) bool {
		a, b := terms[i].Value, terms[j].Value
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Id.Less(b.Id)
	})
}

// Canonicalize sorts c's removes and adds into canonical order.
func (c *Conflict) Canonicalize() {
	canonicalTermOrder(c.Removes)
	canonicalTermOrder(c.Adds)
}
