package objects

import "encoding/json"

// CanonicalBytes returns the canonical byte encoding a store hashes to
// produce a TreeId, CommitId, or ConflictId (spec.md §4.1: "Canonicalization").
// Callers must Canonicalize() the value first.
func (t Tree) CanonicalBytes() []byte {
	b, err := json.Marshal(t)
	if err != nil {
		panic("objects: tree must always be json-serializable: " + err.Error())
	}
	return b
}

func (c Commit) CanonicalBytes() []byte {
	b, err := json.Marshal(c)
	if err != nil {
		panic("objects: commit must always be json-serializable: " + err.Error())
	}
	return b
}

func (c Conflict) CanonicalBytes() []byte {
	b, err := json.Marshal(c)
	if err != nil {
		panic("objects: conflict must always be json-serializable: " + err.Error())
	}
	return b
}

// DecodeTree, DecodeCommit, DecodeConflict parse canonical bytes back
// into values. Failures are the caller's InvalidData (spec.md §7).
func DecodeTree(data []byte) (Tree, error) {
	var t Tree
	err := json.Unmarshal(data, &t)
	return t, err
}

func DecodeCommit(data []byte) (Commit, error) {
	var c Commit
	err := json.Unmarshal(data, &c)
	return c, err
}

func DecodeConflict(data []byte) (Conflict, error) {
	var c Conflict
	err := json.Unmarshal(data, &c)
	return c, err
}
