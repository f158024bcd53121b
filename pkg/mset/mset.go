// Package mset provides small generic multiset helpers shared by
// pkg/merge's conflict simplification (spec.md §4.2) and pkg/opstore's
// ref-target simplification and three-way view merge (spec.md §4.3),
// both of which cancel and union multisets of comparable values using
// the same rules.
package mset

// CancelPairs removes one occurrence of each value from both a and b
// when it appears in both, preserving the relative order of what
// remains.
func CancelPairs[T comparable](a, b []T) ([]T, []T) {
	usedA := make([]bool, len(a))
	usedB := make([]bool, len(b))

	for i, av := range a {
		for j, bv := range b {
			if usedB[j] {
				continue
			}
			if av == bv {
				usedA[i] = true
				usedB[j] = true
				break
			}
		}
	}

	var outA, outB []T
	for i, used := range usedA {
		if !used {
			outA = append(outA, a[i])
		}
	}
	for j, used := range usedB {
		if !used {
			outB = append(outB, b[j])
		}
	}
	return outA, outB
}

// Union appends b's elements onto a (⊎ in spec.md §4.3's notation).
func Union[T any](a, b []T) []T {
	out := make([]T, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

// Diff removes, for each value in b, one matching occurrence from a.
func Diff[T comparable](a, b []T) []T {
	usedA := make([]bool, len(a))
	for _, bv := range b {
		for i, av := range a {
			if usedA[i] {
				continue
			}
			if av == bv {
				usedA[i] = true
				break
			}
		}
	}
	var out []T
	for i, used := range usedA {
		if !used {
			out = append(out, a[i])
		}
	}
	return out
}
