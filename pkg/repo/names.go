package repo

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidRefName is returned by ValidateRefName.
var ErrInvalidRefName = errors.New("repo: invalid ref name")

// invalidRefChars mirrors the teacher's branch-name restrictions, applied
// here to both branch and tag names (spec.md doesn't narrow the alphabet
// further for tags).
var invalidRefChars = []rune{' ', '~', '^', ':', '?', '*', '[', '\\'}

// ValidateRefName rejects branch/tag names that can't round-trip through
// the on-disk ref layout or would collide with the reserved "HEAD" name,
// porting pkg/branch/validate.go's rules rather than reinventing them.
func ValidateRefName(name string) error {
	if name == "" {
		return errors.Wrap(ErrInvalidRefName, "name is empty")
	}
	if name == "HEAD" {
		return errors.Wrap(ErrInvalidRefName, "name is reserved")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return errors.Wrap(ErrInvalidRefName, "name starts with - or .")
	}
	if strings.HasSuffix(name, ".lock") {
		return errors.Wrap(ErrInvalidRefName, "name ends with .lock")
	}
	if strings.Contains(name, "..") || strings.Contains(name, "//") {
		return errors.Wrap(ErrInvalidRefName, "name contains .. or //")
	}
	for _, r := range invalidRefChars {
		if strings.ContainsRune(name, r) {
			return errors.Wrap(ErrInvalidRefName, "name contains a disallowed character")
		}
	}
	return nil
}
