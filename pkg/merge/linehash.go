package merge

import "jjcore/pkg/chunker"

// lineHashWindow is passed as the Buzhash target chunk size, which only
// affects boundary tracking, not Sum(). The sliding window itself is
// always chunker.DefaultWindowSize bytes and starts zero-filled, so even
// one-byte lines get a stable fingerprint.
const lineHashWindow = chunker.DefaultWindowSize

// hashLine fingerprints one line (without its trailing separator) for the
// longest-common-subsequence comparison in filemerge.go, reusing
// pkg/chunker's rolling hash outside its original chunk-boundary role so
// lines with different fingerprints are rejected without a byte
// comparison; lines with equal fingerprints are still compared byte by
// byte.
func hashLine(line []byte) uint32 {
	b := chunker.NewBuzhash(lineHashWindow, 0, 0)
	for _, c := range line {
		b.Roll(c)
	}
	return b.Sum()
}

// splitLines splits data into lines, keeping the trailing separator
// attached to each line so the pieces can be rejoined byte-for-byte.
func splitLines(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	var lines [][]byte
	start := 0
	for i, c := range data {
		if c == '\n' {
			lines = append(lines, data[start:i+1])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

type hashedLine struct {
	hash uint32
	text []byte
}

func hashLines(data []byte) []hashedLine {
	rawLines := splitLines(data)
	out := make([]hashedLine, len(rawLines))
	for i, l := range rawLines {
		out[i] = hashedLine{hash: hashLine(l), text: l}
	}
	return out
}

func (a hashedLine) equal(b hashedLine) bool {
	if a.hash != b.hash {
		return false
	}
	if len(a.text) != len(b.text) {
		return false
	}
	for i := range a.text {
		if a.text[i] != b.text[i] {
			return false
		}
	}
	return true
}
