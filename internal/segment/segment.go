// Package segment cuts document text into bounded, sentence-aware reading
// fragments. It is pure: no I/O, no state, fully deterministic.
package segment

import (
	"fmt"
	"strings"
)

const (
	// DefaultMinLen and DefaultMaxLen bound a fragment in bytes when the
	// caller has no configured preference.
	DefaultMinLen = 100
	DefaultMaxLen = 500

	// backtrackWindow is how far the hard cap looks back for a space so a
	// capped fragment does not end mid-word.
	backtrackWindow = 100

	// EndOfDocument is returned once the cursor has consumed all text.
	EndOfDocument = "End of document."
)

// NextFragment returns the next reading fragment of text starting at offset,
// the absolute cut position to persist as the new cursor, and whether the
// document is finished.
//
// The cut point is chosen by three rules, in order:
//
//  1. Natural boundary: the earliest '.', '!' or '?' followed by a space or
//     newline, once at least minLen bytes have been scanned. The fragment
//     ends right after the punctuation mark.
//  2. Hard cap: if maxLen bytes are scanned first, cut at the last space
//     within the last backtrackWindow scanned bytes, or exactly at maxLen
//     when no space is found there. The hard cap wins even when the byte at
//     the cap is itself a qualifying boundary.
//  3. Tail: if the text ends before either rule fires, the fragment is the
//     whole remainder.
//
// The returned fragment has surrounding whitespace trimmed; newOffset always
// refers to the untrimmed text. On non-terminal text newOffset is strictly
// greater than offset; equality happens only at the terminal state. An
// offset outside [0, len(text)] is a caller bug and panics.
func NextFragment(text string, offset, minLen, maxLen int) (fragment string, newOffset int, isFinal bool) {
	if offset < 0 || offset > len(text) {
		panic(fmt.Sprintf("segment: offset %d out of range [0, %d]", offset, len(text)))
	}
	if offset >= len(text) {
		return EndOfDocument, offset, true
	}

	rem := text[offset:]
	cut := -1
	for i := 0; i < len(rem); i++ {
		scanned := i + 1

		if scanned >= maxLen {
			// The window covers the last backtrackWindow scanned bytes.
			start := i + 1 - backtrackWindow
			if start < 0 {
				start = 0
			}
			cut = offset + i + 1
			// A space at the very start of the remainder would cut an empty
			// span and stall the cursor; keep the cap position then.
			if sp := strings.LastIndexByte(rem[start:i+1], ' '); sp >= 0 && start+sp > 0 {
				cut = offset + start + sp
			}
			break
		}

		if isBoundary(rem[i]) && i+1 < len(rem) && isFollower(rem[i+1]) && scanned >= minLen {
			cut = offset + i + 1
			break
		}
	}
	if cut < 0 {
		cut = len(text)
	}

	fragment = strings.TrimSpace(text[offset:cut])
	return fragment, cut, cut >= len(text)
}

func isBoundary(c byte) bool {
	return c == '.' || c == '!' || c == '?'
}

func isFollower(c byte) bool {
	return c == ' ' || c == '\n'
}

// Progress reports how much of a document has been delivered, as a whole
// percentage clamped to [0, 100]. An empty document reports 0.
func Progress(textLen, offset int) int {
	if textLen <= 0 {
		return 0
	}
	p := offset * 100 / textLen
	if p > 100 {
		p = 100
	}
	return p
}
