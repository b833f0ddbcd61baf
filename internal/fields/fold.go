package fields

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// folded is an accent-stripped, lowercased ASCII view of a text. Byte i of
// folded.text came from original bytes [start[i], end[i]).
type folded struct {
	orig  string
	text  string
	start []int
	end   []int
}

// fold decomposes each rune (NFD), keeps only the ASCII part and lowercases it.
// Marks and symbols without an ASCII base are dropped.
func fold(s string) folded {
	f := folded{orig: s}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, w := utf8.DecodeRuneInString(s[i:])
		if r < utf8.RuneSelf {
			b.WriteByte(lowerASCII(byte(r)))
			f.start = append(f.start, i)
			f.end = append(f.end, i+w)
		} else {
			for _, d := range norm.NFD.String(string(r)) {
				if d < utf8.RuneSelf {
					b.WriteByte(lowerASCII(byte(d)))
					f.start = append(f.start, i)
					f.end = append(f.end, i+w)
				}
			}
		}
		i += w
	}
	f.text = b.String()
	return f
}

func lowerASCII(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// span maps folded byte range [a, b) back to the original text.
func (f folded) span(a, b int) string {
	if a < 0 || b <= a {
		return ""
	}
	return f.orig[f.start[a]:f.end[b-1]]
}

// origRange maps folded byte range [a, b) to original byte offsets.
func (f folded) origRange(a, b int) (int, int) {
	if b <= a {
		if a < len(f.start) {
			return f.start[a], f.start[a]
		}
		return len(f.orig), len(f.orig)
	}
	return f.start[a], f.end[b-1]
}
