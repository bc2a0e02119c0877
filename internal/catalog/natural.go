package catalog

import (
	"strings"
)

// Less orders metric names naturally ("s_2" before "s_10", case-insensitive).
// Names ending in a known STA suffix compare by prefix first, then suffix;
// plain names sort before STA names sharing the same prefix. Ties fall back
// to byte order so the result is total.
func Less(a, b string) bool {
	ap, as := splitSTA(a)
	bp, bs := splitSTA(b)
	if c := compareNatural(ap, bp); c != 0 {
		return c < 0
	}
	if c := compareNatural(as, bs); c != 0 {
		return c < 0
	}
	return a < b
}

// splitSTA splits at the rightmost STA suffix that does not start the name.
func splitSTA(name string) (string, string) {
	at := -1
	for _, suf := range staSuffixes {
		if idx := strings.LastIndex(name, suf); idx > at {
			at = idx
		}
	}
	if at <= 0 {
		return name, ""
	}
	return name[:at], name[at:]
}

// compareNatural compares alternating text/number chunks.
func compareNatural(a, b string) int {
	for a != "" && b != "" {
		ca, ra, na := nextChunk(a)
		cb, rb, nb := nextChunk(b)
		var c int
		switch {
		case na && nb:
			c = compareDigits(ca, cb)
		case na != nb:
			// digits sort before letters, as in a plain byte compare
			if na {
				c = -1
			} else {
				c = 1
			}
		default:
			c = strings.Compare(strings.ToLower(ca), strings.ToLower(cb))
		}
		if c != 0 {
			return c
		}
		a, b = ra, rb
	}
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return -1
	default:
		return 1
	}
}

func nextChunk(s string) (chunk, rest string, numeric bool) {
	numeric = isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == numeric {
		i++
	}
	return s[:i], s[i:], numeric
}

// compareDigits compares arbitrarily long digit strings numerically.
func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
