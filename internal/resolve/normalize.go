package resolve

import "strings"

// Forms are the comparison forms of one caller pattern. Every matching tier
// reads from here instead of encoding or decoding on its own.
type Forms struct {
	Raw     string // as received
	Decoded string // percent-decoded Raw
	Encoded string // Quote(Decoded), the canonical encoded form
}

// Normalize computes the forms of raw.
func Normalize(raw string) Forms {
	decoded := Unquote(raw)
	return Forms{Raw: raw, Decoded: decoded, Encoded: Quote(decoded)}
}

// Variants returns the distinct patterns worth evaluating, raw first.
func (f Forms) Variants() []string {
	if f.Decoded == f.Raw {
		return []string{f.Raw}
	}
	return []string{f.Raw, f.Decoded}
}

const upperhex = "0123456789ABCDEF"

func unreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '_' || c == '.' || c == '-' || c == '~' || c == '/':
		return true
	}
	return false
}

// Quote percent-encodes every byte except letters, digits and "_.-~/".
// Resource URIs are built with it, so "Index&.#*#" becomes "Index%26.%23%2A%23".
func Quote(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !unreserved(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

// Unquote decodes %XX escapes. Invalid escapes are kept literally and '+'
// is not a space, so decoding never fails.
func Unquote(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
