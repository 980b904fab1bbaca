// Package appver parses and compares APK version strings.
//
// Upstream projects use wildly inconsistent numbering ("v2.0", "MatriX.11",
// "1.10.0-beta2"), so versions are reduced to an ordered tuple of the digit
// runs they contain and compared numerically. The reduction is deliberately
// permissive: it tolerates vendor prefixes but cannot tell apart numbering
// schemes that collide after stripping.
package appver

import (
	"regexp"
	"strconv"
)

// Unknown is the sentinel version used when inspection of a package fails.
// It parses to (0), ordering it below every real version.
const Unknown = "unknown"

var (
	prefixRe = regexp.MustCompile(`^[a-zA-Z]*\.?`)
	digitsRe = regexp.MustCompile(`\d+`)
)

// Tuple is a version reduced to its numeric components.
type Tuple []int

// Parse reduces a version string to a Tuple. A leading alphabetic token with
// an optional trailing dot is stripped first (covers "v1.2" and product-code
// prefixes like "MatriX.5"). Empty input or input with no digits yields (0).
func Parse(version string) Tuple {
	clean := prefixRe.ReplaceAllString(version, "")
	runs := digitsRe.FindAllString(clean, -1)
	if len(runs) == 0 {
		return Tuple{0}
	}
	t := make(Tuple, 0, len(runs))
	for _, r := range runs {
		n, err := strconv.Atoi(r)
		if err != nil {
			// Digit run too large for int; saturate rather than fail.
			n = int(^uint(0) >> 1)
		}
		t = append(t, n)
	}
	return t
}

// Compare orders two version strings. Returns -1 if a < b, 0 if equal,
// 1 if a > b. Tuples compare lexicographically; a shorter tuple that is a
// prefix of a longer one compares lower ("1.2" < "1.2.1").
func Compare(a, b string) int {
	ta, tb := Parse(a), Parse(b)
	for i := 0; i < len(ta) && i < len(tb); i++ {
		switch {
		case ta[i] < tb[i]:
			return -1
		case ta[i] > tb[i]:
			return 1
		}
	}
	switch {
	case len(ta) < len(tb):
		return -1
	case len(ta) > len(tb):
		return 1
	}
	return 0
}
