// Package deb implements the Debian primitives shared across the
// repository client: the version ordering algorithm, the control-stanza
// reader used for package indices and release manifests, and the
// dependency relation syntax.
package deb

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Version is a parsed Debian version string. The zero value is not a
// valid version; use ParseVersion.
type Version struct {
	Epoch    int
	Upstream string
	Revision string
}

// ParseVersion parses [epoch:]upstream[-revision]. The epoch must be a
// non-negative integer; the upstream component must be non-empty. The
// revision is everything after the last hyphen, if any.
func ParseVersion(s string) (Version, error) {
	var v Version
	rest := s
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		epoch, err := strconv.Atoi(rest[:i])
		if err != nil || epoch < 0 {
			return v, errors.Errorf("invalid epoch in version %q", s)
		}
		v.Epoch = epoch
		rest = rest[i+1:]
	}
	if i := strings.LastIndexByte(rest, '-'); i >= 0 {
		v.Revision = rest[i+1:]
		rest = rest[:i]
	}
	if rest == "" {
		return v, errors.Errorf("empty upstream component in version %q", s)
	}
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if isDigit(c) || isAlpha(c) || strings.IndexByte(".+-:~", c) >= 0 {
			continue
		}
		return v, errors.Errorf("illegal character %q in version %q", c, s)
	}
	v.Upstream = rest
	return v, nil
}

// MustParseVersion is ParseVersion for static inputs; it panics on error.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	var b strings.Builder
	if v.Epoch > 0 {
		b.WriteString(strconv.Itoa(v.Epoch))
		b.WriteByte(':')
	}
	b.WriteString(v.Upstream)
	if v.Revision != "" {
		b.WriteByte('-')
		b.WriteString(v.Revision)
	}
	return b.String()
}

// Compare returns -1, 0, or 1 as v orders before, equal to, or after w
// under the dpkg comparison algorithm: epochs dominate, then the
// upstream components, then the revisions.
func (v Version) Compare(w Version) int {
	if v.Epoch != w.Epoch {
		if v.Epoch < w.Epoch {
			return -1
		}
		return 1
	}
	if c := verrevcmp(v.Upstream, w.Upstream); c != 0 {
		return c
	}
	return verrevcmp(v.Revision, w.Revision)
}

// Less reports whether v orders strictly before w.
func (v Version) Less(w Version) bool {
	return v.Compare(w) < 0
}

// Equal reports whether v and w compare equal. Distinct spellings can
// compare equal ("0:1.0" vs "1.0"), so this is not structural equality.
func (v Version) Equal(w Version) bool {
	return v.Compare(w) == 0
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// charOrder ranks a byte for the non-digit portions of verrevcmp:
// tilde sorts before everything including the end of the string,
// letters sort before non-letters, and the rest by byte value.
func charOrder(c byte) int {
	switch {
	case c == '~':
		return -1
	case isDigit(c):
		return 0
	case isAlpha(c):
		return int(c)
	default:
		return int(c) + 256
	}
}

// verrevcmp implements the core dpkg fragment comparison: alternating
// non-digit and digit runs, non-digit runs compared bytewise under
// charOrder, digit runs compared numerically.
func verrevcmp(a, b string) int {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		for (i < len(a) && !isDigit(a[i])) || (j < len(b) && !isDigit(b[j])) {
			var ac, bc int
			if i < len(a) {
				ac = charOrder(a[i])
			}
			if j < len(b) {
				bc = charOrder(b[j])
			}
			if ac != bc {
				if ac < bc {
					return -1
				}
				return 1
			}
			i++
			j++
		}
		for i < len(a) && a[i] == '0' {
			i++
		}
		for j < len(b) && b[j] == '0' {
			j++
		}
		firstDiff := 0
		for i < len(a) && j < len(b) && isDigit(a[i]) && isDigit(b[j]) {
			if firstDiff == 0 {
				firstDiff = int(a[i]) - int(b[j])
			}
			i++
			j++
		}
		if i < len(a) && isDigit(a[i]) {
			return 1
		}
		if j < len(b) && isDigit(b[j]) {
			return -1
		}
		if firstDiff != 0 {
			if firstDiff < 0 {
				return -1
			}
			return 1
		}
	}
	return 0
}
