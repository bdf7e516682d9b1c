// Package version implements the total-ordered release identifiers and the
// closed set of comparison clauses that requirement constraints are built from.
//
// Versions follow the PEP 440 public version scheme: an optional epoch, any
// number of release segments, and optional pre, post, dev and local parts.
// Validation and ordering are delegated to
// github.com/aquasecurity/go-pep440-version; this package keeps the release
// structure that compatible-release and wildcard clauses are defined over.
package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// Version is an immutable, comparable release identifier.
type Version struct {
	raw     string
	epoch   int
	release []int
	pre     bool
	post    bool
	dev     bool
	local   string

	key    pep440.Version
	public pep440.Version // key without the local label
}

var versionPattern = regexp.MustCompile(`^v?(?:(\d+)!)?(\d+(?:\.\d+)*)` +
	`(?:[-_.]?(alpha|a|beta|b|preview|pre|c|rc)[-_.]?(\d*))?` +
	`(?:-(\d+)|[-_.]?(post|rev|r)[-_.]?(\d*))?` +
	`(?:[-_.]?(dev)[-_.]?(\d*))?` +
	`(?:\+([a-z0-9]+(?:[-_.][a-z0-9]+)*))?$`)

// Parse parses a version string such as "1.10.0", "2017.2", "1.0b0" or
// "2.8.1.post1".
func Parse(raw string) (Version, error) {
	trimmed := strings.TrimSpace(raw)
	m := versionPattern.FindStringSubmatch(strings.ToLower(trimmed))
	if m == nil {
		return Version{}, fmt.Errorf("version: parse %q: invalid version", raw)
	}
	key, err := pep440.Parse(trimmed)
	if err != nil {
		return Version{}, fmt.Errorf("version: parse %q: %w", raw, err)
	}

	v := Version{
		raw:   trimmed,
		pre:   m[3] != "",
		post:  m[5] != "" || m[6] != "",
		dev:   m[8] != "",
		local: m[10],
		key:   key,
	}
	if m[1] != "" {
		if v.epoch, err = strconv.Atoi(m[1]); err != nil {
			return Version{}, fmt.Errorf("version: parse %q: epoch: %w", raw, err)
		}
	}
	for _, seg := range strings.Split(m[2], ".") {
		n, err := strconv.Atoi(seg)
		if err != nil {
			return Version{}, fmt.Errorf("version: parse %q: release: %w", raw, err)
		}
		v.release = append(v.release, n)
	}

	v.public = key
	if v.local != "" {
		public, _, _ := strings.Cut(trimmed, "+")
		if v.public, err = pep440.Parse(public); err != nil {
			return Version{}, fmt.Errorf("version: parse %q: %w", raw, err)
		}
	}
	return v, nil
}

// MustParse is like Parse but panics on error.
func MustParse(raw string) Version {
	v, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as it was written.
func (v Version) String() string {
	return v.raw
}

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool {
	return v.raw == ""
}

// IsPrerelease reports whether v is a pre-release or development release.
func (v Version) IsPrerelease() bool {
	return v.pre || v.dev
}

// IsPostrelease reports whether v carries a post-release part.
func (v Version) IsPostrelease() bool {
	return v.post
}

// Local returns the local label without the leading "+".
func (v Version) Local() string {
	return v.local
}

// Segment returns the i-th release segment, or 0 past the end.
func (v Version) Segment(i int) int {
	if i < 0 || i >= len(v.release) {
		return 0
	}
	return v.release[i]
}

// Release returns a copy of the release segments.
func (v Version) Release() []int {
	out := make([]int, len(v.release))
	copy(out, v.release)
	return out
}

// Epoch returns the version epoch (0 when absent).
func (v Version) Epoch() int {
	return v.epoch
}

// Compare returns -1, 0 or 1 when v sorts before, equal to or after o. The
// zero Version sorts before every parsed version.
func (v Version) Compare(o Version) int {
	switch {
	case v.IsZero() && o.IsZero():
		return 0
	case v.IsZero():
		return -1
	case o.IsZero():
		return 1
	}
	return sign(v.key.Compare(o.key))
}

// comparePublic compares v and o ignoring local labels.
func (v Version) comparePublic(o Version) int {
	if v.IsZero() || o.IsZero() {
		return v.Compare(o)
	}
	return sign(v.public.Compare(o.public))
}

// sameBase reports whether v and o share epoch and release segments.
func (v Version) sameBase(o Version) bool {
	return v.epoch == o.epoch && compareRelease(v.release, o.release) == 0
}

// Equal reports whether v and o denote the same version.
func (v Version) Equal(o Version) bool {
	return v.Compare(o) == 0
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.raw), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func compareRelease(a, b []int) int {
	n := max(len(a), len(b))
	for i := range n {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

// floor returns the lowest version carrying the given release prefix
// (its ".dev0" release).
func floor(epoch int, release []int) Version {
	raw := joinRelease(release) + ".dev0"
	if epoch != 0 {
		raw = strconv.Itoa(epoch) + "!" + raw
	}
	return MustParse(raw)
}

// bump increments the last segment of a release prefix.
func bump(release []int) []int {
	out := append([]int(nil), release...)
	if len(out) > 0 {
		out[len(out)-1]++
	}
	return out
}

func hasPrefix(v Version, epoch int, prefix []int) bool {
	if v.epoch != epoch {
		return false
	}
	for i, seg := range prefix {
		if v.Segment(i) != seg {
			return false
		}
	}
	return true
}

func joinRelease(release []int) string {
	parts := make([]string, len(release))
	for i, seg := range release {
		parts[i] = strconv.Itoa(seg)
	}
	return strings.Join(parts, ".")
}
