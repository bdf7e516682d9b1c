// Package req defines the Requirement value type, source kinds and the
// merge operation that folds two requirements on one package name into a
// single requirement.
package req

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jward/pinset/internal/marker"
	"github.com/jward/pinset/internal/version"
)

// SourceKind identifies where a requirement is satisfied from.
type SourceKind int

const (
	SourceIndex SourceKind = iota
	SourceEditable
	SourceVCS
)

func (k SourceKind) String() string {
	switch k {
	case SourceEditable:
		return "editable"
	case SourceVCS:
		return "vcs"
	default:
		return "index"
	}
}

// Source is the origin of a requirement. The zero Source is the package
// index.
type Source struct {
	Kind SourceKind
	// Path is the local directory of an editable source.
	Path string
	// URL and Ref locate a VCS source; Ref may be empty.
	URL string
	Ref string
	// Editable marks a VCS source installed in editable mode.
	Editable bool
	raw      string
}

// EditableSource returns a local editable source for path.
func EditableSource(path string) Source {
	return Source{Kind: SourceEditable, Path: path, Editable: true, raw: path}
}

// VCSSource returns a VCS source. raw is the locator as written and may be
// empty, in which case it is rebuilt from url and ref.
func VCSSource(url, ref string, editable bool) Source {
	s := Source{Kind: SourceVCS, URL: url, Ref: ref, Editable: editable}
	s.raw = s.canonical()
	return s
}

func (s Source) canonical() string {
	switch s.Kind {
	case SourceEditable:
		return s.Path
	case SourceVCS:
		if s.Ref == "" {
			return s.URL
		}
		return s.URL + "@" + s.Ref
	}
	return ""
}

// IsIndex reports whether s is the package index.
func (s Source) IsIndex() bool {
	return s.Kind == SourceIndex
}

// Identity returns the canonical identity of a non-index source: the path
// of an editable directory, or URL@Ref of a VCS source. Fragments such as
// "#egg=" are not part of it.
func (s Source) Identity() string {
	return s.canonical()
}

// Locator returns the source as it was written, for display.
func (s Source) Locator() string {
	if s.raw != "" {
		return s.raw
	}
	return s.canonical()
}

var commitPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Mutable reports whether the content behind s can change without its
// locator changing: editable sources, and VCS refs other than full commit
// hashes.
func (s Source) Mutable() bool {
	switch s.Kind {
	case SourceEditable:
		return true
	case SourceVCS:
		return s.Editable || !commitPattern.MatchString(strings.ToLower(s.Ref))
	}
	return false
}

// Requirement is a named package constraint plus extras, marker and
// source. Requirements are values; operations return new ones.
type Requirement struct {
	Name       string
	Constraint version.Constraint
	Extras     []string
	Marker     *marker.Marker
	Source     Source
}

var separatorRun = regexp.MustCompile(`[-_.]+`)

// NormalizeName lower-cases name and collapses runs of "-", "_" and "."
// into a single "-".
func NormalizeName(name string) string {
	return separatorRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// New returns a requirement for name with the given constraint.
func New(name string, c version.Constraint) Requirement {
	return Requirement{Name: NormalizeName(name), Constraint: c}
}

// String renders r in requirement-line form.
func (r Requirement) String() string {
	var b strings.Builder
	switch {
	case r.Source.Kind != SourceIndex && r.Source.Editable:
		b.WriteString("-e ")
		b.WriteString(r.Source.Locator())
	case r.Source.Kind == SourceVCS:
		b.WriteString(r.Name)
		b.WriteString(" @ ")
		b.WriteString(r.Source.Locator())
	default:
		b.WriteString(r.Name)
		if len(r.Extras) > 0 {
			b.WriteString("[" + strings.Join(r.Extras, ",") + "]")
		}
		b.WriteString(r.Constraint.String())
	}
	if r.Marker != nil {
		b.WriteString("; ")
		b.WriteString(r.Marker.String())
	}
	return b.String()
}

// Equal reports whether a and b carry the same name, constraint, extras,
// marker and source.
func (r Requirement) Equal(o Requirement) bool {
	return r.Name == o.Name &&
		r.Constraint.Equal(o.Constraint) &&
		strings.Join(r.Extras, ",") == strings.Join(o.Extras, ",") &&
		r.Marker.Equal(o.Marker) &&
		r.Source.Kind == o.Source.Kind &&
		r.Source.Identity() == o.Source.Identity()
}

// WithExtras returns r with extras normalized, sorted and de-duplicated.
func (r Requirement) WithExtras(extras ...string) Requirement {
	r.Extras = unionExtras(nil, extras)
	return r
}

// ConflictError reports two requirements on one name that cannot both
// hold.
type ConflictError struct {
	Name       string
	Constraint version.Constraint
	// Sources is set when the conflict is between two distinct non-index
	// sources.
	Sources []string
}

func (e *ConflictError) Error() string {
	if len(e.Sources) > 0 {
		return fmt.Sprintf("conflicting sources for %s: %s", e.Name, strings.Join(e.Sources, ", "))
	}
	return fmt.Sprintf("no version of %s satisfies %s", e.Name, e.Constraint)
}

// Merge conjoins two requirements on the same name. Constraints intersect,
// extras union and markers form a disjunction. A non-index source wins over
// the index. Merge is associative and commutative and fails only when the
// conjoined constraint is provably empty or two different non-index
// sources meet.
func Merge(a, b Requirement) (Requirement, error) {
	if a.Name != b.Name {
		return Requirement{}, fmt.Errorf("req: merge %s with %s: names differ", a.Name, b.Name)
	}
	out := Requirement{
		Name:       a.Name,
		Constraint: a.Constraint.Intersect(b.Constraint),
		Extras:     unionExtras(a.Extras, b.Extras),
		Marker:     marker.Or(a.Marker, b.Marker),
	}

	switch {
	case a.Source.IsIndex():
		out.Source = b.Source
	case b.Source.IsIndex():
		out.Source = a.Source
	case a.Source.Kind != b.Source.Kind || a.Source.Identity() != b.Source.Identity():
		sources := []string{a.Source.Locator(), b.Source.Locator()}
		sort.Strings(sources)
		return Requirement{}, &ConflictError{Name: a.Name, Constraint: out.Constraint, Sources: sources}
	default:
		out.Source = a.Source
		out.Source.Editable = a.Source.Editable || b.Source.Editable
	}

	if out.Constraint.Empty() {
		return Requirement{}, &ConflictError{Name: a.Name, Constraint: out.Constraint}
	}
	return out, nil
}

func unionExtras(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, e := range list {
			e = NormalizeName(e)
			if e == "" || seen[e] {
				continue
			}
			seen[e] = true
			out = append(out, e)
		}
	}
	sort.Strings(out)
	return out
}
