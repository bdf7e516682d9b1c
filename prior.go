package pinset

import (
	"github.com/jward/pinset/internal/index"
	"github.com/jward/pinset/internal/req"
	"github.com/jward/pinset/internal/reqfile"
)

// Roots turns requirement lines into root requirements reported under
// label.
func Roots(label string, lines []reqfile.Line) []Root {
	roots := make([]Root, len(lines))
	for i, l := range lines {
		roots[i] = Root{Requirement: l.Requirement, Label: label}
	}
	return roots
}

// PriorPins extracts the exactly pinned index requirements of a previous
// output file. Editable and VCS lines are skipped; they are always
// resolved afresh.
func PriorPins(lines []reqfile.Line) map[string]Candidate {
	pins := make(map[string]Candidate, len(lines))
	for _, l := range lines {
		r := l.Requirement
		if r.Name == "" || !r.Source.IsIndex() {
			continue
		}
		v, ok := r.Constraint.PinnedVersion()
		if !ok {
			continue
		}
		pins[r.Name] = index.Candidate{Name: r.Name, Version: v}
	}
	return pins
}

// WithoutPins returns pins minus the named packages.
func WithoutPins(pins map[string]Candidate, names ...string) map[string]Candidate {
	out := make(map[string]Candidate, len(pins))
	for n, c := range pins {
		out[n] = c
	}
	for _, n := range names {
		delete(out, req.NormalizeName(n))
	}
	return out
}

func normalize(name string) string {
	return req.NormalizeName(name)
}
