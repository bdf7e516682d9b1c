package index

import (
	"sort"

	"github.com/jward/pinset/internal/req"
	"github.com/jward/pinset/internal/version"
)

// Policy selects a release among the available versions of a package.
type Policy struct {
	AllowPrereleases bool
}

// KeepPrior reports whether prior should be returned unchanged for r.
func KeepPrior(r req.Requirement, upgrade bool, prior *Candidate) bool {
	return prior != nil && !upgrade && prior.Satisfies(r)
}

// Best returns the highest version in available that satisfies r. Pre-releases
// are only considered when the policy allows them or when r explicitly
// names a pre-release with an inclusive operator.
func (p Policy) Best(r req.Requirement, available []version.Version) (version.Version, error) {
	sorted := append([]version.Version(nil), available...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	allowPre := p.AllowPrereleases || impliesPrereleases(r.Constraint)
	var best version.Version
	var tried, pre []version.Version
	for _, v := range sorted {
		if v.IsPrerelease() {
			pre = append(pre, v)
			if !allowPre {
				continue
			}
		} else {
			tried = append(tried, v)
		}
		if r.Constraint.Check(v) {
			best = v
		}
	}
	if !best.IsZero() {
		return best, nil
	}
	if !allowPre && len(pre) > 0 {
		return version.Version{}, &NoStableCandidatesError{Requirement: r, Tried: tried, Skipped: pre}
	}
	return version.Version{}, &NoCandidatesAtAllError{Requirement: r, Tried: tried, TriedPre: pre}
}

func impliesPrereleases(c version.Constraint) bool {
	for _, cl := range c.Clauses() {
		switch cl.Op {
		case version.OpEqual, version.OpGreaterEqual, version.OpLessEqual, version.OpCompatible, version.OpArbitrary:
			if !cl.Version.IsZero() && cl.Version.IsPrerelease() {
				return true
			}
		}
	}
	return false
}
