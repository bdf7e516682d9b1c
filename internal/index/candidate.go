package index

import (
	"github.com/jward/pinset/internal/req"
	"github.com/jward/pinset/internal/version"
)

// Candidate is one concrete resolvable release of a package. Candidates are
// immutable once produced; two candidates are identical iff name, version
// and artifact match.
type Candidate struct {
	Name    string
	Version version.Version
	// Artifact identifies the distribution (file name, URL or locator).
	Artifact string
	Source   req.Source
}

// Key returns the identity string of c, used for memoization.
func (c Candidate) Key() string {
	if !c.Source.IsIndex() {
		return c.Name + " @ " + c.Source.Identity()
	}
	k := c.Name + "==" + c.Version.String()
	if c.Artifact != "" {
		k += "#" + c.Artifact
	}
	return k
}

// Label is the requirer identity shown in edges and conflict chains.
func (c Candidate) Label() string {
	if !c.Source.IsIndex() {
		if c.Name == "" {
			return c.Source.Locator()
		}
		return c.Name + " @ " + c.Source.Locator()
	}
	return c.Name + "==" + c.Version.String()
}

// Identical reports whether c and o denote the same release.
func (c Candidate) Identical(o Candidate) bool {
	return c.Name == o.Name && c.Version.Equal(o.Version) && c.Artifact == o.Artifact &&
		c.Source.Identity() == o.Source.Identity()
}

// Editable reports whether c comes from a source that cannot be hash pinned.
func (c Candidate) Editable() bool {
	return !c.Source.IsIndex() && c.Source.Editable
}

// Satisfies reports whether c meets r. A candidate from a non-index source
// satisfies any constraint on a requirement pointing at the same source.
func (c Candidate) Satisfies(r req.Requirement) bool {
	if r.Name != "" && c.Name != r.Name {
		return false
	}
	if !r.Source.IsIndex() || !c.Source.IsIndex() {
		return c.Source.Kind == r.Source.Kind && c.Source.Identity() == r.Source.Identity()
	}
	if c.Version.IsZero() {
		return false
	}
	return r.Constraint.Check(c.Version)
}
