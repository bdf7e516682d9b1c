// Package index defines the Candidate Index contract consumed by the
// resolver, the shared candidate-selection policy, and an in-memory
// catalogue adapter that can be loaded from YAML.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	digest "github.com/opencontainers/go-digest"

	"github.com/jward/pinset/internal/req"
	"github.com/jward/pinset/internal/version"
)

// Index resolves merged requirements to candidates. Candidate identity is
// returned eagerly by FindBest; dependencies and digests are fetched by
// separate calls so they can be memoized per candidate.
type Index interface {
	// FindBest returns the best candidate for r. When prior is non-nil,
	// still satisfies r and upgrade is false, prior is returned unchanged.
	FindBest(ctx context.Context, r req.Requirement, upgrade bool, prior *Candidate) (Candidate, error)
	// DependenciesOf returns the declared dependencies of c.
	DependenciesOf(ctx context.Context, c Candidate) ([]req.Requirement, error)
	// HashesOf returns one digest per distributable artifact of c.
	HashesOf(ctx context.Context, c Candidate) ([]digest.Digest, error)
}

// Identifier is implemented by indexes that can name the content they
// serve. Persisted lookups are only reused under the same identity.
type Identifier interface {
	Identity() string
}

// IdentityOf returns the identity of idx, or "" when it has none.
func IdentityOf(idx Index) string {
	if id, ok := idx.(Identifier); ok {
		return id.Identity()
	}
	return ""
}

// ErrNoCandidates matches both NoStableCandidatesError and
// NoCandidatesAtAllError with errors.Is.
var ErrNoCandidates = errors.New("no matching candidates")

// NoStableCandidatesError reports that no stable release satisfies the
// requirement while pre-releases existed but were excluded by policy.
type NoStableCandidatesError struct {
	Requirement req.Requirement
	Tried       []version.Version
	Skipped     []version.Version
}

func (e *NoStableCandidatesError) Error() string {
	return candidateMessage(e.Requirement, e.Tried, "Skipped", e.Skipped)
}

func (e *NoStableCandidatesError) Is(target error) bool {
	return target == ErrNoCandidates
}

// NoCandidatesAtAllError reports that no release satisfies the requirement
// even with pre-releases considered.
type NoCandidatesAtAllError struct {
	Requirement req.Requirement
	Tried       []version.Version
	// TriedPre is set when pre-releases were considered.
	TriedPre []version.Version
}

func (e *NoCandidatesAtAllError) Error() string {
	return candidateMessage(e.Requirement, e.Tried, "Tried", e.TriedPre)
}

func (e *NoCandidatesAtAllError) Is(target error) bool {
	return target == ErrNoCandidates
}

func candidateMessage(r req.Requirement, tried []version.Version, verb string, pre []version.Version) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Could not find a version that matches %s", r)
	if len(tried) > 0 {
		fmt.Fprintf(&b, "\nTried: %s", joinVersions(tried))
	}
	if len(pre) > 0 {
		fmt.Fprintf(&b, "\n%s pre-versions: %s", verb, joinVersions(pre))
	}
	return b.String()
}

func joinVersions(vs []version.Version) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

// SourceResolutionError reports an editable or VCS source that could not
// be built or inspected.
type SourceResolutionError struct {
	Locator string
	Err     error
}

func (e *SourceResolutionError) Error() string {
	return fmt.Sprintf("could not resolve source %s: %v", e.Locator, e.Err)
}

func (e *SourceResolutionError) Unwrap() error {
	return e.Err
}
