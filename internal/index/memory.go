package index

import (
	"context"
	_ "crypto/sha256"
	"strings"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	digest "github.com/opencontainers/go-digest"

	"github.com/jward/pinset/internal/req"
	"github.com/jward/pinset/internal/version"
)

// Release is one published version of a package in a Memory index.
type Release struct {
	Version  version.Version
	Artifact string
	Requires []req.Requirement
	// Hashes are served as-is when set; otherwise digests are computed
	// from Files.
	Hashes []digest.Digest
	// Files are artifact paths, relative to the files root.
	Files []string
}

// Memory is an in-memory catalogue implementing Index. It is safe for
// concurrent use.
type Memory struct {
	mu        sync.RWMutex
	policy    Policy
	releases  map[string][]Release
	builder   Builder
	filesRoot string
	// identity is the digest of the catalogue document when the index was
	// decoded from one.
	identity digest.Digest
}

var _ Index = (*Memory)(nil)

// MemoryOption configures a Memory index.
type MemoryOption func(*Memory)

// WithPrereleases allows pre-release versions to be selected.
func WithPrereleases(allow bool) MemoryOption {
	return func(m *Memory) { m.policy.AllowPrereleases = allow }
}

// WithBuilder sets the backend used for editable and VCS sources.
func WithBuilder(b Builder) MemoryOption {
	return func(m *Memory) { m.builder = b }
}

// WithFilesRoot sets the directory release Files are resolved against.
func WithFilesRoot(dir string) MemoryOption {
	return func(m *Memory) { m.filesRoot = dir }
}

// NewMemory returns an empty catalogue.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{releases: make(map[string][]Release)}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Add registers a release of name, replacing any release with the same
// version.
func (m *Memory) Add(name string, rel Release) {
	name = req.NormalizeName(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = ""
	list := m.releases[name]
	for i := range list {
		if list[i].Version.Equal(rel.Version) {
			list[i] = rel
			return
		}
	}
	m.releases[name] = append(list, rel)
}

// MustAdd registers name==ver with the given requirement lines. It panics on
// malformed input and is meant for fixtures.
func (m *Memory) MustAdd(name, ver string, requires ...string) *Memory {
	rel := Release{Version: version.MustParse(ver)}
	rel.Artifact = fmt.Sprintf("%s-%s.tar.gz", req.NormalizeName(name), ver)
	for _, line := range requires {
		rel.Requires = append(rel.Requires, req.MustParse(line))
	}
	m.Add(name, rel)
	return m
}

// Identity returns a digest naming the catalogue content: the digest of the
// decoded document, or a canonical digest over the registered releases.
func (m *Memory) Identity() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity != "" {
		return m.identity.String()
	}

	d := digest.Canonical.Digester()
	h := d.Hash()
	fmt.Fprintf(h, "pre:%t\n", m.policy.AllowPrereleases)
	names := make([]string, 0, len(m.releases))
	for name := range m.releases {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		list := append([]Release(nil), m.releases[name]...)
		sort.Slice(list, func(i, j int) bool { return list[i].Version.Less(list[j].Version) })
		for _, rel := range list {
			requires := make([]string, len(rel.Requires))
			for i, r := range rel.Requires {
				requires[i] = r.String()
			}
			hashes := make([]string, len(rel.Hashes))
			for i, dg := range rel.Hashes {
				hashes[i] = dg.String()
			}
			fmt.Fprintf(h, "%s==%s#%s requires=%s hashes=%s files=%s\n", name, rel.Version, rel.Artifact,
				strings.Join(requires, ";"), strings.Join(hashes, ","), strings.Join(rel.Files, ","))
		}
	}
	return d.Digest().String()
}

// Versions returns the known versions of name in ascending order.
func (m *Memory) Versions(name string) []version.Version {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.releases[req.NormalizeName(name)]
	out := make([]version.Version, len(list))
	for i, r := range list {
		out[i] = r.Version
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (m *Memory) release(name string, v version.Version) (Release, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.releases[name] {
		if r.Version.Equal(v) {
			return r, true
		}
	}
	return Release{}, false
}

func (m *Memory) FindBest(ctx context.Context, r req.Requirement, upgrade bool, prior *Candidate) (Candidate, error) {
	if err := ctx.Err(); err != nil {
		return Candidate{}, err
	}
	if !r.Source.IsIndex() {
		meta, err := m.build(ctx, r)
		if err != nil {
			return Candidate{}, err
		}
		return Candidate{Name: meta.Name, Version: meta.Version, Artifact: r.Source.Identity(), Source: r.Source}, nil
	}
	if KeepPrior(r, upgrade, prior) {
		if rel, ok := m.release(r.Name, prior.Version); ok && prior.Artifact == "" {
			return Candidate{Name: prior.Name, Version: rel.Version, Artifact: rel.Artifact}, nil
		}
		return *prior, nil
	}
	best, err := m.policy.Best(r, m.Versions(r.Name))
	if err != nil {
		return Candidate{}, err
	}
	rel, _ := m.release(r.Name, best)
	return Candidate{Name: r.Name, Version: rel.Version, Artifact: rel.Artifact}, nil
}

func (m *Memory) DependenciesOf(ctx context.Context, c Candidate) ([]req.Requirement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Source.IsIndex() {
		meta, err := m.build(ctx, req.Requirement{Name: c.Name, Source: c.Source})
		if err != nil {
			return nil, err
		}
		return meta.Requires, nil
	}
	rel, ok := m.release(c.Name, c.Version)
	if !ok {
		return nil, fmt.Errorf("index: %s: unknown release", c.Label())
	}
	return append([]req.Requirement(nil), rel.Requires...), nil
}

func (m *Memory) HashesOf(ctx context.Context, c Candidate) ([]digest.Digest, error) {
	if !c.Source.IsIndex() {
		return nil, nil
	}
	rel, ok := m.release(c.Name, c.Version)
	if !ok {
		return nil, fmt.Errorf("index: %s: unknown release", c.Label())
	}
	if len(rel.Hashes) > 0 {
		return append([]digest.Digest(nil), rel.Hashes...), nil
	}
	out := make([]digest.Digest, 0, len(rel.Files))
	for _, name := range rel.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := m.digestFile(name)
		if err != nil {
			return nil, fmt.Errorf("index: %s: %w", c.Label(), err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *Memory) digestFile(name string) (digest.Digest, error) {
	path := name
	if !filepath.IsAbs(path) && m.filesRoot != "" {
		path = filepath.Join(m.filesRoot, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest.FromReader(f)
}

func (m *Memory) build(ctx context.Context, r req.Requirement) (Metadata, error) {
	locator := r.Source.Locator()
	if m.builder == nil {
		return Metadata{}, &SourceResolutionError{Locator: locator, Err: ErrUnsupportedSource}
	}
	meta, err := m.builder.Build(ctx, r.Source)
	if err != nil {
		return Metadata{}, &SourceResolutionError{Locator: locator, Err: err}
	}
	if r.Name != "" && meta.Name != r.Name {
		return Metadata{}, &SourceResolutionError{
			Locator: locator,
			Err:     fmt.Errorf("source provides %s, expected %s", meta.Name, r.Name),
		}
	}
	return meta, nil
}
