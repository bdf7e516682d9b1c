package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jward/pinset/internal/req"
	"github.com/jward/pinset/internal/version"
)

// Metadata is what a build backend reports for a non-index source.
type Metadata struct {
	Name     string
	Version  version.Version
	Requires []req.Requirement
}

// Builder inspects editable and VCS sources.
type Builder interface {
	Build(ctx context.Context, src req.Source) (Metadata, error)
}

// ErrUnsupportedSource is returned by builders for source kinds they do
// not handle.
var ErrUnsupportedSource = errors.New("unsupported source")

// sourceDoc is the YAML shape of source metadata, shared by DirBuilder's
// package.yaml and the catalogue's sources section.
type sourceDoc struct {
	Name     string   `yaml:"name"`
	Version  string   `yaml:"version"`
	Requires []string `yaml:"requires"`
}

func (d sourceDoc) metadata() (Metadata, error) {
	if d.Name == "" {
		return Metadata{}, errors.New("missing name")
	}
	m := Metadata{Name: req.NormalizeName(d.Name)}
	if d.Version != "" {
		v, err := version.Parse(d.Version)
		if err != nil {
			return Metadata{}, err
		}
		m.Version = v
	}
	for _, line := range d.Requires {
		r, err := req.Parse(line)
		if err != nil {
			return Metadata{}, err
		}
		m.Requires = append(m.Requires, r)
	}
	return m, nil
}

// DirBuilder builds editable local directories by reading the
// package.yaml file at their root. Relative paths are resolved against
// Root.
type DirBuilder struct {
	Root string
}

// MetadataFile is the file DirBuilder reads from an editable directory.
const MetadataFile = "package.yaml"

func (b DirBuilder) Build(ctx context.Context, src req.Source) (Metadata, error) {
	if src.Kind != req.SourceEditable {
		return Metadata{}, ErrUnsupportedSource
	}
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	dir := src.Path
	if !filepath.IsAbs(dir) && b.Root != "" {
		dir = filepath.Join(b.Root, dir)
	}
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		return Metadata{}, err
	}
	var doc sourceDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Metadata{}, fmt.Errorf("decode %s: %w", MetadataFile, err)
	}
	return doc.metadata()
}

// MapBuilder serves metadata from a fixed map keyed by source identity
// (or by the locator as written).
type MapBuilder map[string]Metadata

func (b MapBuilder) Build(_ context.Context, src req.Source) (Metadata, error) {
	m, ok := b[src.Identity()]
	if !ok {
		m, ok = b[src.Locator()]
	}
	if !ok {
		return Metadata{}, fmt.Errorf("%w: no metadata for %s", ErrUnsupportedSource, src.Locator())
	}
	return m, nil
}

// Builders tries each builder in turn, skipping those that report
// ErrUnsupportedSource.
type Builders []Builder

func (bs Builders) Build(ctx context.Context, src req.Source) (Metadata, error) {
	for _, b := range bs {
		m, err := b.Build(ctx, src)
		if errors.Is(err, ErrUnsupportedSource) {
			continue
		}
		return m, err
	}
	return Metadata{}, ErrUnsupportedSource
}
