package index

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"

	"github.com/jward/pinset/internal/req"
	"github.com/jward/pinset/internal/version"
)

// catalogDoc is the YAML catalogue format:
//
//	packages:
//	  six:
//	    - version: "1.10.0"
//	      artifact: six-1.10.0-py2.py3-none-any.whl
//	      requires: []
//	  pytz:
//	    - version: "2017.2"
//	      hashes: ["sha256:…"]
//	sources:
//	  ./small_fake_package:
//	    name: small-fake-a
//	    version: "0.1"
//	    requires: ["six"]
type catalogDoc struct {
	Packages map[string][]releaseDoc `yaml:"packages"`
	Sources  map[string]sourceDoc    `yaml:"sources"`
}

type releaseDoc struct {
	Version  string   `yaml:"version"`
	Artifact string   `yaml:"artifact"`
	Requires []string `yaml:"requires"`
	Hashes   []string `yaml:"hashes"`
	Files    []string `yaml:"files"`
}

// LoadFile reads a YAML catalogue. Release files and editable sources are
// resolved relative to the catalogue's directory unless opts override it.
func LoadFile(path string, opts ...MemoryOption) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	defer f.Close()
	dir := filepath.Dir(path)
	base := []MemoryOption{WithFilesRoot(dir)}
	m, err := decode(f, dir, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("index: %s: %w", path, err)
	}
	return m, nil
}

// Decode reads a YAML catalogue from r.
func Decode(r io.Reader, opts ...MemoryOption) (*Memory, error) {
	m, err := decode(r, "", opts...)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	return m, nil
}

func decode(r io.Reader, dir string, opts ...MemoryOption) (*Memory, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	var doc catalogDoc
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}

	m := NewMemory(opts...)
	for name, releases := range doc.Packages {
		for _, rd := range releases {
			rel, err := rd.release()
			if err != nil {
				return nil, fmt.Errorf("package %s: %w", name, err)
			}
			m.Add(name, rel)
		}
	}

	var builders Builders
	if len(doc.Sources) > 0 {
		sources := make(MapBuilder, len(doc.Sources))
		for locator, sd := range doc.Sources {
			meta, err := sd.metadata()
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", locator, err)
			}
			sources[locator] = meta
		}
		builders = append(builders, sources)
	}
	if m.builder != nil {
		builders = append(builders, m.builder)
	} else {
		builders = append(builders, DirBuilder{Root: dir})
	}
	m.builder = builders
	m.identity = documentIdentity(data, m.policy.AllowPrereleases)
	return m, nil
}

func (d releaseDoc) release() (Release, error) {
	v, err := version.Parse(d.Version)
	if err != nil {
		return Release{}, err
	}
	rel := Release{Version: v, Artifact: d.Artifact, Files: d.Files}
	for _, line := range d.Requires {
		r, err := req.Parse(line)
		if err != nil {
			return Release{}, fmt.Errorf("version %s: %w", d.Version, err)
		}
		rel.Requires = append(rel.Requires, r)
	}
	for _, h := range d.Hashes {
		dg, err := digest.Parse(h)
		if err != nil {
			return Release{}, fmt.Errorf("version %s: hash %q: %w", d.Version, h, err)
		}
		rel.Hashes = append(rel.Hashes, dg)
	}
	return rel, nil
}

// documentIdentity digests the catalogue bytes together with the
// pre-release policy the index was loaded under.
func documentIdentity(data []byte, prereleases bool) digest.Digest {
	d := digest.Canonical.Digester()
	fmt.Fprintf(d.Hash(), "pre:%t\n", prereleases)
	d.Hash().Write(data)
	return d.Digest()
}
