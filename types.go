package pinset

import (
	digest "github.com/opencontainers/go-digest"

	"github.com/jward/pinset/internal/index"
	"github.com/jward/pinset/internal/req"
	"github.com/jward/pinset/internal/resolver"
	"github.com/jward/pinset/internal/version"
)

// Public type aliases for the internal types used in the Engine API.

type Requirement = req.Requirement
type Candidate = index.Candidate
type Index = index.Index
type Root = resolver.Root
type Edge = resolver.Edge
type Version = version.Version

// Pin is one resolved package.
type Pin struct {
	Name    string
	Version Version
	// Locator is set for editable and VCS pins.
	Locator  string
	Editable bool
	// Candidate is the index candidate the pin was resolved to.
	Candidate Candidate
	// Requirement is the merged requirement the pin satisfies.
	Requirement Requirement
	// Hashes is empty unless hashes were requested.
	Hashes []digest.Digest
	// Requirers are the sorted labels of everything that required the pin.
	Requirers []string
	// Root is true when a top-level requirement names the pin.
	Root bool
}

// Result is a converged compile.
type Result struct {
	// Pins are ordered by name.
	Pins   []Pin
	Edges  []Edge
	Rounds int
}
