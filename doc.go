// Package pinset resolves top-level package requirements into a fully
// pinned, conflict-free and optionally hash-verified dependency closure,
// and re-resolves it deterministically as requirements change.
//
// # Pipeline
//
// A compile runs three steps over one cache handle:
//
//  1. Resolve: a fixed-point loop looks up the best candidate for every
//     merged requirement, reads the candidate's dependencies, merges them
//     into the requirement set and repeats until every requirement is met
//     by a pin or two requirements exclude each other.
//
//  2. Hashes: when enabled, the content digests of every non-editable pin
//     are fetched and validated.
//
//  3. Annotate: the requirers of every pin are collected for "# via"
//     comments.
//
// # Usage
//
// Create an Engine over a candidate index, compile, and inspect the pins:
//
//	idx, err := index.LoadFile("index.yaml")
//	if err != nil { ... }
//	e, err := pinset.New("cache.db", idx, pinset.WithHashes(true))
//	if err != nil { ... }
//	defer e.Close()
//
//	res, err := e.Compile(ctx, pinset.Roots("-r requirements.in", lines))
//	for _, p := range res.Pins {
//		fmt.Println(p.Name, p.Version, p.Requirers)
//	}
//
// # Stability
//
// Prior pins supplied with [WithPrior] are kept as long as they satisfy
// the merged requirement. [WithUpgradeAll] and [WithUpgradePackage] let
// packages move to the best available version, optionally forcing an
// exact one.
//
// # Caching
//
// Lookups and dependency lists are memoized for the length of a run and,
// for immutable sources, persisted in a SQLite file between runs. Editable
// and branch-tracking VCS sources are never persisted.
package pinset
