// Package hashes attaches content digests to resolved candidates.
package hashes

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/go-logr/logr"
	digest "github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/jward/pinset/internal/index"
)

// Verifier fetches and validates the digests of resolved candidates.
type Verifier struct {
	idx     index.Index
	workers int
	log     logr.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithWorkers bounds the number of concurrent HashesOf calls.
func WithWorkers(n int) Option {
	return func(v *Verifier) { v.workers = n }
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(v *Verifier) { v.log = l }
}

// New returns a Verifier reading digests from idx.
func New(idx index.Index, opts ...Option) *Verifier {
	v := &Verifier{idx: idx, workers: runtime.NumCPU()}
	for _, o := range opts {
		o(v)
	}
	if v.workers < 1 {
		v.workers = 1
	}
	if v.log.GetSink() == nil {
		v.log = logr.Discard()
	}
	return v
}

// Attach returns the sorted, de-duplicated digests of every candidate in
// cands keyed by name. Editable and other non-index candidates are
// skipped; they have no archive to verify.
func (v *Verifier) Attach(ctx context.Context, cands map[string]index.Candidate) (map[string][]digest.Digest, error) {
	names := make([]string, 0, len(cands))
	for name, c := range cands {
		if !c.Source.IsIndex() {
			v.log.V(1).Info("skipping hashes for non-index candidate", "name", name)
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([][]digest.Digest, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i, name := range names {
		g.Go(func() error {
			c := cands[name]
			ds, err := v.idx.HashesOf(gctx, c)
			if err != nil {
				return fmt.Errorf("hashes of %s: %w", c.Label(), err)
			}
			clean, err := normalize(ds)
			if err != nil {
				return fmt.Errorf("hashes of %s: %w", c.Label(), err)
			}
			results[i] = clean
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]digest.Digest, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out, nil
}

// normalize validates ds and returns them sorted without duplicates.
func normalize(ds []digest.Digest) ([]digest.Digest, error) {
	seen := make(map[digest.Digest]bool, len(ds))
	out := make([]digest.Digest, 0, len(ds))
	for _, d := range ds {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("invalid digest %q: %w", d, err)
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
