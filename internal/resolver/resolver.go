// Package resolver implements the fixed-point dependency resolver. It
// drives candidate lookups through an index, merges the requirements that
// each pinned candidate declares, and repeats until every requirement is
// satisfied by a pin (Converged) or two requirements exclude each other
// (Conflicted). Resolution is forward-only: no alternative candidates are
// searched after a conflict.
package resolver

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"github.com/jward/pinset/internal/index"
	"github.com/jward/pinset/internal/marker"
	"github.com/jward/pinset/internal/req"
	"github.com/jward/pinset/internal/version"
)

// DefaultMaxRounds bounds the number of expansion rounds.
const DefaultMaxRounds = 100

// ForcedLabel is the requirer label of exact constraints added for
// upgrade-only packages with a forced version.
const ForcedLabel = "--upgrade-package"

// Root is a top-level requirement and the label it is reported under,
// such as "-r requirements.in".
type Root struct {
	Requirement req.Requirement
	Label       string
}

// Edge records that Parent declared a requirement on Child.
type Edge struct {
	Child string
	// Parent is the root label or the label of the requiring candidate.
	Parent string
	// Requirer is the root label or the requiring package name.
	Requirer    string
	Requirement req.Requirement
	Root        bool
}

// Result is a converged resolution.
type Result struct {
	// Pins maps every included package name to its candidate.
	Pins map[string]index.Candidate
	// Requirements holds the merged requirement of every pinned name.
	Requirements map[string]req.Requirement
	// Edges lists the active requirement edges into pinned packages, sorted
	// by child then discovery order.
	Edges  []Edge
	Rounds int
}

// Names returns the pinned package names in sorted order.
func (r *Result) Names() []string {
	names := make([]string, 0, len(r.Pins))
	for n := range r.Pins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolver resolves root requirements against an index.
type Resolver struct {
	idx           index.Index
	upgradeAll    bool
	upgradeOnly   map[string]*version.Version
	prior         map[string]index.Candidate
	env           marker.Environment
	workers       int
	maxRounds     int
	lookupTimeout time.Duration
	log           logr.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithUpgradeAll allows every package to move off its prior pin.
func WithUpgradeAll(upgrade bool) Option {
	return func(r *Resolver) { r.upgradeAll = upgrade }
}

// WithUpgradeOnly allows only the named packages to move off their prior
// pins. A non-nil version is added as an exact constraint.
func WithUpgradeOnly(names map[string]*version.Version) Option {
	return func(r *Resolver) {
		r.upgradeOnly = make(map[string]*version.Version, len(names))
		for n, v := range names {
			r.upgradeOnly[req.NormalizeName(n)] = v
		}
	}
}

// WithPrior sets the prior pins used to minimise churn.
func WithPrior(pins map[string]index.Candidate) Option {
	return func(r *Resolver) {
		r.prior = make(map[string]index.Candidate, len(pins))
		for n, c := range pins {
			r.prior[req.NormalizeName(n)] = c
		}
	}
}

// WithEnvironment sets the marker environment.
func WithEnvironment(env marker.Environment) Option {
	return func(r *Resolver) { r.env = env }
}

// WithWorkers bounds the number of concurrent index lookups.
func WithWorkers(n int) Option {
	return func(r *Resolver) { r.workers = n }
}

// WithMaxRounds bounds the number of expansion rounds.
func WithMaxRounds(n int) Option {
	return func(r *Resolver) { r.maxRounds = n }
}

// WithLookupTimeout bounds every individual index call. Zero means no
// deadline.
func WithLookupTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.lookupTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// New returns a Resolver over idx.
func New(idx index.Index, opts ...Option) *Resolver {
	r := &Resolver{
		idx:       idx,
		workers:   runtime.NumCPU(),
		maxRounds: DefaultMaxRounds,
	}
	for _, o := range opts {
		o(r)
	}
	if r.env == nil {
		r.env = marker.DefaultEnvironment()
	}
	if r.workers < 1 {
		r.workers = 1
	}
	if r.maxRounds < 1 {
		r.maxRounds = DefaultMaxRounds
	}
	if r.log.GetSink() == nil {
		r.log = logr.Discard()
	}
	return r
}

func (r *Resolver) upgradeAllowed(name string) bool {
	if r.upgradeAll {
		return true
	}
	_, ok := r.upgradeOnly[name]
	return ok
}

// Resolve runs Seed and Expand until the state converges. On conflict or
// index failure it returns an error and no partial result.
func (r *Resolver) Resolve(ctx context.Context, roots []Root) (*Result, error) {
	s := newState(r.env)
	if err := r.seed(ctx, s, roots); err != nil {
		return nil, err
	}

	rounds := 0
	for len(s.pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resolve: %w", err)
		}
		rounds++
		if rounds > r.maxRounds {
			return nil, fmt.Errorf("resolve: %d rounds: %w", r.maxRounds, ErrNoStableResolution)
		}
		if err := r.expand(ctx, s, rounds); err != nil {
			return nil, err
		}
	}
	r.log.V(1).Info("resolution converged", "rounds", rounds, "pins", len(s.pinned))
	return s.result(rounds), nil
}

// seed loads the roots into the state. Editable roots without a name are
// identified with one index lookup first.
func (r *Resolver) seed(ctx context.Context, s *state, roots []Root) error {
	for _, u := range r.sortedUpgradeOnly() {
		if v := r.upgradeOnly[u]; v != nil {
			s.forced[u] = req.New(u, version.Exact(*v))
		}
	}

	for _, root := range roots {
		rq := root.Requirement
		if rq.Name == "" {
			cand, err := timed(ctx, r.lookupTimeout, func(ctx context.Context) (index.Candidate, error) {
				return r.idx.FindBest(ctx, rq, false, nil)
			})
			if err != nil {
				return &LookupError{
					Name:        rq.Source.Locator(),
					Requirement: rq,
					Chain:       []Hop{{Requirer: root.Label, Requirement: rq}},
					Err:         err,
				}
			}
			rq.Name = cand.Name
			s.pinned[cand.Name] = cand
		}
		s.addContribution(&contribution{
			child:       rq.Name,
			parentKey:   rootKey,
			parentLabel: root.Label,
			requirer:    root.Label,
			req:         rq,
			active:      rq.Marker.EvaluateExtras(s.env, nil),
		})
	}

	for _, name := range s.childNames() {
		if err := s.remerge(name); err != nil {
			return err
		}
	}
	s.refreshPending()
	return nil
}

func (r *Resolver) sortedUpgradeOnly() []string {
	names := make([]string, 0, len(r.upgradeOnly))
	for n := range r.upgradeOnly {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// timed runs fn under a per-call deadline. Zero d means no deadline.
func timed[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}
