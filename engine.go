package pinset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/go-logr/logr"
	digest "github.com/opencontainers/go-digest"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jward/pinset/internal/annotate"
	"github.com/jward/pinset/internal/cache"
	"github.com/jward/pinset/internal/hashes"
	"github.com/jward/pinset/internal/index"
	"github.com/jward/pinset/internal/marker"
	"github.com/jward/pinset/internal/req"
	"github.com/jward/pinset/internal/resolver"
	"github.com/jward/pinset/internal/store"
	"github.com/jward/pinset/internal/version"
)

// Engine orchestrates a compile: cache setup, resolution, hash attachment,
// annotation and cache flush.
type Engine struct {
	store   *store.Store // nil means memory-only caching
	idx     index.Index
	log     logr.Logger
	metrics *cache.Metrics

	upgradeAll    bool
	upgradeOnly   map[string]*version.Version
	prior         map[string]index.Candidate
	env           marker.Environment
	hashes        bool
	prereleases   bool
	workers       int
	maxRounds     int
	lookupTimeout time.Duration
	cacheTTL      time.Duration
	registerer    prometheus.Registerer
}

// Option configures an Engine.
type Option func(*Engine)

// WithUpgradeAll lets every package move off its prior pin.
func WithUpgradeAll(upgrade bool) Option {
	return func(e *Engine) { e.upgradeAll = upgrade }
}

// WithUpgradePackage lets name move off its prior pin. A non-nil v forces
// that exact version whenever name is required.
func WithUpgradePackage(name string, v *Version) Option {
	return func(e *Engine) {
		if e.upgradeOnly == nil {
			e.upgradeOnly = make(map[string]*version.Version)
		}
		e.upgradeOnly[req.NormalizeName(name)] = v
	}
}

// WithPrior sets the prior pins, usually read from the previous output.
func WithPrior(pins map[string]Candidate) Option {
	return func(e *Engine) { e.prior = pins }
}

// WithEnvironment sets the marker environment. The default describes the
// running platform.
func WithEnvironment(env marker.Environment) Option {
	return func(e *Engine) { e.env = env }
}

// WithHashes enables digest attachment for every non-editable pin.
func WithHashes(enabled bool) Option {
	return func(e *Engine) { e.hashes = enabled }
}

// WithPrereleases records that the index admits pre-releases. It keys
// cached lookups so entries made under different policies never mix.
func WithPrereleases(allow bool) Option {
	return func(e *Engine) { e.prereleases = allow }
}

// WithWorkers bounds the number of concurrent index calls.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithMaxRounds bounds the number of resolution rounds.
func WithMaxRounds(n int) Option {
	return func(e *Engine) { e.maxRounds = n }
}

// WithLookupTimeout bounds every individual index call.
func WithLookupTimeout(d time.Duration) Option {
	return func(e *Engine) { e.lookupTimeout = d }
}

// WithCacheTTL sets the maximum age of persisted lookups.
func WithCacheTTL(d time.Duration) Option {
	return func(e *Engine) { e.cacheTTL = d }
}

// WithLogger sets the logger passed to every stage.
func WithLogger(l logr.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics registers the cache counters on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.registerer = reg }
}

// New creates an Engine resolving against idx. When cachePath is non-empty
// the resolution cache is persisted in a SQLite database at that path.
func New(cachePath string, idx Index, opts ...Option) (*Engine, error) {
	e := &Engine{
		idx:       idx,
		workers:   runtime.NumCPU(),
		maxRounds: resolver.DefaultMaxRounds,
		cacheTTL:  cache.DefaultTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log.GetSink() == nil {
		e.log = logr.Discard()
	}
	e.metrics = cache.NewMetrics(e.registerer)

	if cachePath == "" {
		return e, nil
	}
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return nil, fmt.Errorf("pinset: create cache dir: %w", err)
	}
	s, err := store.NewStore(cachePath)
	if err != nil {
		return nil, fmt.Errorf("pinset: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("pinset: migrate: %w", err)
	}
	e.store = s
	return e, nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// ClearCache removes every persisted cache entry.
func (e *Engine) ClearCache() error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Clear(); err != nil {
		return fmt.Errorf("pinset: clear cache: %w", err)
	}
	return nil
}

// Forget removes the persisted cache entries of the named packages.
func (e *Engine) Forget(names ...string) error {
	if e.store == nil {
		return nil
	}
	for _, name := range names {
		if err := e.store.DeleteName(req.NormalizeName(name)); err != nil {
			return fmt.Errorf("pinset: forget %s: %w", name, err)
		}
	}
	return nil
}

// Compile resolves roots and returns the pinned closure. Cache entries
// gathered during the run are flushed even when resolution fails.
func (e *Engine) Compile(ctx context.Context, roots []Root) (res *Result, err error) {
	start := time.Now()
	if e.store != nil {
		cleared, err := e.store.Bind(index.IdentityOf(e.idx))
		if err != nil {
			return nil, fmt.Errorf("pinset: bind cache: %w", err)
		}
		if cleared {
			e.log.V(1).Info("index changed, cleared resolution cache")
		}
	}
	c := e.newCache()
	defer func() {
		if ferr := c.Flush(); ferr != nil {
			if err == nil {
				err = fmt.Errorf("pinset: flush cache: %w", ferr)
				res = nil
			} else {
				e.log.Error(ferr, "flush cache after failed compile")
			}
		}
	}()

	resolved, err := resolver.New(c, e.resolverOptions()...).Resolve(ctx, roots)
	if err != nil {
		return nil, err
	}

	var digests map[string][]digest.Digest
	if e.hashes {
		digests, err = hashes.New(c, hashes.WithWorkers(e.workers), hashes.WithLogger(e.log)).Attach(ctx, resolved.Pins)
		if err != nil {
			return nil, fmt.Errorf("pinset: attach hashes: %w", err)
		}
	}

	tracker := annotate.New()
	rootNames := make(map[string]bool)
	for _, edge := range resolved.Edges {
		tracker.Add(edge.Child, edge.Requirer)
		if edge.Root {
			rootNames[edge.Child] = true
		}
	}

	res = &Result{Edges: resolved.Edges, Rounds: resolved.Rounds}
	for _, name := range resolved.Names() {
		cand := resolved.Pins[name]
		p := Pin{
			Name:        name,
			Version:     cand.Version,
			Editable:    cand.Editable(),
			Candidate:   cand,
			Requirement: resolved.Requirements[name],
			Requirers:   tracker.For(name),
			Root:        rootNames[name],
		}
		if !cand.Source.IsIndex() {
			p.Locator = cand.Source.Locator()
		}
		p.Hashes = digests[name]
		res.Pins = append(res.Pins, p)
	}
	sort.Slice(res.Pins, func(i, j int) bool { return res.Pins[i].Name < res.Pins[j].Name })

	e.log.V(1).Info("compiled", "pins", len(res.Pins), "rounds", res.Rounds, "duration", time.Since(start).String())
	return res, nil
}

func (e *Engine) newCache() *cache.Index {
	opts := []cache.Option{
		cache.WithLogger(e.log),
		cache.WithTTL(e.cacheTTL),
		cache.WithPrereleases(e.prereleases),
		cache.WithMetrics(e.metrics),
	}
	if e.store != nil {
		opts = append(opts, cache.WithStore(e.store))
	}
	return cache.New(e.idx, opts...)
}

func (e *Engine) resolverOptions() []resolver.Option {
	opts := []resolver.Option{
		resolver.WithUpgradeAll(e.upgradeAll),
		resolver.WithPrior(e.prior),
		resolver.WithWorkers(e.workers),
		resolver.WithMaxRounds(e.maxRounds),
		resolver.WithLookupTimeout(e.lookupTimeout),
		resolver.WithLogger(e.log),
	}
	if e.upgradeOnly != nil {
		opts = append(opts, resolver.WithUpgradeOnly(e.upgradeOnly))
	}
	if e.env != nil {
		opts = append(opts, resolver.WithEnvironment(e.env))
	}
	return opts
}
