// Package cache memoizes Candidate Index lookups. Results are kept in an
// in-run memo and, for immutable sources, persisted to a SQLite store so
// later runs avoid repeated index work. Concurrent duplicate lookups are
// coalesced with singleflight.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-logr/logr"
	digest "github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"

	"github.com/jward/pinset/internal/index"
	"github.com/jward/pinset/internal/req"
	"github.com/jward/pinset/internal/store"
	"github.com/jward/pinset/internal/version"
)

// DefaultTTL bounds the age of persisted FindBest entries. Dependency
// entries of immutable candidates never expire.
const DefaultTTL = 24 * time.Hour

// Index decorates an index.Index with memoization. It satisfies the same
// contract and is safe for concurrent use.
type Index struct {
	inner       index.Index
	store       *store.Store
	batch       *store.Batch
	log         logr.Logger
	metrics     *Metrics
	ttl         time.Duration
	prereleases bool
	identity    string
	now         func() time.Time

	mu      sync.RWMutex
	lookups map[string]index.Candidate
	deps    map[string][]req.Requirement
	hashes  map[string][]digest.Digest
	group   singleflight.Group
}

var _ index.Index = (*Index)(nil)

// Option configures an Index.
type Option func(*Index)

// WithStore enables the persisted tier.
func WithStore(s *store.Store) Option {
	return func(c *Index) { c.store = s }
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(c *Index) { c.log = l }
}

// WithTTL sets the maximum age of persisted lookups. Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(c *Index) { c.ttl = d }
}

// WithPrereleases records the pre-release policy of the wrapped index. It is
// part of every lookup signature.
func WithPrereleases(allow bool) Option {
	return func(c *Index) { c.prereleases = allow }
}

// WithMetrics sets the counters updated by the cache.
func WithMetrics(m *Metrics) Option {
	return func(c *Index) { c.metrics = m }
}

// New wraps inner.
func New(inner index.Index, opts ...Option) *Index {
	c := &Index{
		inner:   inner,
		batch:   store.NewBatch(),
		ttl:     DefaultTTL,
		now:     time.Now,
		lookups: make(map[string]index.Candidate),
		deps:    make(map[string][]req.Requirement),
		hashes:  make(map[string][]digest.Digest),
	}
	for _, o := range opts {
		o(c)
	}
	if c.log.GetSink() == nil {
		c.log = logr.Discard()
	}
	c.identity = index.IdentityOf(inner)
	return c
}

// Signature returns the lookup key of r under this cache's index identity
// and pre-release policy.
func (c *Index) Signature(r req.Requirement) string {
	return Signature(r, c.prereleases, c.identity)
}

// dependencyKey scopes a candidate key to the index identity, since two
// indexes may declare different dependencies for the same release.
func (c *Index) dependencyKey(cand index.Candidate) string {
	if c.identity == "" {
		return cand.Key()
	}
	return c.identity + " " + cand.Key()
}

// =============================================================================
// FindBest
// =============================================================================

type lookupPayload struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Artifact string `json:"artifact,omitempty"`
}

func (c *Index) FindBest(ctx context.Context, r req.Requirement, upgrade bool, prior *index.Candidate) (index.Candidate, error) {
	if index.KeepPrior(r, upgrade, prior) {
		c.metrics.hit(KindLookup, TierPrior)
		return c.completePrior(ctx, *prior), nil
	}

	sig := c.Signature(r)
	if cand, ok := c.memoLookup(sig); ok {
		c.metrics.hit(KindLookup, TierMemory)
		return cand, nil
	}

	v, err, shared := c.group.Do("lookup:"+sig, func() (any, error) {
		if cand, ok := c.memoLookup(sig); ok {
			c.metrics.hit(KindLookup, TierMemory)
			return cand, nil
		}
		persist := !r.Source.Mutable()
		if persist {
			if cand, ok := c.readLookup(sig, r); ok {
				c.metrics.hit(KindLookup, TierPersisted)
				c.setLookup(sig, cand)
				return cand, nil
			}
		}

		c.metrics.miss(KindLookup)
		cand, err := c.inner.FindBest(ctx, r, upgrade, nil)
		if err != nil {
			return index.Candidate{}, err
		}
		c.setLookup(sig, cand)
		if persist {
			c.persistLookup(sig, r.Name, cand)
		}
		return cand, nil
	})
	if shared {
		c.metrics.shared(KindLookup)
	}
	if err != nil {
		return index.Candidate{}, err
	}
	return v.(index.Candidate), nil
}

// completePrior fills in the artifact of a prior pin read back from an
// output file, which records only name and version. The exact lookup goes
// through the same tiers as any other.
func (c *Index) completePrior(ctx context.Context, prior index.Candidate) index.Candidate {
	if prior.Artifact != "" || !prior.Source.IsIndex() {
		return prior
	}
	exact := req.Requirement{Name: prior.Name, Constraint: version.Exact(prior.Version)}
	cand, err := c.FindBest(ctx, exact, true, nil)
	if err != nil || !cand.Version.Equal(prior.Version) {
		c.log.V(1).Info("prior pin not found in index", "pin", prior.Label())
		return prior
	}
	return cand
}

func (c *Index) memoLookup(sig string) (index.Candidate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cand, ok := c.lookups[sig]
	return cand, ok
}

func (c *Index) setLookup(sig string, cand index.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups[sig] = cand
}

func (c *Index) readLookup(sig string, r req.Requirement) (index.Candidate, bool) {
	if c.store == nil {
		return index.Candidate{}, false
	}
	e, err := c.store.Lookup(sig)
	if err != nil {
		c.readFailed(err, "read cached lookup", r.Name)
		return index.Candidate{}, false
	}
	if e == nil {
		return index.Candidate{}, false
	}
	if c.ttl > 0 && c.now().Sub(e.CreatedAt) > c.ttl {
		c.log.V(1).Info("cached lookup expired", "name", r.Name, "age", c.now().Sub(e.CreatedAt).String())
		return index.Candidate{}, false
	}
	var p lookupPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		c.readFailed(err, "decode cached lookup", r.Name)
		return index.Candidate{}, false
	}
	v, err := version.Parse(p.Version)
	if err != nil || p.Name == "" {
		c.readFailed(err, "decode cached lookup", r.Name)
		return index.Candidate{}, false
	}
	return index.Candidate{Name: p.Name, Version: v, Artifact: p.Artifact, Source: r.Source}, true
}

func (c *Index) persistLookup(sig, name string, cand index.Candidate) {
	if c.store == nil {
		return
	}
	payload, err := json.Marshal(lookupPayload{Name: cand.Name, Version: cand.Version.String(), Artifact: cand.Artifact})
	if err != nil {
		c.log.Error(err, "encode lookup for cache", "name", name)
		return
	}
	c.batch.PutLookup(sig, name, payload)
	c.metrics.write()
}

// =============================================================================
// DependenciesOf
// =============================================================================

type dependencyPayload struct {
	Requirement string `json:"requirement"`
	Name        string `json:"name,omitempty"`
}

func (c *Index) DependenciesOf(ctx context.Context, cand index.Candidate) ([]req.Requirement, error) {
	key := c.dependencyKey(cand)
	if deps, ok := c.memoDeps(key); ok {
		c.metrics.hit(KindDependencies, TierMemory)
		return deps, nil
	}

	v, err, shared := c.group.Do("deps:"+key, func() (any, error) {
		if deps, ok := c.memoDeps(key); ok {
			c.metrics.hit(KindDependencies, TierMemory)
			return deps, nil
		}
		persist := !cand.Source.Mutable()
		if persist {
			if deps, ok := c.readDeps(key, cand.Name); ok {
				c.metrics.hit(KindDependencies, TierPersisted)
				c.setDeps(key, deps)
				return deps, nil
			}
		}

		c.metrics.miss(KindDependencies)
		deps, err := c.inner.DependenciesOf(ctx, cand)
		if err != nil {
			return nil, err
		}
		c.setDeps(key, deps)
		if persist {
			c.persistDeps(key, cand.Name, deps)
		}
		return deps, nil
	})
	if shared {
		c.metrics.shared(KindDependencies)
	}
	if err != nil {
		return nil, err
	}
	return append([]req.Requirement(nil), v.([]req.Requirement)...), nil
}

func (c *Index) memoDeps(key string) ([]req.Requirement, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	deps, ok := c.deps[key]
	if !ok {
		return nil, false
	}
	return append([]req.Requirement(nil), deps...), true
}

func (c *Index) setDeps(key string, deps []req.Requirement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deps[key] = append([]req.Requirement(nil), deps...)
}

func (c *Index) readDeps(key, name string) ([]req.Requirement, bool) {
	if c.store == nil {
		return nil, false
	}
	e, err := c.store.Dependencies(key)
	if err != nil {
		c.readFailed(err, "read cached dependencies", name)
		return nil, false
	}
	if e == nil {
		return nil, false
	}
	var payload []dependencyPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		c.readFailed(err, "decode cached dependencies", name)
		return nil, false
	}
	deps := make([]req.Requirement, 0, len(payload))
	for _, p := range payload {
		r, err := req.Parse(p.Requirement)
		if err != nil {
			c.readFailed(err, "decode cached dependencies", name)
			return nil, false
		}
		if p.Name != "" {
			r.Name = p.Name
		}
		deps = append(deps, r)
	}
	return deps, true
}

func (c *Index) persistDeps(key, name string, deps []req.Requirement) {
	if c.store == nil {
		return
	}
	payload := make([]dependencyPayload, len(deps))
	for i, d := range deps {
		payload[i] = dependencyPayload{Requirement: d.String(), Name: d.Name}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Error(err, "encode dependencies for cache", "name", name)
		return
	}
	c.batch.PutDependencies(key, name, data)
	c.metrics.write()
}

// =============================================================================
// HashesOf
// =============================================================================

func (c *Index) HashesOf(ctx context.Context, cand index.Candidate) ([]digest.Digest, error) {
	key := cand.Key()
	c.mu.RLock()
	hashes, ok := c.hashes[key]
	c.mu.RUnlock()
	if ok {
		c.metrics.hit(KindHashes, TierMemory)
		return append([]digest.Digest(nil), hashes...), nil
	}

	v, err, shared := c.group.Do("hashes:"+key, func() (any, error) {
		c.metrics.miss(KindHashes)
		hashes, err := c.inner.HashesOf(ctx, cand)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.hashes[key] = hashes
		c.mu.Unlock()
		return hashes, nil
	})
	if shared {
		c.metrics.shared(KindHashes)
	}
	if err != nil {
		return nil, err
	}
	return append([]digest.Digest(nil), v.([]digest.Digest)...), nil
}

// =============================================================================
// Persistence
// =============================================================================

// Flush commits the entries buffered during the run to the store in one
// transaction. It is a no-op without a store.
func (c *Index) Flush() error {
	if c.store == nil {
		return nil
	}
	n := c.batch.Len()
	if err := c.store.CommitBatch(c.batch); err != nil {
		return err
	}
	c.log.V(1).Info("flushed resolution cache", "entries", n)
	return nil
}

func (c *Index) readFailed(err error, msg, name string) {
	c.metrics.readFailure()
	c.log.Error(err, msg+", treating as miss", "name", name)
}
