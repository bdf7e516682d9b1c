package resolver

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jward/pinset/internal/index"
	"github.com/jward/pinset/internal/req"
)

// lookup holds everything a parallel worker needs for one pending name.
type lookup struct {
	name    string
	req     req.Requirement
	upgrade bool
	prior   *index.Candidate

	cand index.Candidate
	deps []req.Requirement
	err  error
}

// expand runs one round over the pending names:
//
//	Phase A (serial):   Snapshot merged requirements and prior pins.
//	Phase B (parallel): FindBest and DependenciesOf through a bounded pool.
//	Phase C (serial):   Commit pins and contributions in name order.
func (r *Resolver) expand(ctx context.Context, s *state, round int) error {
	// ---- Phase A: Serial snapshot ----
	names := sortedKeys(s.pending)
	batch := make([]*lookup, 0, len(names))
	for _, name := range names {
		item := &lookup{name: name, req: s.requirements[name]}
		if pin, ok := s.pinned[name]; ok {
			item.prior = &pin
		} else if prior, ok := r.prior[name]; ok {
			item.prior = &prior
			item.upgrade = r.upgradeAllowed(name)
		}
		batch = append(batch, item)
	}
	r.log.V(1).Info("expanding round", "round", round, "pending", len(batch))

	// ---- Phase B: Parallel lookups ----
	var g errgroup.Group
	g.SetLimit(r.workers)
	for _, item := range batch {
		g.Go(func() error {
			item.cand, item.deps, item.err = r.fetch(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	// ---- Phase C: Serial commit ----
	for _, item := range batch {
		if item.err != nil {
			return &LookupError{
				Name:        item.name,
				Requirement: item.req,
				Chain:       s.chain(item.name),
				Err:         item.err,
			}
		}
	}
	for _, item := range batch {
		if !s.included[item.name] || !s.requirements[item.name].Equal(item.req) {
			// Dropped, excluded or re-merged earlier in this phase.
			continue
		}
		if err := r.commit(s, item); err != nil {
			return err
		}
	}
	if err := s.collect(); err != nil {
		return err
	}
	s.refreshPending()
	return nil
}

// fetch resolves one pending name and reads the declared dependencies of
// the chosen candidate. Each call runs under the per-call timeout.
func (r *Resolver) fetch(ctx context.Context, item *lookup) (index.Candidate, []req.Requirement, error) {
	cand, err := timed(ctx, r.lookupTimeout, func(ctx context.Context) (index.Candidate, error) {
		return r.idx.FindBest(ctx, item.req, item.upgrade, item.prior)
	})
	if err != nil {
		return index.Candidate{}, nil, err
	}
	deps, err := timed(ctx, r.lookupTimeout, func(ctx context.Context) ([]req.Requirement, error) {
		return r.idx.DependenciesOf(ctx, cand)
	})
	if err != nil {
		return index.Candidate{}, nil, err
	}
	return cand, deps, nil
}

// commit pins item's candidate and replaces the contributions the name
// made in earlier rounds with its newly declared dependencies.
func (r *Resolver) commit(s *state, item *lookup) error {
	prev, hadPin := s.pinned[item.name]
	s.pinned[item.name] = item.cand
	s.expanded[item.name] = append([]string(nil), item.req.Extras...)
	if !hadPin || !prev.Identical(item.cand) {
		r.log.V(1).Info("pinned", "name", item.name, "candidate", item.cand.Label())
	}

	next := make([]*contribution, 0, len(item.deps))
	for _, dep := range item.deps {
		if dep.Name == "" || dep.Name == item.name {
			continue
		}
		next = append(next, &contribution{
			child:       dep.Name,
			parentKey:   item.name,
			parentLabel: item.cand.Label(),
			requirer:    item.name,
			req:         dep,
			active:      dep.Marker.EvaluateExtras(s.env, item.req.Extras),
		})
	}

	for _, child := range s.replaceOutgoing(item.name, next) {
		if err := s.remerge(child); err != nil {
			return err
		}
	}
	return nil
}
