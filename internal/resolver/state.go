package resolver

import (
	"errors"
	"sort"

	"github.com/jward/pinset/internal/index"
	"github.com/jward/pinset/internal/marker"
	"github.com/jward/pinset/internal/req"
)

// rootKey is the parent key of contributions made by root requirements.
const rootKey = ""

// contribution is one declared requirement: parent requires child.
type contribution struct {
	seq int
	// child is the required package name.
	child string
	// parentKey is rootKey or the requiring package name.
	parentKey   string
	parentLabel string
	requirer    string
	req         req.Requirement
	// active is false when the marker of req does not hold.
	active bool
}

func (c *contribution) hop() Hop {
	return Hop{Requirer: c.parentLabel, Requirement: c.req}
}

// state is the working state of one resolution. It is only touched from
// the resolver's serial phases.
type state struct {
	env marker.Environment
	seq int

	byChild  map[string][]*contribution
	byParent map[string][]*contribution
	forced   map[string]req.Requirement

	requirements map[string]req.Requirement
	included     map[string]bool
	pinned       map[string]index.Candidate
	// expanded holds the extras each pin was expanded with.
	expanded map[string][]string
	pending  map[string]bool
}

func newState(env marker.Environment) *state {
	return &state{
		env:          env,
		byChild:      make(map[string][]*contribution),
		byParent:     make(map[string][]*contribution),
		forced:       make(map[string]req.Requirement),
		requirements: make(map[string]req.Requirement),
		included:     make(map[string]bool),
		pinned:       make(map[string]index.Candidate),
		expanded:     make(map[string][]string),
		pending:      make(map[string]bool),
	}
}

func (s *state) addContribution(c *contribution) {
	if c.seq == 0 {
		s.seq++
		c.seq = s.seq
	}
	s.byChild[c.child] = append(s.byChild[c.child], c)
	s.byParent[c.parentKey] = append(s.byParent[c.parentKey], c)
}

// childNames returns every name with at least one contribution, sorted.
func (s *state) childNames() []string {
	names := make([]string, 0, len(s.byChild))
	for n := range s.byChild {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// replaceOutgoing swaps the contributions made by parent for next and
// returns the affected child names in sorted order. Contributions equal to
// an existing one keep its discovery order.
func (s *state) replaceOutgoing(parent string, next []*contribution) []string {
	old := s.byParent[parent]
	touched := make(map[string]bool, len(old)+len(next))
	for _, c := range old {
		touched[c.child] = true
		s.removeFromChild(c)
	}
	delete(s.byParent, parent)

	for _, c := range next {
		for _, o := range old {
			if o.child == c.child && o.req.Equal(c.req) {
				c.seq = o.seq
				break
			}
		}
		touched[c.child] = true
		s.addContribution(c)
	}
	return sortedKeys(touched)
}

func (s *state) removeFromChild(c *contribution) {
	list := s.byChild[c.child]
	for i, o := range list {
		if o == c {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.byChild, c.child)
		return
	}
	s.byChild[c.child] = list
}

// sortedContributions returns the contributions to name in discovery order.
func (s *state) sortedContributions(name string) []*contribution {
	list := append([]*contribution(nil), s.byChild[name]...)
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	return list
}

// chain returns every contribution to name in discovery order, followed by
// the forced constraint when one applies.
func (s *state) chain(name string) []Hop {
	list := s.sortedContributions(name)
	hops := make([]Hop, 0, len(list)+1)
	for _, c := range list {
		hops = append(hops, c.hop())
	}
	if f, ok := s.forced[name]; ok {
		hops = append(hops, Hop{Requirer: ForcedLabel, Requirement: f})
	}
	return hops
}

// remerge recomputes the merged requirement of name from its contributions.
// A name left without contributions is dropped, and a name whose
// contributions are all inactive is excluded; both retract the name's own
// contributions.
func (s *state) remerge(name string) error {
	list := s.sortedContributions(name)
	if len(list) == 0 {
		s.drop(name)
		return nil
	}

	merged := list[0].req
	included := list[0].active
	for _, c := range list[1:] {
		m, err := req.Merge(merged, c.req)
		if err != nil {
			return s.conflict(name, err)
		}
		merged = m
		included = included || c.active
	}
	if f, ok := s.forced[name]; ok {
		m, err := req.Merge(merged, f)
		if err != nil {
			return s.conflict(name, err)
		}
		merged = m
	}

	s.requirements[name] = merged
	if !included {
		if s.included[name] {
			delete(s.included, name)
			return s.retract(name)
		}
		return nil
	}
	s.included[name] = true
	return nil
}

func (s *state) conflict(name string, err error) error {
	ce := &ConflictError{Name: name, Chain: s.chain(name), Err: err}
	var rce *req.ConflictError
	if errors.As(err, &rce) {
		ce.Constraint = rce.Constraint
	}
	return ce
}

// drop forgets name entirely.
func (s *state) drop(name string) {
	delete(s.requirements, name)
	delete(s.included, name)
	// Removing contributions only relaxes merged constraints, so the
	// cascade cannot conflict.
	_ = s.retract(name)
}

// retract unpins name and removes the contributions it made.
func (s *state) retract(name string) error {
	delete(s.pinned, name)
	delete(s.expanded, name)
	delete(s.pending, name)
	for _, child := range s.replaceOutgoing(name, nil) {
		if err := s.remerge(child); err != nil {
			return err
		}
	}
	return nil
}

// collect retracts contributions made by packages that are no longer
// reachable from the roots through active contributions. This removes
// requirement cycles left behind when their last outside requirer went
// away.
func (s *state) collect() error {
	reachable := map[string]bool{rootKey: true}
	queue := []string{rootKey}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, c := range s.byParent[parent] {
			if !c.active || reachable[c.child] || !s.included[c.child] {
				continue
			}
			reachable[c.child] = true
			queue = append(queue, c.child)
		}
	}

	var orphans []string
	for parent := range s.byParent {
		if !reachable[parent] {
			orphans = append(orphans, parent)
		}
	}
	sort.Strings(orphans)
	for _, parent := range orphans {
		if err := s.retract(parent); err != nil {
			return err
		}
	}
	return nil
}

// refreshPending recomputes the names that need a lookup: included names
// that were never expanded, whose pin no longer satisfies the merged
// requirement, or whose extras changed since expansion.
func (s *state) refreshPending() {
	s.pending = make(map[string]bool)
	for name := range s.included {
		if s.needsExpansion(name) {
			s.pending[name] = true
		}
	}
}

func (s *state) needsExpansion(name string) bool {
	extras, ok := s.expanded[name]
	if !ok {
		return true
	}
	pin, ok := s.pinned[name]
	if !ok {
		return true
	}
	r := s.requirements[name]
	if !pin.Satisfies(r) {
		return true
	}
	return !sameStrings(extras, r.Extras)
}

func (s *state) result(rounds int) *Result {
	res := &Result{
		Pins:         make(map[string]index.Candidate, len(s.pinned)),
		Requirements: make(map[string]req.Requirement, len(s.pinned)),
		Rounds:       rounds,
	}
	for name, cand := range s.pinned {
		if !s.included[name] {
			continue
		}
		res.Pins[name] = cand
		res.Requirements[name] = s.requirements[name]
	}
	for _, name := range res.Names() {
		for _, c := range s.sortedContributions(name) {
			if !c.active {
				continue
			}
			res.Edges = append(res.Edges, Edge{
				Child:       name,
				Parent:      c.parentLabel,
				Requirer:    c.requirer,
				Requirement: c.req,
				Root:        c.parentKey == rootKey,
			})
		}
	}
	return res
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
