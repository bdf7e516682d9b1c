// Package annotate records which requirers pulled each package into a
// resolution, for "# via" comments in rendered output.
package annotate

import (
	"sort"
	"sync"
)

// Tracker maps package names to the labels of their requirers. It has no
// effect on resolution. The zero value is not usable; call New.
type Tracker struct {
	mu  sync.RWMutex
	via map[string]map[string]bool
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{via: make(map[string]map[string]bool)}
}

// Add records that requirer requires child.
func (t *Tracker) Add(child, requirer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.via[child]
	if !ok {
		set = make(map[string]bool)
		t.via[child] = set
	}
	set[requirer] = true
}

// For returns the sorted requirer labels of name.
func (t *Tracker) For(name string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sorted(t.via[name])
}

// All returns the requirer labels of every tracked package.
func (t *Tracker) All() map[string][]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string][]string, len(t.via))
	for name, set := range t.via {
		out[name] = sorted(set)
	}
	return out
}

func sorted(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
