package pinset

import "sort"

// Pin returns the pin for name.
func (r *Result) Pin(name string) (Pin, bool) {
	name = normalize(name)
	i := sort.Search(len(r.Pins), func(i int) bool { return r.Pins[i].Name >= name })
	if i < len(r.Pins) && r.Pins[i].Name == name {
		return r.Pins[i], true
	}
	return Pin{}, false
}

// Dependencies returns the sorted names of the pins that name requires.
func (r *Result) Dependencies(name string) []string {
	name = normalize(name)
	set := make(map[string]bool)
	for _, e := range r.Edges {
		if !e.Root && e.Requirer == name {
			set[e.Child] = true
		}
	}
	return sortedSet(set)
}

// Dependents returns the sorted labels of everything that requires name:
// root labels and requiring package names.
func (r *Result) Dependents(name string) []string {
	p, ok := r.Pin(name)
	if !ok {
		return nil
	}
	return append([]string(nil), p.Requirers...)
}

// Closure returns the sorted names of every pin reachable from name,
// excluding name itself.
func (r *Result) Closure(name string) []string {
	name = normalize(name)
	seen := map[string]bool{name: true}
	queue := []string{name}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, dep := range r.Dependencies(next) {
			if !seen[dep] {
				seen[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	delete(seen, name)
	return sortedSet(seen)
}

func sortedSet(set map[string]bool) []string {
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
