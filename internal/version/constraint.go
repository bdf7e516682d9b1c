package version

import (
	"fmt"
	"sort"
	"strings"
)

// Op is a version comparison operator.
type Op int

const (
	OpEqual Op = iota
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
	OpCompatible
	OpArbitrary
)

var opStrings = [...]string{
	OpEqual:        "==",
	OpNotEqual:     "!=",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
	OpCompatible:   "~=",
	OpArbitrary:    "===",
}

// opRank orders clauses on the same version from lower bounds to upper
// bounds.
var opRank = map[Op]int{
	OpGreaterEqual: 0,
	OpGreater:      1,
	OpCompatible:   2,
	OpEqual:        3,
	OpArbitrary:    4,
	OpNotEqual:     5,
	OpLessEqual:    6,
	OpLess:         7,
}

// opTokens is ordered so that longer operators are matched first.
var opTokens = []struct {
	token string
	op    Op
}{
	{"===", OpArbitrary},
	{"~=", OpCompatible},
	{"==", OpEqual},
	{"!=", OpNotEqual},
	{"<=", OpLessEqual},
	{">=", OpGreaterEqual},
	{"<", OpLess},
	{">", OpGreater},
}

func (o Op) String() string {
	if int(o) < len(opStrings) {
		return opStrings[o]
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Clause is a single comparison such as ">=1.2" or "==1.4.*".
type Clause struct {
	Op      Op
	Version Version
	// Wildcard marks a trailing ".*" on == and != clauses; Version then
	// holds the release prefix.
	Wildcard bool
	// Arbitrary holds the literal operand of a === clause.
	Arbitrary string
}

// ParseClause parses one comparison clause.
func ParseClause(raw string) (Clause, error) {
	s := strings.TrimSpace(raw)
	for _, t := range opTokens {
		if !strings.HasPrefix(s, t.token) {
			continue
		}
		operand := strings.TrimSpace(s[len(t.token):])
		if operand == "" {
			return Clause{}, fmt.Errorf("version: clause %q: missing version", raw)
		}
		c := Clause{Op: t.op}
		if t.op == OpArbitrary {
			c.Arbitrary = operand
			if v, err := Parse(operand); err == nil {
				c.Version = v
			}
			return c, nil
		}
		if strings.HasSuffix(operand, ".*") {
			if t.op != OpEqual && t.op != OpNotEqual {
				return Clause{}, fmt.Errorf("version: clause %q: wildcard only allowed with == and !=", raw)
			}
			c.Wildcard = true
			operand = strings.TrimSuffix(operand, ".*")
		}
		v, err := Parse(operand)
		if err != nil {
			return Clause{}, fmt.Errorf("version: clause %q: %w", raw, err)
		}
		if t.op == OpCompatible && len(v.release) < 2 {
			return Clause{}, fmt.Errorf("version: clause %q: ~= needs at least two release segments", raw)
		}
		c.Version = v
		return c, nil
	}
	return Clause{}, fmt.Errorf("version: clause %q: missing comparison operator", raw)
}

func (c Clause) String() string {
	if c.Op == OpArbitrary {
		return c.Op.String() + c.Arbitrary
	}
	s := c.Op.String() + c.Version.String()
	if c.Wildcard {
		s += ".*"
	}
	return s
}

// Check reports whether v satisfies the clause. Clauses without a local
// label ignore the local label of v. The exclusive < never admits a
// pre-release of its own release, and > never admits a post-release or
// local variant of it, unless the clause version is itself one.
func (c Clause) Check(v Version) bool {
	switch c.Op {
	case OpEqual:
		if c.Wildcard {
			return hasPrefix(v, c.Version.epoch, c.Version.release)
		}
		return c.compare(v) == 0
	case OpNotEqual:
		if c.Wildcard {
			return !hasPrefix(v, c.Version.epoch, c.Version.release)
		}
		return c.compare(v) != 0
	case OpLess:
		if v.Compare(c.Version) >= 0 {
			return false
		}
		return c.Version.IsPrerelease() || !v.IsPrerelease() || !v.sameBase(c.Version)
	case OpLessEqual:
		return v.comparePublic(c.Version) <= 0
	case OpGreater:
		if v.Compare(c.Version) <= 0 {
			return false
		}
		if !c.Version.IsPostrelease() && v.IsPostrelease() && v.sameBase(c.Version) {
			return false
		}
		return v.Local() == "" || !v.sameBase(c.Version)
	case OpGreaterEqual:
		return v.comparePublic(c.Version) >= 0
	case OpCompatible:
		prefix := c.Version.release[:len(c.Version.release)-1]
		return v.comparePublic(c.Version) >= 0 && hasPrefix(v, c.Version.epoch, prefix)
	case OpArbitrary:
		return strings.EqualFold(v.String(), c.Arbitrary)
	}
	return false
}

// compare orders v against the clause version, dropping the local label of
// v when the clause has none.
func (c Clause) compare(v Version) int {
	if c.Version.Local() == "" {
		return v.comparePublic(c.Version)
	}
	return v.Compare(c.Version)
}

// Constraint is a conjunction of clauses kept in canonical order, so two
// constraints built from the same clauses in any order are identical.
type Constraint struct {
	clauses []Clause
}

// Any returns the constraint every version satisfies.
func Any() Constraint {
	return Constraint{}
}

// Exact returns the constraint "==v".
func Exact(v Version) Constraint {
	return NewConstraint(Clause{Op: OpEqual, Version: v})
}

// NewConstraint builds a canonical constraint from clauses.
func NewConstraint(clauses ...Clause) Constraint {
	byKey := make(map[string]Clause, len(clauses))
	for _, c := range clauses {
		byKey[c.String()] = c
	}
	out := make([]Clause, 0, len(byKey))
	for _, c := range byKey {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Version.Compare(out[j].Version); c != 0 {
			return c < 0
		}
		if ri, rj := opRank[out[i].Op], opRank[out[j].Op]; ri != rj {
			return ri < rj
		}
		return out[i].String() < out[j].String()
	})
	return Constraint{clauses: out}
}

// ParseConstraint parses a comma separated clause list. An empty string is
// the unconstrained constraint.
func ParseConstraint(raw string) (Constraint, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Any(), nil
	}
	var clauses []Clause
	for _, part := range strings.Split(s, ",") {
		c, err := ParseClause(part)
		if err != nil {
			return Constraint{}, err
		}
		clauses = append(clauses, c)
	}
	return NewConstraint(clauses...), nil
}

// MustParseConstraint is like ParseConstraint but panics on error.
func MustParseConstraint(raw string) Constraint {
	c, err := ParseConstraint(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// Clauses returns a copy of the canonical clause list.
func (c Constraint) Clauses() []Clause {
	out := make([]Clause, len(c.clauses))
	copy(out, c.clauses)
	return out
}

// IsAny reports whether c has no clauses.
func (c Constraint) IsAny() bool {
	return len(c.clauses) == 0
}

func (c Constraint) String() string {
	parts := make([]string, len(c.clauses))
	for i, cl := range c.clauses {
		parts[i] = cl.String()
	}
	return strings.Join(parts, ",")
}

// Equal reports whether both constraints hold the same clauses.
func (c Constraint) Equal(o Constraint) bool {
	return c.String() == o.String()
}

// Check reports whether v satisfies every clause.
func (c Constraint) Check(v Version) bool {
	for _, cl := range c.clauses {
		if !cl.Check(v) {
			return false
		}
	}
	return true
}

// Intersect returns the conjunction of c and o.
func (c Constraint) Intersect(o Constraint) Constraint {
	all := make([]Clause, 0, len(c.clauses)+len(o.clauses))
	all = append(all, c.clauses...)
	all = append(all, o.clauses...)
	return NewConstraint(all...)
}

// PinnedVersion returns the version of a single non-wildcard == clause.
func (c Constraint) PinnedVersion() (Version, bool) {
	if len(c.clauses) != 1 {
		return Version{}, false
	}
	cl := c.clauses[0]
	if cl.Op != OpEqual || cl.Wildcard {
		return Version{}, false
	}
	return cl.Version, true
}

type bound struct {
	v         Version
	inclusive bool
	set       bool
}

// Empty reports whether no version can satisfy c. It is conservative: a
// false result does not guarantee that a satisfying version exists.
func (c Constraint) Empty() bool {
	var lower, upper bound
	var points []Version
	arbitrary := ""

	raise := func(v Version, inclusive bool) {
		if !lower.set {
			lower = bound{v, inclusive, true}
			return
		}
		cmp := v.Compare(lower.v)
		if cmp > 0 || (cmp == 0 && !inclusive) {
			lower = bound{v, inclusive, true}
		}
	}
	drop := func(v Version, inclusive bool) {
		if !upper.set {
			upper = bound{v, inclusive, true}
			return
		}
		cmp := v.Compare(upper.v)
		if cmp < 0 || (cmp == 0 && !inclusive) {
			upper = bound{v, inclusive, true}
		}
	}

	for _, cl := range c.clauses {
		switch cl.Op {
		case OpEqual:
			if cl.Wildcard {
				raise(floor(cl.Version.epoch, cl.Version.release), true)
				drop(floor(cl.Version.epoch, bump(cl.Version.release)), false)
				continue
			}
			points = append(points, cl.Version)
		case OpArbitrary:
			if arbitrary != "" && !strings.EqualFold(arbitrary, cl.Arbitrary) {
				return true
			}
			arbitrary = cl.Arbitrary
		case OpGreater:
			raise(cl.Version, false)
		case OpGreaterEqual:
			raise(cl.Version, true)
		case OpLess:
			drop(cl.Version, false)
		case OpLessEqual:
			drop(cl.Version, true)
		case OpCompatible:
			prefix := cl.Version.release[:len(cl.Version.release)-1]
			raise(cl.Version, true)
			drop(floor(cl.Version.epoch, bump(prefix)), false)
		}
	}

	if len(points) > 0 {
		for _, p := range points[1:] {
			if !p.Equal(points[0]) {
				return true
			}
		}
		return !c.Check(points[0])
	}
	if lower.set && upper.set {
		cmp := lower.v.Compare(upper.v)
		if cmp > 0 {
			return true
		}
		if cmp == 0 {
			if !lower.inclusive || !upper.inclusive {
				return true
			}
			return !c.Check(lower.v)
		}
	}
	return false
}
