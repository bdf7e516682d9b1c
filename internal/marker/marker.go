// Package marker parses and evaluates environment markers, the boolean
// predicates that gate a requirement on properties of the target
// environment ("sys_platform == 'win32'", "python_version < '3'").
package marker

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/jward/pinset/internal/version"
)

// Environment maps marker variables to their values. Variables that are not
// present evaluate to the empty string.
type Environment map[string]string

// DefaultPythonVersion is the interpreter version DefaultEnvironment
// targets when none is given.
const DefaultPythonVersion = "3.12.0"

// DefaultEnvironment describes the running host with a CPython
// DefaultPythonVersion interpreter. Use WithPython to target another one.
func DefaultEnvironment() Environment {
	env := Environment{
		"sys_platform":     runtime.GOOS,
		"platform_system":  strings.ToUpper(runtime.GOOS[:1]) + runtime.GOOS[1:],
		"os_name":          "posix",
		"platform_machine": runtime.GOARCH,
	}
	switch runtime.GOOS {
	case "windows":
		env["sys_platform"] = "win32"
		env["os_name"] = "nt"
	case "darwin":
		env["platform_system"] = "Darwin"
	}
	switch runtime.GOARCH {
	case "amd64":
		env["platform_machine"] = "x86_64"
	case "arm64":
		if runtime.GOOS == "linux" {
			env["platform_machine"] = "aarch64"
		}
	case "386":
		env["platform_machine"] = "i686"
	}
	return env.WithPython(DefaultPythonVersion)
}

// WithPython returns a copy of env targeting a CPython interpreter of the
// given full version ("3.11.4"). python_version is its first two segments.
func (env Environment) WithPython(full string) Environment {
	short := full
	if parts := strings.SplitN(full, ".", 3); len(parts) >= 2 {
		short = parts[0] + "." + parts[1]
	}
	return env.With(map[string]string{
		"python_version":                 short,
		"python_full_version":            full,
		"implementation_name":            "cpython",
		"implementation_version":         full,
		"platform_python_implementation": "CPython",
	})
}

// With returns a copy of env with overrides applied.
func (env Environment) With(overrides map[string]string) Environment {
	out := make(Environment, len(env)+len(overrides))
	for k, v := range env {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

var knownVariables = map[string]bool{
	"python_version":                 true,
	"python_full_version":            true,
	"os_name":                        true,
	"sys_platform":                   true,
	"platform_release":               true,
	"platform_system":                true,
	"platform_version":               true,
	"platform_machine":               true,
	"platform_python_implementation": true,
	"implementation_name":            true,
	"implementation_version":         true,
	"extra":                          true,
}

// Marker is a disjunction of terms. The nil *Marker is the absent marker
// and is always true.
type Marker struct {
	terms []node
}

// Parse parses a marker expression.
func Parse(raw string) (*Marker, error) {
	p := &parser{src: raw}
	if err := p.tokenize(); err != nil {
		return nil, err
	}
	if len(p.toks) == 0 {
		return nil, fmt.Errorf("marker: parse %q: empty expression", raw)
	}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("marker: parse %q: unexpected %q", raw, p.toks[p.pos].text)
	}
	if or, ok := n.(orNode); ok {
		return newMarker(or.terms), nil
	}
	return newMarker([]node{n}), nil
}

// MustParse is like Parse but panics on error.
func MustParse(raw string) *Marker {
	m, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return m
}

func newMarker(terms []node) *Marker {
	seen := make(map[string]bool, len(terms))
	out := make([]node, 0, len(terms))
	for _, t := range terms {
		key := t.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return &Marker{terms: out}
}

// Or returns the disjunction of a and b. An absent marker absorbs the other.
func Or(a, b *Marker) *Marker {
	if a == nil || b == nil {
		return nil
	}
	terms := make([]node, 0, len(a.terms)+len(b.terms))
	terms = append(terms, a.terms...)
	terms = append(terms, b.terms...)
	return newMarker(terms)
}

// Evaluate reports whether m holds in env. The extra variable is taken
// from env as given.
func (m *Marker) Evaluate(env Environment) bool {
	if m == nil {
		return true
	}
	for _, t := range m.terms {
		if t.eval(env) {
			return true
		}
	}
	return false
}

// EvaluateExtras evaluates m once per requested extra and reports whether
// any evaluation holds. With no extras the extra variable is empty.
func (m *Marker) EvaluateExtras(env Environment, extras []string) bool {
	if m == nil {
		return true
	}
	if len(extras) == 0 {
		return m.Evaluate(env.With(map[string]string{"extra": ""}))
	}
	for _, e := range extras {
		if m.Evaluate(env.With(map[string]string{"extra": e})) {
			return true
		}
	}
	return false
}

// String renders the marker in canonical form.
func (m *Marker) String() string {
	if m == nil {
		return ""
	}
	parts := make([]string, len(m.terms))
	for i, t := range m.terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, " or ")
}

// Equal reports whether both markers render identically.
func (m *Marker) Equal(o *Marker) bool {
	if m == nil || o == nil {
		return m == nil && o == nil
	}
	return m.String() == o.String()
}

// MarshalText implements encoding.TextMarshaler.
func (m *Marker) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// =============================================================================
// Expression tree
// =============================================================================

type node interface {
	eval(env Environment) bool
	String() string
}

type orNode struct{ terms []node }

func (n orNode) eval(env Environment) bool {
	for _, t := range n.terms {
		if t.eval(env) {
			return true
		}
	}
	return false
}

func (n orNode) String() string {
	parts := make([]string, len(n.terms))
	for i, t := range n.terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, " or ")
}

type andNode struct{ terms []node }

func (n andNode) eval(env Environment) bool {
	for _, t := range n.terms {
		if !t.eval(env) {
			return false
		}
	}
	return true
}

func (n andNode) String() string {
	parts := make([]string, len(n.terms))
	for i, t := range n.terms {
		if _, ok := t.(orNode); ok {
			parts[i] = "(" + t.String() + ")"
			continue
		}
		parts[i] = t.String()
	}
	return strings.Join(parts, " and ")
}

type operand struct {
	variable string
	literal  string
}

func (o operand) value(env Environment) string {
	if o.variable != "" {
		return env[o.variable]
	}
	return o.literal
}

func (o operand) String() string {
	if o.variable != "" {
		return o.variable
	}
	return `"` + o.literal + `"`
}

type compareNode struct {
	left, right operand
	op          string
}

func (n compareNode) String() string {
	return n.left.String() + " " + n.op + " " + n.right.String()
}

func (n compareNode) eval(env Environment) bool {
	l, r := n.left.value(env), n.right.value(env)
	if n.left.variable == "extra" || n.right.variable == "extra" {
		l, r = strings.ToLower(l), strings.ToLower(r)
	}
	switch n.op {
	case "in":
		return strings.Contains(r, l)
	case "not in":
		return !strings.Contains(r, l)
	}
	if lv, err := version.Parse(l); err == nil {
		if clause, err := version.ParseClause(n.op + r); err == nil {
			return clause.Check(lv)
		}
	}
	switch n.op {
	case "==", "===":
		return l == r
	case "!=":
		return l != r
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	case ">=":
		return l >= r
	}
	return false
}
