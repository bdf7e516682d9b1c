package req

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jward/pinset/internal/marker"
	"github.com/jward/pinset/internal/version"
)

var (
	namePattern = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)\s*(?:\[([^\]]*)\])?\s*(.*)$`)
	vcsSchemes  = []string{"git+", "hg+", "svn+", "bzr+"}
)

// Parse parses a single requirement line: a PEP 508 style specifier
// ("name[extra]>=1,<2; marker"), a direct VCS reference
// ("git+https://host/repo@ref#egg=name" or "name @ git+..."), or an
// editable ("-e ./path", "--editable git+...#egg=name"). Trailing comments
// are stripped. An editable without an egg fragment has an empty Name.
func Parse(line string) (Requirement, error) {
	s := stripComment(line)
	if s == "" {
		return Requirement{}, fmt.Errorf("req: parse %q: empty requirement", line)
	}

	if rest, ok := cutEditable(s); ok {
		r, err := parseEditable(rest)
		if err != nil {
			return Requirement{}, fmt.Errorf("req: parse %q: %w", line, err)
		}
		return r, nil
	}

	body, markerText, _ := strings.Cut(s, ";")
	body = strings.TrimSpace(body)
	var r Requirement
	var err error
	if isVCS(body) {
		r, err = parseVCS(body, false)
	} else if name, url, ok := strings.Cut(body, " @ "); ok {
		r, err = parseVCS(strings.TrimSpace(url), false)
		if err == nil {
			r.Name = NormalizeName(name)
		}
	} else {
		r, err = parseSpecifier(body)
	}
	if err != nil {
		return Requirement{}, fmt.Errorf("req: parse %q: %w", line, err)
	}
	if strings.TrimSpace(markerText) != "" {
		m, err := marker.Parse(strings.TrimSpace(markerText))
		if err != nil {
			return Requirement{}, fmt.Errorf("req: parse %q: %w", line, err)
		}
		r.Marker = m
	}
	if r.Name == "" {
		return Requirement{}, fmt.Errorf("req: parse %q: missing package name", line)
	}
	return r, nil
}

// MustParse is like Parse but panics on error.
func MustParse(line string) Requirement {
	r, err := Parse(line)
	if err != nil {
		panic(err)
	}
	return r
}

func stripComment(line string) string {
	s := strings.TrimSpace(line)
	if strings.HasPrefix(s, "#") {
		return ""
	}
	for i := 1; i < len(s); i++ {
		if s[i] == '#' && (s[i-1] == ' ' || s[i-1] == '\t') {
			return strings.TrimSpace(s[:i])
		}
	}
	return s
}

func cutEditable(s string) (string, bool) {
	for _, prefix := range []string{"-e ", "-e\t", "--editable=", "--editable "} {
		if strings.HasPrefix(s, prefix) {
			return strings.TrimSpace(s[len(prefix):]), true
		}
	}
	return "", false
}

func isVCS(s string) bool {
	for _, scheme := range vcsSchemes {
		if strings.HasPrefix(s, scheme) {
			return true
		}
	}
	return false
}

func parseEditable(locator string) (Requirement, error) {
	if locator == "" {
		return Requirement{}, fmt.Errorf("editable without location")
	}
	if isVCS(locator) {
		return parseVCS(locator, true)
	}
	path, fragment, _ := strings.Cut(locator, "#")
	r := Requirement{Name: eggName(fragment), Source: EditableSource(path)}
	r.Source.raw = locator
	return r, nil
}

func parseVCS(locator string, editable bool) (Requirement, error) {
	url, fragment, _ := strings.Cut(locator, "#")
	ref := ""
	if at := strings.LastIndex(url, "@"); at > strings.LastIndex(url, "/") {
		url, ref = url[:at], url[at+1:]
	}
	if !strings.Contains(url, "://") {
		return Requirement{}, fmt.Errorf("invalid vcs url %q", locator)
	}
	src := Source{Kind: SourceVCS, URL: url, Ref: ref, Editable: editable, raw: locator}
	return Requirement{Name: eggName(fragment), Source: src}, nil
}

func eggName(fragment string) string {
	for _, part := range strings.Split(fragment, "&") {
		if v, ok := strings.CutPrefix(part, "egg="); ok {
			return NormalizeName(v)
		}
	}
	return ""
}

func parseSpecifier(body string) (Requirement, error) {
	m := namePattern.FindStringSubmatch(body)
	if m == nil {
		return Requirement{}, fmt.Errorf("invalid requirement %q", body)
	}
	r := Requirement{Name: NormalizeName(m[1])}
	if strings.TrimSpace(m[2]) != "" {
		r = r.WithExtras(strings.Split(m[2], ",")...)
	}
	spec := strings.TrimSpace(m[3])
	if strings.HasPrefix(spec, "(") && strings.HasSuffix(spec, ")") {
		spec = strings.TrimSpace(spec[1 : len(spec)-1])
	}
	c, err := version.ParseConstraint(spec)
	if err != nil {
		return Requirement{}, err
	}
	r.Constraint = c
	return r, nil
}
