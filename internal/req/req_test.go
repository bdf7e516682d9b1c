package req

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/pinset/internal/marker"
	"github.com/jward/pinset/internal/version"
)

// =============================================================================
// Names and sources
// =============================================================================

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Django":           "django",
		"small_fake_a":     "small-fake-a",
		"zope.interface":   "zope-interface",
		"Foo__Bar-.-baz":   "foo-bar-baz",
		"  SIX ":           "six",
		"small-fake-a":     "small-fake-a",
		"ruamel.yaml.clib": "ruamel-yaml-clib",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeName(in), in)
	}
}

func TestSource_Mutable(t *testing.T) {
	t.Parallel()

	assert.False(t, Source{}.Mutable())
	assert.True(t, EditableSource("./pkg").Mutable())
	assert.True(t, VCSSource("git+https://example.com/r.git", "main", false).Mutable())
	assert.True(t, VCSSource("git+https://example.com/r.git", "", false).Mutable())
	assert.False(t, VCSSource("git+https://example.com/r.git", "0123456789abcdef0123456789abcdef01234567", false).Mutable())
	assert.True(t, VCSSource("git+https://example.com/r.git", "0123456789abcdef0123456789abcdef01234567", true).Mutable())
}

// =============================================================================
// Merge
// =============================================================================

func TestMerge_ConjoinsConstraints(t *testing.T) {
	t.Parallel()

	a := MustParse("six>=1.0")
	b := MustParse("six<2,!=1.5")
	m, err := Merge(a, b)
	require.NoError(t, err)
	assert.Equal(t, ">=1.0,!=1.5,<2", m.Constraint.String())
	assert.Equal(t, "six", m.Name)
}

func TestMerge_UnionExtrasAndOrMarkers(t *testing.T) {
	t.Parallel()

	a := MustParse("requests[socks]>=2; sys_platform == 'win32'")
	b := MustParse("Requests[security,socks]")
	m, err := Merge(a, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"security", "socks"}, m.Extras)
	assert.Nil(t, m.Marker, "unconditional requirer absorbs the marker")

	c := MustParse("requests; python_version < '3'")
	m2, err := Merge(a, c)
	require.NoError(t, err)
	require.NotNil(t, m2.Marker)
	assert.True(t, m2.Marker.Evaluate(marker.Environment{"python_version": "2.7"}))
	assert.True(t, m2.Marker.Evaluate(marker.Environment{"sys_platform": "win32", "python_version": "3.9"}))
	assert.False(t, m2.Marker.Evaluate(marker.Environment{"sys_platform": "linux", "python_version": "3.9"}))
}

func TestMerge_Conflict(t *testing.T) {
	t.Parallel()

	_, err := Merge(MustParse("p>=2"), MustParse("p<2"))
	require.Error(t, err)
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "p", ce.Name)
	assert.Equal(t, ">=2,<2", ce.Constraint.String())
	assert.Contains(t, err.Error(), "no version of p satisfies")
}

func TestMerge_SourceConflict(t *testing.T) {
	t.Parallel()

	a := MustParse("-e ./one#egg=pkg")
	b := MustParse("-e ./two#egg=pkg")
	_, err := Merge(a, b)
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"./one#egg=pkg", "./two#egg=pkg"}, ce.Sources)
}

func TestMerge_SameSourceDifferentSpelling(t *testing.T) {
	t.Parallel()

	plain := MustParse("-e ./pkg")
	plain.Name = "pkg"
	egg := MustParse("-e ./pkg#egg=pkg")
	merged, err := Merge(plain, egg)
	require.NoError(t, err)
	assert.Equal(t, "./pkg", merged.Source.Identity())
	assert.NotEqual(t, plain.Source.Locator(), egg.Source.Locator())

	vcs := MustParse("git+https://example.com/r.git@v1#egg=r")
	vcsBare := MustParse("r @ git+https://example.com/r.git@v1")
	assert.Equal(t, "git+https://example.com/r.git@v1", vcs.Source.Identity())
	_, err = Merge(vcs, vcsBare)
	assert.NoError(t, err)
}

func TestMerge_NonIndexSourceWins(t *testing.T) {
	t.Parallel()

	edit := MustParse("-e ./pkg#egg=pkg")
	plain := MustParse("pkg>=1")
	ab, err := Merge(edit, plain)
	require.NoError(t, err)
	ba, err := Merge(plain, edit)
	require.NoError(t, err)
	assert.True(t, ab.Equal(ba))
	assert.Equal(t, SourceEditable, ab.Source.Kind)
	assert.Equal(t, ">=1", ab.Constraint.String())
}

func TestMerge_NamesMustMatch(t *testing.T) {
	t.Parallel()
	_, err := Merge(MustParse("a"), MustParse("b"))
	assert.Error(t, err)
}

func TestMerge_Associative(t *testing.T) {
	t.Parallel()

	a := MustParse("pkg[x]>=1; os_name == 'nt'")
	b := MustParse("pkg[y]<3")
	c := MustParse("pkg!=2.0; python_version < '3'")

	ab, err := Merge(a, b)
	require.NoError(t, err)
	left, err := Merge(ab, c)
	require.NoError(t, err)

	bc, err := Merge(b, c)
	require.NoError(t, err)
	right, err := Merge(a, bc)
	require.NoError(t, err)

	assert.True(t, left.Equal(right), "%s != %s", left, right)

	ca, err := Merge(c, a)
	require.NoError(t, err)
	swapped, err := Merge(ca, b)
	require.NoError(t, err)
	assert.True(t, left.Equal(swapped), "commutative: %s != %s", left, swapped)
}

func TestMerge_AssociativeConflict(t *testing.T) {
	t.Parallel()

	a := MustParse("p>=2")
	b := MustParse("p<3")
	c := MustParse("p<2")

	ab, err := Merge(a, b)
	require.NoError(t, err)
	_, err = Merge(ab, c)
	assert.Error(t, err)

	bc, err := Merge(b, c)
	require.NoError(t, err)
	_, err = Merge(a, bc)
	assert.Error(t, err)
}

// =============================================================================
// Parsing
// =============================================================================

func TestParse_Specifiers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line       string
		name       string
		constraint string
		extras     []string
		marker     bool
	}{
		{"six==1.10.0", "six", "==1.10.0", nil, false},
		{"small_fake_a==0.1  # pinned", "small-fake-a", "==0.1", nil, false},
		{"six>1.0b0,<1.0b0", "six", ">1.0b0,<1.0b0", nil, false},
		{"requests[Security, socks] (>=2.0)", "requests", ">=2.0", []string{"security", "socks"}, false},
		{"unknown_package==0.1; python_version == '1'", "unknown-package", "==0.1", nil, true},
		{"pytz", "pytz", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			r, err := Parse(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.name, r.Name)
			assert.Equal(t, tt.constraint, r.Constraint.String())
			assert.Equal(t, tt.extras, r.Extras)
			assert.Equal(t, tt.marker, r.Marker != nil)
			assert.True(t, r.Source.IsIndex())
		})
	}
}

func TestParse_Editable(t *testing.T) {
	t.Parallel()

	r, err := Parse("-e ./small_fake_package")
	require.NoError(t, err)
	assert.Equal(t, "", r.Name)
	assert.Equal(t, SourceEditable, r.Source.Kind)
	assert.Equal(t, "./small_fake_package", r.Source.Path)
	assert.True(t, r.Source.Mutable())
	assert.Equal(t, "-e ./small_fake_package", r.String())

	r, err = Parse("--editable=git+https://example.com/repo.git@main#egg=Fake_Pkg")
	require.NoError(t, err)
	assert.Equal(t, "fake-pkg", r.Name)
	assert.Equal(t, SourceVCS, r.Source.Kind)
	assert.True(t, r.Source.Editable)
	assert.Equal(t, "main", r.Source.Ref)
}

func TestParse_VCS(t *testing.T) {
	t.Parallel()

	commit := "0123456789abcdef0123456789abcdef01234567"
	r, err := Parse("git+https://example.com/org/repo.git@" + commit + "#egg=repo")
	require.NoError(t, err)
	assert.Equal(t, "repo", r.Name)
	assert.Equal(t, "git+https://example.com/org/repo.git", r.Source.URL)
	assert.Equal(t, commit, r.Source.Ref)
	assert.False(t, r.Source.Mutable())

	r, err = Parse("pkg @ git+ssh://git@example.com/org/pkg.git")
	require.NoError(t, err)
	assert.Equal(t, "pkg", r.Name)
	assert.Equal(t, "", r.Source.Ref)
	assert.Equal(t, "git+ssh://git@example.com/org/pkg.git", r.Source.URL)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()
	for _, line := range []string{
		"",
		"# just a comment",
		"-e",
		"six==",
		"six; bogus == '1'",
		"git+https://example.com/repo.git",
		"!!!",
	} {
		_, err := Parse(line)
		assert.Error(t, err, "line %q", line)
	}
}

func TestRequirement_String(t *testing.T) {
	t.Parallel()

	r := New("Six", version.MustParseConstraint("==1.10.0"))
	assert.Equal(t, "six==1.10.0", r.String())

	r = MustParse("requests[socks]>=2; sys_platform == 'win32'")
	assert.Equal(t, `requests[socks]>=2; sys_platform == "win32"`, r.String())

	reparsed := MustParse(r.String())
	assert.True(t, r.Equal(reparsed))
}
