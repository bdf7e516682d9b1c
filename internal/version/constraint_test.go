package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Clauses
// =============================================================================

func TestParseClause_Operators(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in string
		op Op
	}{
		{"==1.0", OpEqual},
		{"!=1.0", OpNotEqual},
		{"<1.0", OpLess},
		{"<=1.0", OpLessEqual},
		{">1.0", OpGreater},
		{">= 1.0", OpGreaterEqual},
		{"~=1.0", OpCompatible},
		{"===1.0", OpArbitrary},
	}
	for _, tt := range tests {
		c, err := ParseClause(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.op, c.Op, tt.in)
	}
}

func TestParseClause_Errors(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"1.0", "==", ">=1.*", "~=1", "==abc"} {
		_, err := ParseClause(in)
		assert.Error(t, err, in)
	}
}

func TestClause_Check(t *testing.T) {
	t.Parallel()

	tests := []struct {
		clause string
		v      string
		want   bool
	}{
		{"==1.4.*", "1.4.7", true},
		{"==1.4.*", "1.5", false},
		{"!=1.4.*", "1.5", true},
		{"!=1.4.*", "1.4.0", false},
		{"~=2.2", "2.3", true},
		{"~=2.2", "3.0", false},
		{"~=2.2", "2.1", false},
		{"~=1.4.5", "1.4.9", true},
		{"~=1.4.5", "1.5.0", false},
		{"===1.0", "1.0", true},
		{"===1.0", "1.0.0", false},
		{">1.0b0", "1.0", true},
		{"<1.0b0", "1.0a1", true},
		{"<=1.0", "1.0.0", true},
	}
	for _, tt := range tests {
		c, err := ParseClause(tt.clause)
		require.NoError(t, err)
		assert.Equal(t, tt.want, c.Check(MustParse(tt.v)), "%s vs %s", tt.clause, tt.v)
	}
}

func TestClause_CheckExclusiveOrdering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		clause string
		v      string
		want   bool
	}{
		{"<2.0", "2.0b1", false},
		{"<2.0", "2.0.dev0", false},
		{"<2.0", "1.9", true},
		{"<2.0", "1.9rc1", true},
		{"<2.0b2", "2.0b1", true},
		{">1.0", "1.0.post1", false},
		{">1.0", "1.0+local.1", false},
		{">1.0", "1.0.1", true},
		{">1.0.post1", "1.0.post2", true},
		{"==1.0", "1.0+local.1", true},
		{"==1.0+local.1", "1.0+local.2", false},
		{"!=1.0", "1.0+local.1", false},
		{"<=1.0", "1.0+local.1", true},
		{">=1.0", "1.0+local.1", true},
	}
	for _, tt := range tests {
		c, err := ParseClause(tt.clause)
		require.NoError(t, err)
		assert.Equal(t, tt.want, c.Check(MustParse(tt.v)), "%s vs %s", tt.clause, tt.v)
	}
}

// =============================================================================
// Constraints
// =============================================================================

func TestParseConstraint_Canonical(t *testing.T) {
	t.Parallel()

	a := MustParseConstraint("<3, >=1.2,!=1.5")
	b := MustParseConstraint("!=1.5,>=1.2,<3,>=1.2")
	assert.Equal(t, ">=1.2,!=1.5,<3", a.String())
	assert.True(t, a.Equal(b))
	assert.Len(t, b.Clauses(), 3)
}

func TestParseConstraint_Empty(t *testing.T) {
	t.Parallel()
	c, err := ParseConstraint("  ")
	require.NoError(t, err)
	assert.True(t, c.IsAny())
	assert.Equal(t, "", c.String())
	assert.True(t, c.Check(MustParse("0.0.1a1")))
}

func TestConstraint_IntersectAlgebra(t *testing.T) {
	t.Parallel()

	a := MustParseConstraint(">=1.0")
	b := MustParseConstraint("<2.0,!=1.3")
	c := MustParseConstraint("~=1.2")

	assert.Equal(t, a.Intersect(b).String(), b.Intersect(a).String(), "commutative")
	assert.Equal(t,
		a.Intersect(b).Intersect(c).String(),
		a.Intersect(b.Intersect(c)).String(), "associative")
	assert.Equal(t, a.String(), a.Intersect(a).String(), "idempotent")
	assert.Equal(t, a.String(), a.Intersect(Any()).String(), "identity")
}

func TestConstraint_Check(t *testing.T) {
	t.Parallel()

	c := MustParseConstraint(">=1.2,<2,!=1.5")
	assert.True(t, c.Check(MustParse("1.2")))
	assert.True(t, c.Check(MustParse("1.9.9")))
	assert.False(t, c.Check(MustParse("1.5")))
	assert.False(t, c.Check(MustParse("2.0")))
	assert.False(t, c.Check(MustParse("1.1")))
}

func TestConstraint_Empty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in    string
		empty bool
	}{
		{">=2,<2", true},
		{">=2,<1", true},
		{">1.0b0,<1.0b0", true},
		{"==1.0,==2.0", true},
		{"==1.0,!=1.0", true},
		{"==1.0,>=2", true},
		{">=1,<=1,!=1", true},
		{"~=1.4.2,>=1.5", true},
		{"==1.4.*,>=1.5", true},
		{"===1.0,===2.0", true},
		{">=1,<=1", false},
		{"==1.5,>=1,<2", false},
		{"==1.0,==1.0.0", false},
		{">=1.0", false},
		{">1.0,<1.0.1", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.empty, MustParseConstraint(tt.in).Empty())
		})
	}
}

func TestConstraint_PinnedVersion(t *testing.T) {
	t.Parallel()

	v, ok := MustParseConstraint("==1.10.0").PinnedVersion()
	require.True(t, ok)
	assert.Equal(t, "1.10.0", v.String())

	_, ok = MustParseConstraint("==1.*").PinnedVersion()
	assert.False(t, ok)
	_, ok = MustParseConstraint(">=1").PinnedVersion()
	assert.False(t, ok)

	assert.Equal(t, "==2017.2", Exact(MustParse("2017.2")).String())
}
