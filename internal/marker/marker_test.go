package marker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv() Environment {
	return Environment{
		"python_version":  "3.11",
		"sys_platform":    "linux",
		"os_name":         "posix",
		"platform_system": "Linux",
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()
	for _, in := range []string{
		"",
		"python_version",
		"python_version ==",
		"'a' == 'b'",
		"bogus_var == '1'",
		"(python_version == '3'",
		"python_version == '3' and",
		"python_version == '3",
		"python_version not '3'",
	} {
		_, err := Parse(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expr string
		want bool
	}{
		{`python_version == '1'`, false},
		{`python_version >= "3.8"`, true},
		{`python_version < '3'`, false},
		{`python_version ~= '3.9'`, true},
		{`sys_platform == 'win32'`, false},
		{`sys_platform != 'win32'`, true},
		{`'linux' in sys_platform`, true},
		{`'win' not in sys_platform`, true},
		{`os_name == 'nt' or sys_platform == 'linux'`, true},
		{`os_name == 'posix' and python_version < '3'`, false},
		{`(os_name == 'nt' or os_name == 'posix') and python_version > '3.10'`, true},
		{`platform_machine == ''`, true},
		{`os.name == 'posix'`, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			m, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Evaluate(testEnv()))
		})
	}
}

func TestEvaluate_NilMarkerAlwaysTrue(t *testing.T) {
	t.Parallel()
	var m *Marker
	assert.True(t, m.Evaluate(testEnv()))
	assert.True(t, m.EvaluateExtras(testEnv(), []string{"security"}))
	assert.Equal(t, "", m.String())
}

func TestEvaluateExtras(t *testing.T) {
	t.Parallel()

	m := MustParse(`extra == "Security"`)
	assert.False(t, m.EvaluateExtras(testEnv(), nil))
	assert.True(t, m.EvaluateExtras(testEnv(), []string{"socks", "security"}))
	assert.False(t, m.EvaluateExtras(testEnv(), []string{"socks"}))
}

func TestOr(t *testing.T) {
	t.Parallel()

	a := MustParse(`sys_platform == 'win32'`)
	b := MustParse(`python_version < '3'`)

	ab := Or(a, b)
	ba := Or(b, a)
	assert.True(t, ab.Equal(ba), "disjunction is commutative")
	assert.Equal(t, ab.String(), Or(ab, a).String(), "duplicate terms collapse")
	assert.False(t, ab.Evaluate(testEnv()))

	assert.Nil(t, Or(a, nil), "absent marker absorbs")
	assert.Nil(t, Or(nil, b))

	c := MustParse(`os_name == 'posix'`)
	assert.True(t, Or(ab, c).Evaluate(testEnv()))
	assert.Equal(t,
		Or(Or(a, b), c).String(),
		Or(a, Or(b, c)).String(), "disjunction is associative")
}

func TestString_Canonical(t *testing.T) {
	t.Parallel()

	m := MustParse(`os_name=='nt' or (sys_platform == 'linux' and python_version >= '3')`)
	assert.Equal(t, `os_name == "nt" or sys_platform == "linux" and python_version >= "3"`, m.String())
	reparsed, err := Parse(m.String())
	require.NoError(t, err)
	assert.True(t, m.Equal(reparsed))
}

func TestEnvironment_With(t *testing.T) {
	t.Parallel()

	base := testEnv()
	over := base.With(map[string]string{"python_version": "2.7"})
	assert.Equal(t, "2.7", over["python_version"])
	assert.Equal(t, "3.11", base["python_version"], "base is not modified")
	assert.True(t, MustParse(`python_version < '3'`).Evaluate(over))
}

func TestDefaultEnvironment(t *testing.T) {
	t.Parallel()
	env := DefaultEnvironment()
	assert.NotEmpty(t, env["sys_platform"])
	assert.NotEmpty(t, env["os_name"])
	assert.Equal(t, "3.12", env["python_version"])
	assert.Equal(t, "CPython", env["platform_python_implementation"])
	assert.True(t, MustParse(`python_version >= '3'`).Evaluate(env))
	assert.False(t, MustParse(`python_version < '3'`).Evaluate(env))
}

func TestEnvironment_WithPython(t *testing.T) {
	t.Parallel()
	env := DefaultEnvironment().WithPython("2.7.18")
	assert.Equal(t, "2.7", env["python_version"])
	assert.Equal(t, "2.7.18", env["python_full_version"])
	assert.True(t, MustParse(`python_version < '3'`).Evaluate(env))

	env = Environment{}.WithPython("3.9")
	assert.Equal(t, "3.9", env["python_version"])
	assert.Equal(t, "3.9", env["python_full_version"])
}
