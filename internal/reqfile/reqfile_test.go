package reqfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/pinset/internal/req"
)

const pinnedOutput = `#
# This file is autogenerated by pinset
#
-e ./small_fake_package
pytz==2017.2 \
    --hash=sha256:d1d6729c85acea5423671382868627129432fba9a89ecbb248d8d1c7a9f01c67 \
    --hash=sha256:f5c056e8f62d45ba8215e5cb8f50dfccb198b4b9fbea8500674f3443e4689589
six==1.10.0               # via small-fake-with-deps
--index-url https://example.com/simple
unknown_package==0.1; python_version == '1'
`

func TestParse_PinnedOutput(t *testing.T) {
	t.Parallel()

	lines, err := Parse(strings.NewReader(pinnedOutput))
	require.NoError(t, err)
	require.Len(t, lines, 4)

	assert.Equal(t, req.SourceEditable, lines[0].Requirement.Source.Kind)
	assert.Equal(t, 4, lines[0].LineNo)

	pytz := lines[1]
	assert.Equal(t, "pytz", pytz.Requirement.Name)
	assert.Equal(t, "==2017.2", pytz.Requirement.Constraint.String())
	assert.Equal(t, 5, pytz.LineNo)
	require.Len(t, pytz.Hashes, 2)
	assert.Equal(t, "sha256:d1d6729c85acea5423671382868627129432fba9a89ecbb248d8d1c7a9f01c67", pytz.Hashes[0].String())

	assert.Equal(t, "six", lines[2].Requirement.Name)
	assert.Equal(t, "six==1.10.0", lines[2].Text)

	assert.NotNil(t, lines[3].Requirement.Marker)
}

func TestParse_InvalidHash(t *testing.T) {
	t.Parallel()
	_, err := Parse(strings.NewReader("six==1.0 --hash=sha256:nothex\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":1:")
}

func TestParse_InvalidRequirementReportsLine(t *testing.T) {
	t.Parallel()
	_, err := Parse(strings.NewReader("six\n\nsix==\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":3:")
}

func TestParse_TrailingContinuation(t *testing.T) {
	t.Parallel()
	lines, err := Parse(strings.NewReader("six==1.10.0 \\"))
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "six", lines[0].Requirement.Name)
}

func TestParseFile_Includes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.in"), []byte("six\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.in"), []byte("-r base.in\npytz\n"), 0o644))

	lines, err := ParseFile(filepath.Join(dir, "requirements.in"))
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "six", lines[0].Requirement.Name)
	assert.Equal(t, filepath.Join(dir, "base.in"), lines[0].File)
	assert.Equal(t, "pytz", lines[1].Requirement.Name)
}

func TestParseFile_IncludeCycle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.in"), []byte("-r b.in\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.in"), []byte("--requirement=a.in\n"), 0o644))

	_, err := ParseFile(filepath.Join(dir, "a.in"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestParseFile_Missing(t *testing.T) {
	t.Parallel()
	_, err := ParseFile(filepath.Join(t.TempDir(), "nope.in"))
	assert.Error(t, err)
}
