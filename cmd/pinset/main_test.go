package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIndex = filepath.Join("..", "..", "testdata", "index.yaml")

type cliResult struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// workspace writes requirements.in with content into a temp dir and
// returns the dir and the common compile arguments.
func workspace(t *testing.T, content string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "requirements.in")
	require.NoError(t, os.WriteFile(src, []byte(content), 0o644))
	return dir, []string{
		"compile",
		"--index", testIndex,
		"--cache-dir", filepath.Join(dir, "cache"),
		"--output-file", filepath.Join(dir, "requirements.txt"),
		src,
	}
}

func readOutput(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "requirements.txt"))
	require.NoError(t, err)
	return string(data)
}

// =============================================================================
// compile
// =============================================================================

func TestCompile_DryRunFiltersMarkers(t *testing.T) {
	t.Parallel()
	dir, args := workspace(t, "six==1.10.0\nunknown_package==0.1; python_version == '1'\n")

	out := runCLI(t, "", append(args, "-n")...)
	require.Equal(t, 0, out.code, out.stderr)
	assert.Contains(t, out.stdout, "six==1.10.0")
	assert.NotContains(t, out.stdout, "unknown_package")
	assert.Contains(t, out.stderr, "Dry-run, so nothing updated.")
	assert.NoFileExists(t, filepath.Join(dir, "requirements.txt"))
}

func TestCompile_QuietDryRunPrintsOnlyNotice(t *testing.T) {
	t.Parallel()
	_, args := workspace(t, "six\n")

	out := runCLI(t, "", append(args, "-n", "-q")...)
	require.Equal(t, 0, out.code, out.stderr)
	assert.Empty(t, out.stdout)
	assert.Contains(t, out.stderr, "Dry-run, so nothing updated.")
}

func TestCompile_WritesAnnotatedOutput(t *testing.T) {
	t.Parallel()
	dir, args := workspace(t, "small-fake-with-deps\n")

	out := runCLI(t, "", append(args, "-q")...)
	require.Equal(t, 0, out.code, out.stderr)
	assert.Empty(t, out.stdout)

	got := readOutput(t, dir)
	assert.True(t, strings.HasPrefix(got, "#\n# This file is autogenerated by pinset\n# To update, run:\n"))
	assert.Contains(t, got, "six==1.10.0               # via small-fake-with-deps\n")
	assert.Contains(t, got, "small-fake-with-deps==0.1  # via -r ")

	out = runCLI(t, "", append(args, "--no-annotate")...)
	require.Equal(t, 0, out.code, out.stderr)
	assert.Contains(t, readOutput(t, dir), "\nsix==1.10.0\n")
}

func TestCompile_KeepsAndUpgradesPriorPins(t *testing.T) {
	t.Parallel()
	dir, args := workspace(t, "six\nidna\n")
	prior := "six==1.9.0\nidna==2.6\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte(prior), 0o644))

	out := runCLI(t, "", args...)
	require.Equal(t, 0, out.code, out.stderr)
	got := readOutput(t, dir)
	assert.Contains(t, got, "six==1.9.0")
	assert.Contains(t, got, "idna==2.6")

	out = runCLI(t, "", append(args, "-P", "six")...)
	require.Equal(t, 0, out.code, out.stderr)
	got = readOutput(t, dir)
	assert.Contains(t, got, "six==1.10.0")
	assert.Contains(t, got, "idna==2.6")

	out = runCLI(t, "", append(args, "--upgrade-package", "six==1.9.0")...)
	require.Equal(t, 0, out.code, out.stderr)
	assert.Contains(t, readOutput(t, dir), "six==1.9.0")

	out = runCLI(t, "", append(args, "-U")...)
	require.Equal(t, 0, out.code, out.stderr)
	got = readOutput(t, dir)
	assert.Contains(t, got, "six==1.10.0")
	assert.Contains(t, got, "idna==2.7")
}

func TestCompile_GenerateHashes(t *testing.T) {
	t.Parallel()
	dir, args := workspace(t, "pytz==2017.2\n-e ./small_fake_package\n")

	out := runCLI(t, "", append(args, "--generate-hashes", "--no-annotate")...)
	require.Equal(t, 0, out.code, out.stderr)
	got := readOutput(t, dir)

	assert.Contains(t, got, "#    pinset compile --generate-hashes --output-file ")
	assert.Contains(t, got, "#\n-e ./small_fake_package\n")
	assert.Contains(t, got, "pytz==2017.2 \\\n"+
		"    --hash=sha256:d1d6729c85acea5423671382868627129432fba9a89ecbb248d8d1c7a9f01c67 \\\n"+
		"    --hash=sha256:f5c056e8f62d45ba8215e5cb8f50dfccb198b4b9fbea8500674f3443e4689589\n")
	assert.Less(t, strings.Index(got, "-e ./small_fake_package"), strings.Index(got, "pytz=="))
}

func TestCompile_EnvironmentOverride(t *testing.T) {
	t.Parallel()
	_, args := workspace(t, "small-fake-windows\n")

	out := runCLI(t, "", append(args, "-n", "--env", "sys_platform=linux")...)
	require.Equal(t, 0, out.code, out.stderr)
	assert.NotContains(t, out.stdout, "pywin32")

	out = runCLI(t, "", append(args, "-n", "--env", "sys_platform=win32")...)
	require.Equal(t, 0, out.code, out.stderr)
	assert.Contains(t, out.stdout, "pywin32==223")

	out = runCLI(t, "", append(args, "-n", "--env", "sys_platform")...)
	assert.Equal(t, 2, out.code)
	assert.Contains(t, out.stderr, "expected KEY=VALUE")
}

func TestCompile_EnvironmentValueWithComma(t *testing.T) {
	t.Parallel()
	_, args := workspace(t, "platform-gated\n")

	out := runCLI(t, "", append(args, "-n", "--env", "platform_version=#1 SMP, x86")...)
	require.Equal(t, 0, out.code, out.stderr)
	assert.Contains(t, out.stdout, "pytz==2017.2")
}

func TestCompile_PythonVersionMarkers(t *testing.T) {
	t.Parallel()
	_, args := workspace(t, "six; python_version >= '3'\npytz; python_version < '3'\n")

	out := runCLI(t, "", append(args, "-n")...)
	require.Equal(t, 0, out.code, out.stderr)
	assert.Contains(t, out.stdout, "six==1.10.0")
	assert.NotContains(t, out.stdout, "pytz")

	out = runCLI(t, "", append(args, "-n", "--python-version", "2.7.18")...)
	require.Equal(t, 0, out.code, out.stderr)
	assert.Contains(t, out.stdout, "pytz==2017.2")
	assert.NotContains(t, out.stdout, "six")

	out = runCLI(t, "", append(args, "-n", "--python-version", "three")...)
	assert.Equal(t, 2, out.code)
}

func TestCompile_Stdin(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	out := runCLI(t, "six\n", "compile", "--index", testIndex, "--cache-dir", dir, "-")
	assert.Equal(t, 2, out.code)
	assert.Contains(t, out.stderr, "--output-file is required if input is from stdin")

	out = runCLI(t, "six\n", "compile", "--index", testIndex, "--cache-dir", dir, "-n",
		"-o", filepath.Join(dir, "requirements.txt"), "-")
	require.Equal(t, 0, out.code, out.stderr)
	assert.Contains(t, out.stdout, "six==1.10.0")
	assert.Contains(t, out.stdout, "# via -r -")
}

// =============================================================================
// Failures
// =============================================================================

func TestCompile_UsageErrors(t *testing.T) {
	t.Parallel()
	dir, args := workspace(t, "six\n")

	out := runCLI(t, "", append(args, "-U", "-P", "six")...)
	assert.Equal(t, 2, out.code)
	assert.Contains(t, out.stderr, "Only one of --upgrade or --upgrade-package can be provided as an argument.")

	out = runCLI(t, "", append(args, "-P", "six>=1")...)
	assert.Equal(t, 2, out.code)

	out = runCLI(t, "", "compile", "--index", testIndex, "--cache-dir", dir, "a.in", "b.in")
	assert.Equal(t, 2, out.code)
	assert.Contains(t, out.stderr, "--output-file is required if two or more input files are given.")

	out = runCLI(t, "", "compile", "--cache-dir", dir, "-o", filepath.Join(dir, "out.txt"), filepath.Join(dir, "requirements.in"))
	assert.Equal(t, 2, out.code)
	assert.Contains(t, out.stderr, "--index is required")

	out = runCLI(t, "", append(args, "--log-level", "loud")...)
	assert.Equal(t, 2, out.code)
}

func TestCompile_ResolutionErrorsExitTwo(t *testing.T) {
	t.Parallel()

	_, args := workspace(t, "six>=1.10\nneeds-old-six\n")
	out := runCLI(t, "", args...)
	assert.Equal(t, 2, out.code)
	assert.Contains(t, out.stderr, "conflicting requirements for six:")
	assert.Contains(t, out.stderr, "six<1.10 (from needs-old-six==1.0)")

	_, args = workspace(t, "django>1.11,<2.0b1\n")
	out = runCLI(t, "", args...)
	assert.Equal(t, 2, out.code)
	assert.Contains(t, out.stderr, "Skipped pre-versions:")

	_, args = workspace(t, "django>2.0b1\n")
	out = runCLI(t, "", append(args, "--pre")...)
	assert.Equal(t, 2, out.code)
	assert.Contains(t, out.stderr, "Tried pre-versions:")
}

// =============================================================================
// Configuration
// =============================================================================

func TestCompile_IndexChangeInvalidatesCache(t *testing.T) {
	t.Parallel()
	dir, _ := workspace(t, "foo\n")
	cacheDir := filepath.Join(dir, "cache")
	out := filepath.Join(dir, "requirements.txt")

	for _, tt := range []struct {
		catalogue string
		extra     []string
		want      string
	}{
		{"packages:\n  foo:\n    - version: \"1.0\"\n", nil, "foo==1.0"},
		{"packages:\n  foo:\n    - version: \"1.0\"\n    - version: \"2.0\"\n", []string{"--upgrade"}, "foo==2.0"},
		{"packages:\n  foo:\n    - version: \"3.0\"\n", []string{"--upgrade"}, "foo==3.0"},
	} {
		idx := filepath.Join(t.TempDir(), "index.yaml")
		require.NoError(t, os.WriteFile(idx, []byte(tt.catalogue), 0o644))
		args := append([]string{"compile", "--index", idx, "--cache-dir", cacheDir, "-o", out,
			filepath.Join(dir, "requirements.in")}, tt.extra...)
		res := runCLI(t, "", args...)
		require.Equal(t, 0, res.code, res.stderr)
		assert.Contains(t, readOutput(t, dir), tt.want)
	}
}

func TestCompile_ConfigFile(t *testing.T) {
	t.Parallel()
	dir, _ := workspace(t, "six\n")
	abs, err := filepath.Abs(testIndex)
	require.NoError(t, err)
	cfg := filepath.Join(dir, "pinset.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("index: "+abs+"\nannotate: false\n"), 0o644))

	out := runCLI(t, "", "compile", "--config", cfg, "--cache-dir", dir, "-n",
		"-o", filepath.Join(dir, "requirements.txt"), filepath.Join(dir, "requirements.in"))
	require.Equal(t, 0, out.code, out.stderr)
	assert.Contains(t, out.stdout, "\nsix==1.10.0\n")

	out = runCLI(t, "", "compile", "--config", filepath.Join(dir, "missing.yaml"), "six")
	assert.Equal(t, 2, out.code)
}

func TestCompile_EnvironmentVariables(t *testing.T) {
	dir, _ := workspace(t, "six\n")
	t.Setenv("PINSET_INDEX", testIndex)
	t.Setenv("PINSET_CACHE_DIR", dir)

	out := runCLI(t, "", "compile", "-n", "-o", filepath.Join(dir, "requirements.txt"), filepath.Join(dir, "requirements.in"))
	require.Equal(t, 0, out.code, out.stderr)
	assert.Contains(t, out.stdout, "six==1.10.0")
}

// =============================================================================
// cache
// =============================================================================

func TestCache_ClearAndForget(t *testing.T) {
	t.Parallel()
	dir, args := workspace(t, "six\n")
	require.Equal(t, 0, runCLI(t, "", args...).code)

	out := runCLI(t, "", "cache", "forget", "six", "--cache-dir", filepath.Join(dir, "cache"))
	require.Equal(t, 0, out.code, out.stderr)

	out = runCLI(t, "", "cache", "clear", "--cache-dir", filepath.Join(dir, "cache"))
	require.Equal(t, 0, out.code, out.stderr)
	assert.Contains(t, out.stderr, "Cleared resolution cache.")
	assert.FileExists(t, filepath.Join(dir, "cache", "cache.db"))
}

func TestDefaultOutput(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "requirements.txt", defaultOutput("requirements.in"))
	assert.Equal(t, "requirements.txt", defaultOutput("requirements"))
	assert.Equal(t, filepath.Join("dev", "test.txt"), defaultOutput(filepath.Join("dev", "test.in")))
}
