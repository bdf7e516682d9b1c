package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jward/pinset"
	"github.com/jward/pinset/internal/index"
	"github.com/jward/pinset/internal/marker"
	"github.com/jward/pinset/internal/req"
	"github.com/jward/pinset/internal/reqfile"
	"github.com/jward/pinset/internal/version"
)

const defaultInput = "requirements.in"

func newCompileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile [src-files...]",
		Short: "Compile requirements.in into a pinned requirements.txt",
		Long: "Resolves the requirements in the source files against a package index and writes every\n" +
			"transitive dependency pinned to an exact version. An existing output file supplies the\n" +
			"prior pins, which are kept unless they no longer satisfy or an upgrade is requested.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCompile(cmd, args)
		},
	}
	f := cmd.Flags()
	f.String("index", "", "YAML package index to resolve against")
	f.String("find-links", "", "directory holding release files for digest computation")
	f.StringP("output-file", "o", "", "output file name (default: source file name with .txt)")
	f.BoolP("upgrade", "U", false, "try to upgrade all dependencies to their latest versions")
	f.StringSliceP("upgrade-package", "P", nil, "upgrade the named package, optionally to a version (NAME[==VER])")
	f.Bool("pre", false, "allow resolving to pre-releases")
	f.Bool("generate-hashes", false, "generate pip 8 style hashes in the resulting requirements file")
	f.Bool("annotate", true, "annotate results with the packages that require them")
	f.Bool("no-annotate", false, "do not annotate results")
	f.BoolP("dry-run", "n", false, "only show what would happen, do not change the output file")
	f.BoolP("quiet", "q", false, "do not echo the result")
	f.Bool("rebuild", false, "clear the resolution cache before compiling")
	f.String("python-version", marker.DefaultPythonVersion, "target interpreter version for environment markers")
	f.StringArray("env", nil, "override a marker variable (KEY=VALUE)")
	f.Int("workers", 0, "concurrent index lookups (default: number of CPUs)")
	f.Duration("lookup-timeout", 0, "deadline for every individual index call")
	f.Int("max-rounds", 0, "bound on resolution rounds (default 100)")
	return cmd
}

// compileInputs are the validated arguments of one compile.
type compileInputs struct {
	srcs    []string
	output  string
	upgrade map[string]*version.Version
	env     marker.Environment
}

func (a *app) runCompile(cmd *cobra.Command, args []string) error {
	v := a.v
	in, err := a.compileInputs(cmd, args)
	if err != nil {
		return err
	}

	idxPath := v.GetString("index")
	if idxPath == "" {
		return usageError("--index is required")
	}
	pre := v.GetBool("pre")
	idxOpts := []index.MemoryOption{index.WithPrereleases(pre)}
	if dir := v.GetString("find-links"); dir != "" {
		idxOpts = append(idxOpts, index.WithFilesRoot(dir))
	}
	idx, err := index.LoadFile(idxPath, idxOpts...)
	if err != nil {
		return err
	}

	var roots []pinset.Root
	for _, src := range in.srcs {
		lines, err := readSource(cmd, src)
		if err != nil {
			return err
		}
		roots = append(roots, pinset.Roots("-r "+src, lines)...)
	}

	reg := prometheus.NewRegistry()
	opts := []pinset.Option{
		pinset.WithUpgradeAll(v.GetBool("upgrade")),
		pinset.WithEnvironment(in.env),
		pinset.WithHashes(v.GetBool("generate-hashes")),
		pinset.WithPrereleases(pre),
		pinset.WithLookupTimeout(v.GetDuration("lookup-timeout")),
		pinset.WithLogger(a.log),
		pinset.WithMetrics(reg),
	}
	if n := v.GetInt("workers"); n > 0 {
		opts = append(opts, pinset.WithWorkers(n))
	}
	if n := v.GetInt("max-rounds"); n > 0 {
		opts = append(opts, pinset.WithMaxRounds(n))
	}
	names := make([]string, 0, len(in.upgrade))
	for name, ver := range in.upgrade {
		names = append(names, name)
		opts = append(opts, pinset.WithUpgradePackage(name, ver))
	}
	if !v.GetBool("upgrade") {
		prior, err := readPrior(in.output)
		if err != nil {
			return err
		}
		opts = append(opts, pinset.WithPrior(pinset.WithoutPins(prior, names...)))
	}

	cachePath, err := a.cachePath()
	if err != nil {
		return err
	}
	engine, err := pinset.New(cachePath, idx, opts...)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()
	if v.GetBool("rebuild") {
		if err := engine.ClearCache(); err != nil {
			return err
		}
	}

	res, err := engine.Compile(context.Background(), roots)
	if err != nil {
		return err
	}
	logCacheStats(a, reg)

	var buf bytes.Buffer
	writeRequirements(&buf, res, formatOptions{
		annotate: v.GetBool("annotate") && !v.GetBool("no-annotate"),
		header:   compileCommand(in, v.GetBool("generate-hashes"), pre),
	})

	if v.GetBool("dry-run") {
		if !v.GetBool("quiet") {
			cmd.OutOrStdout().Write(buf.Bytes())
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Dry-run, so nothing updated.")
		return nil
	}
	if err := os.WriteFile(in.output, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", in.output, err)
	}
	if !v.GetBool("quiet") {
		cmd.OutOrStdout().Write(buf.Bytes())
	}
	return nil
}

// compileInputs validates the positional arguments and the flags that
// depend on each other.
func (a *app) compileInputs(cmd *cobra.Command, args []string) (*compileInputs, error) {
	v := a.v
	in := &compileInputs{srcs: args}
	if len(in.srcs) == 0 {
		if _, err := os.Stat(defaultInput); err != nil {
			return nil, usageError("no requirement files given and no %s found in the current directory", defaultInput)
		}
		in.srcs = []string{defaultInput}
	}

	in.output = v.GetString("output-file")
	if in.output == "" {
		switch {
		case len(in.srcs) > 1:
			return nil, usageError("--output-file is required if two or more input files are given.")
		case in.srcs[0] == "-":
			return nil, usageError("--output-file is required if input is from stdin")
		}
		in.output = defaultOutput(in.srcs[0])
	}

	upgrades := v.GetStringSlice("upgrade-package")
	if v.GetBool("upgrade") && len(upgrades) > 0 {
		return nil, usageError("Only one of --upgrade or --upgrade-package can be provided as an argument.")
	}
	in.upgrade = make(map[string]*version.Version, len(upgrades))
	for _, u := range upgrades {
		r, err := req.Parse(u)
		if err != nil {
			return nil, usageError("invalid --upgrade-package %q: %w", u, err)
		}
		if r.Constraint.IsAny() {
			in.upgrade[r.Name] = nil
			continue
		}
		pinned, ok := r.Constraint.PinnedVersion()
		if !ok {
			return nil, usageError("invalid --upgrade-package %q: only NAME or NAME==VERSION is allowed", u)
		}
		in.upgrade[r.Name] = &pinned
	}

	// Marker values may contain commas, so flag values are taken as given
	// rather than through viper's list splitting.
	pairs := v.GetStringSlice("env")
	if f := cmd.Flags().Lookup("env"); f != nil && f.Changed {
		arr, err := cmd.Flags().GetStringArray("env")
		if err != nil {
			return nil, usageError("invalid --env: %w", err)
		}
		pairs = arr
	}
	overrides := make(map[string]string)
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, usageError("invalid --env %q: expected KEY=VALUE", kv)
		}
		overrides[key] = value
	}
	python := v.GetString("python-version")
	if python == "" {
		python = marker.DefaultPythonVersion
	}
	if _, err := version.Parse(python); err != nil {
		return nil, usageError("invalid --python-version: %w", err)
	}
	in.env = marker.DefaultEnvironment().WithPython(python).With(overrides)
	return in, nil
}

// defaultOutput derives the output file from the source file:
// requirements.in → requirements.txt, requirements → requirements.txt.
func defaultOutput(src string) string {
	ext := filepath.Ext(src)
	if ext == ".txt" {
		return src + ".txt"
	}
	return strings.TrimSuffix(src, ext) + ".txt"
}

func readSource(cmd *cobra.Command, src string) ([]reqfile.Line, error) {
	if src == "-" {
		lines, err := reqfile.Parse(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return lines, nil
	}
	return reqfile.ParseFile(src)
}

// readPrior loads the prior pins from an existing output file. A missing
// file means no prior pins.
func readPrior(path string) (map[string]pinset.Candidate, error) {
	lines, err := reqfile.ParseFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading prior pins: %w", err)
	}
	return pinset.PriorPins(lines), nil
}

func (a *app) cachePath() (string, error) {
	dir := a.v.GetString("cache-dir")
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("locating cache dir: %w", err)
		}
		dir = filepath.Join(base, "pinset")
	}
	return filepath.Join(dir, "cache.db"), nil
}

// compileCommand is the command line recorded in the output header.
func compileCommand(in *compileInputs, hashes, pre bool) string {
	parts := []string{"pinset", "compile"}
	if hashes {
		parts = append(parts, "--generate-hashes")
	}
	parts = append(parts, "--output-file", in.output)
	if pre {
		parts = append(parts, "--pre")
	}
	parts = append(parts, in.srcs...)
	return strings.Join(parts, " ")
}

func logCacheStats(a *app, reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		a.log.Error(err, "gather cache metrics")
		return
	}
	for _, f := range families {
		var total float64
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		a.log.V(1).Info("cache stats", "metric", f.GetName(), "value", total)
	}
}
