package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jward/pinset/internal/index"
	"github.com/jward/pinset/internal/req"
	"github.com/jward/pinset/internal/resolver"
)

// exitError carries the process exit status of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// usageError reports an invalid flag combination (exit status 2).
func usageError(format string, args ...any) error {
	return &exitError{code: 2, err: fmt.Errorf(format, args...)}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit status.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", err)
		return exitCode(err)
	}
	return 0
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var (
		conflict *resolver.ConflictError
		lookup   *resolver.LookupError
		merge    *req.ConflictError
		source   *index.SourceResolutionError
	)
	switch {
	case errors.As(err, &conflict), errors.As(err, &lookup), errors.As(err, &merge), errors.As(err, &source),
		errors.Is(err, index.ErrNoCandidates), errors.Is(err, resolver.ErrNoStableResolution):
		return 2
	}
	return 1
}

// app holds state shared by all subcommands.
type app struct {
	v   *viper.Viper
	log logr.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), log: logr.Discard()}
	cmd := &cobra.Command{
		Use:           "pinset",
		Short:         "Pin Python-style package requirements",
		Long:          "pinset resolves top-level requirements into a fully pinned, optionally hash-verified requirements file.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadConfig(cmd); err != nil {
				return err
			}
			return a.setupLogging(cmd)
		},
		// No Run: prints help by default.
	}
	cmd.PersistentFlags().String("config", "", "config file (default: ./pinset.yaml if present)")
	cmd.PersistentFlags().String("log-level", "warn", "log level: debug|info|warn|error")
	cmd.PersistentFlags().String("log-format", "text", "log format: text|json")
	cmd.PersistentFlags().CountP("verbose", "v", "increase log verbosity")
	cmd.PersistentFlags().String("cache-dir", "", "cache directory (default: user cache dir)")

	cmd.AddCommand(newCompileCmd(a))
	cmd.AddCommand(newCacheCmd(a))
	return cmd
}

// loadConfig binds flags, PINSET_* environment variables and the optional
// YAML config file into one viper instance. Flags win over environment,
// which wins over the file.
func (a *app) loadConfig(cmd *cobra.Command) error {
	v := a.v
	v.SetEnvPrefix("PINSET")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return usageError("reading config %s: %w", path, err)
		}
		return nil
	}
	v.SetConfigName("pinset")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return usageError("reading config: %w", err)
		}
	}
	return nil
}

func (a *app) setupLogging(cmd *cobra.Command) error {
	var level slog.Level
	switch a.v.GetString("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return usageError("invalid log level: %s", a.v.GetString("log-level"))
	}
	if a.v.GetInt("verbose") > 0 {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch a.v.GetString("log-format") {
	case "json":
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	case "text":
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	default:
		return usageError("invalid log format: %s", a.v.GetString("log-format"))
	}
	a.log = logr.FromSlogHandler(handler)
	return nil
}
