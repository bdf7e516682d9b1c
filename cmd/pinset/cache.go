package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jward/pinset"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the resolution cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached lookup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(func(e *pinset.Engine) error {
				if err := e.ClearCache(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "Cleared resolution cache.")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "forget NAME...",
		Short: "Remove the cached lookups of the named packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(func(e *pinset.Engine) error {
				return e.Forget(args...)
			})
		},
	})
	return cmd
}

// withEngine opens the cache without an index; only cache maintenance is
// possible through it.
func (a *app) withEngine(fn func(*pinset.Engine) error) error {
	path, err := a.cachePath()
	if err != nil {
		return err
	}
	e, err := pinset.New(path, nil, pinset.WithLogger(a.log))
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer e.Close()
	return fn(e)
}
