package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pipelined/livefx"
	"github.com/pipelined/livefx/config"
	"github.com/pipelined/livefx/ircache"
)

func newBuildCmd(f *flags) *cobra.Command {
	var (
		options  string
		optLevel int
		locality string
	)
	cmd := &cobra.Command{
		Use:   "build <name> <source>",
		Short: "Compile effect and store it in IR cache",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.load()
			if err != nil {
				return err
			}
			if locality == "" {
				locality = c.Locality
			}
			kind, ok := config.ParseLocality(locality)
			if !ok {
				return fmt.Errorf("unknown locality %q", locality)
			}
			cache, err := ircache.Open(c.IRCacheDir)
			if err != nil {
				return err
			}
			defer cache.Close()

			e := livefx.New(args[0], args[1], kind,
				livefx.WithCompiler(newCompiler(c)),
				livefx.WithCache(cache),
				livefx.WithPaths(paths(c)),
			)
			defer e.Close()
			if err := e.Init(cmd.Context(), options, optLevel, endpoint(c)); err != nil {
				return err
			}
			e.StopWatcher()
			fmt.Fprintf(cmd.OutOrStdout(), "built %s: %v\n", e.Name(), e.Current())
			return nil
		},
	}
	cmd.Flags().StringVarP(&options, "options", "o", "", "compilation options")
	cmd.Flags().IntVarP(&optLevel, "opt-level", "O", 3, "optimization level")
	cmd.Flags().StringVar(&locality, "locality", "", "local or remote")
	return cmd
}
