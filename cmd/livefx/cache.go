package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pipelined/livefx/ircache"
)

func newCacheCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage IR cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show cached effects",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCache(f, func(c *ircache.Cache) error {
					names, err := c.Names()
					if err != nil {
						return err
					}
					for _, name := range names {
						e, ok, err := c.Get(name)
						if err != nil {
							return err
						}
						if !ok {
							continue
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%s\t%v\t-O%d\t%s\n", e.Name, e.Options, e.OptLevel, e.BuiltAt.Format("2006-01-02 15:04:05"))
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "rm <name>...",
			Short: "Remove effects from cache",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withCache(f, func(c *ircache.Cache) error {
					for _, name := range args {
						if err := c.Delete(name); err != nil {
							return err
						}
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func withCache(f *flags, fn func(*ircache.Cache) error) error {
	c, err := f.load()
	if err != nil {
		return err
	}
	cache, err := ircache.Open(c.IRCacheDir)
	if err != nil {
		return err
	}
	defer cache.Close()
	return fn(cache)
}
