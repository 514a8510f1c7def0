// Command livefx builds DSP effects and plays them while their sources
// are edited.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pipelined/livefx"
	"github.com/pipelined/livefx/compiler"
	"github.com/pipelined/livefx/compiler/command"
	"github.com/pipelined/livefx/compiler/remote"
	"github.com/pipelined/livefx/config"
	"github.com/pipelined/livefx/log"
)

var (
	successExitCode = 0
	errorExitCode   = 1
)

// flags shared by all commands.
type flags struct {
	config string
	debug  bool
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "livefx",
		Short:         "Live coding audio effects",
		Long:          "livefx compiles DSP effects, watches their sources and swaps rebuilt effects with a crossfade.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.config, "config", "c", "", "path to yaml config")
	root.PersistentFlags().BoolVar(&f.debug, "debug", false, "enable debug logging")
	root.AddCommand(
		newBuildCmd(f),
		newWatchCmd(f),
		newCacheCmd(f),
	)
	return root
}

// load reads configuration and applies logging settings.
func (f *flags) load() (config.Config, error) {
	c, err := config.Load(f.config)
	if err != nil {
		return c, err
	}
	if f.debug || c.Debug {
		log.SetDebug(true)
	}
	return c, nil
}

func newCompiler(c config.Config) compiler.Compiler {
	return compiler.Dispatcher{
		Local:  command.New(c.Compiler),
		Remote: remote.New(nil),
	}
}

func paths(c config.Config) livefx.Paths {
	return livefx.Paths{
		Library: c.LibraryPath,
		SVG:     c.SVGDir,
		IRCache: c.IRCacheDir,
	}
}

func endpoint(c config.Config) compiler.Endpoint {
	return compiler.Endpoint{Host: c.Remote.Host, Port: c.Remote.Port}
}

func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Command failed: %v\n", err)
		return errorExitCode
	}
	return successExitCode
}

func main() {
	os.Exit(run(os.Args[1:]))
}
