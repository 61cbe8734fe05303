// Package commands implements the lumaview command line.
package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lumaview/lumaview/internal/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
)

// NewRootCmd builds the command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "lumaview",
		Short: "lumaview - image browser with a decoded-image cache",
		Long: `lumaview browses a directory of images. Decoded images are kept in a
byte-budgeted LRU cache, pixel buffers come from a tiered pool, and the
neighbours of the current image are decoded ahead of time.

Use "lumaview [command] --help" for more information about a command.`,
		Version:       Version + " (" + Commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	loadConfig := func() (*config.Configuration, error) {
		return config.Load(cfgFile)
	}

	rootCmd.AddCommand(newBrowseCmd(loadConfig))
	rootCmd.AddCommand(newBenchCmd(loadConfig))
	rootCmd.AddCommand(newConfigCmd(loadConfig))
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
