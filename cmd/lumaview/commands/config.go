package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/lumaview/lumaview/internal/config"
	lerrors "github.com/lumaview/lumaview/pkg/errors"
)

func newConfigCmd(loadConfig func() (*config.Configuration, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage lumaview configuration",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd(loadConfig))
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init FILE",
		Short: "Write the default configuration to FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return lerrors.NewError(lerrors.ErrCodeInvalidArgument, path+" already exists (use --force to overwrite)")
			}

			if err := config.NewDefault().SaveToFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd(loadConfig func() (*config.Configuration, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return lerrors.Wrap(err, lerrors.ErrCodeInternalError, "failed to render configuration")
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
