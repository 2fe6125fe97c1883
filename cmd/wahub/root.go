package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/talkincode/wahub/config"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configFile string
}

func (o *rootOptions) load() (*config.AppConfig, error) {
	return config.LoadConfig(o.configFile)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:          "wahub",
		Short:        "Multi-tenant WhatsApp session server",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "path to the YAML config file")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newPairCmd(opts),
		newResetCmd(opts),
		newTokenCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
