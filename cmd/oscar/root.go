package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aeolun/oscarchat/pkg/client"
)

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "oscar",
		Short:         "OSCAR instant messaging client",
		Long:          "oscar signs on to an OSCAR (AIM/ICQ) service, prints what happens on the session and takes slash commands on stdin.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", client.DefaultConfigPath(), "Path to config file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(&configPath),
		newConnectCmd(&configPath),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "oscar %s\n", Version)
			return err
		},
	}
}
