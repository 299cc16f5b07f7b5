package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/aeolun/oscarchat/pkg/client"
)

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the client config file",
	}
	cmd.AddCommand(newConfigInitCmd(configPath), newConfigShowCmd(configPath))
	return cmd
}

func newConfigInitCmd(configPath *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(*configPath); err == nil {
				if !force {
					return fmt.Errorf("%s already exists (use --force to reset it)", *configPath)
				}
				if err := client.ResetConfigToDefault(*configPath, true); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Reset %s (previous version backed up)\n", *configPath)
				return err
			}
			if _, err := client.LoadClientConfig(*configPath); err != nil {
				return err
			}
			if _, err := os.Stat(*configPath); err != nil {
				return fmt.Errorf("could not write %s: %w", *configPath, err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", *configPath)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config, keeping a dated backup")
	return cmd
}

func newConfigShowCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := client.LoadClientConfig(*configPath)
			if err != nil {
				return err
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}
}
