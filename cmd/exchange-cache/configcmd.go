package main

import (
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with defaults and environment overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			out, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", getEnv("CONFIG_FILE", "exchange-cache.yaml"), "Path to config file")
	return cmd
}
