package main

import (
	"fmt"

	"github.com/matsen/paperqa/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
	Long: `Inspect configuration.

Settings are layered, later sources winning: built-in defaults, the YAML
config file, the .env file, then environment variables. Each YAML key has
an environment variable of the same name in upper case (top_k -> TOP_K).`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if humanOutput {
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		}
		return outputJSON(cfg)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file in use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ResolvePath(configPath)
		if humanOutput {
			if path == "" {
				fmt.Println("(none; using defaults and environment)")
			} else {
				fmt.Println(path)
			}
			return nil
		}
		status := "found"
		if path == "" {
			status = "none"
		}
		return outputJSON(StatusResponse{Status: status, Path: path})
	},
}
