package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/crisk-verify/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage crisk configuration",
	Long:  `View, create and validate crisk configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, .env files, CRISK_* environment
variables and the config file have been applied.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with default values",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
}

// runConfigShow prints YAML in the config file layout unless JSON was requested
func runConfigShow(cmd *cobra.Command, args []string) error {
	if outputFormat == "json" {
		return render(cmd.OutOrStdout(), cfg)
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(".crisk", "config.yaml")
	if len(args) == 1 {
		path = args[0]
	}

	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

// runConfigValidate re-runs validation to print warnings; errors already
// stop the root pre-run
func runConfigValidate(cmd *cobra.Command, args []string) error {
	result := cfg.Validate()
	out := cmd.OutOrStdout()
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if result.HasErrors() {
		return result.Err()
	}
	fmt.Fprintln(out, "Configuration is valid")
	return nil
}
