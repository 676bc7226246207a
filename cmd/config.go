package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/texwork/internal/config"
	"github.com/conneroisu/texwork/internal/toolchain"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect texwork configuration",
	Long: `Inspect the texwork configuration.

Examples:
  texwork config show                  # Show the resolved configuration
  texwork config show --output json    # Show in JSON format
  texwork config validate              # Validate the configuration`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the configuration after loading the config file, applying
environment variable overrides and filling in defaults.`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long: `Load the configuration and check it for errors. The toolchain entries are
checked the same way a build checks them.`,
	RunE: runConfigValidate,
}

var configFormat string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	configShowCmd.Flags().StringVarP(&configFormat, "output", "o", "yaml", "Output format (yaml, json)")
	AddFlagValidation(configShowCmd.Flags().Lookup("output"), ValidateOneOf("yaml", "yml", "json"))
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), configFormat, cfg, nil)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := validateToolchain(cfg); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "✅ %s is valid (%d toolchain step(s))\n", used, len(cfg.Build.Toolchain))
	} else {
		fmt.Fprintf(out, "✅ Default configuration is valid (%d toolchain step(s))\n", len(cfg.Build.Toolchain))
	}
	return nil
}

// validateToolchain materialises the configured toolchain against a
// placeholder document without reading anything from disk.
func validateToolchain(cfg *config.Config) error {
	_, err := toolchain.Materialize(cfg.Build.Toolchain, "document"+cfg.Source.Extension, toolchain.Options{
		DefaultProgram: cfg.Build.DefaultProgram,
		OutputDir:      cfg.Build.OutputDir,
	})
	if err != nil {
		return fmt.Errorf("invalid toolchain: %w", err)
	}
	return nil
}
