package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/texwork/internal/config"
	"github.com/conneroisu/texwork/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "texwork",
	Short: "Build pipeline for TeX documents",
	Long: `texwork finds the root of a TeX document tree, keeps the include graph
under watch and drives a configurable toolchain (compiler, bibliography tool,
compiler) to produce the output artifact.

Quick Start:
  texwork build chapter.tex       Build the document chapter.tex belongs to
  texwork watch chapter.tex       Rebuild whenever the document is saved
  texwork root chapter.tex        Show which file is the compilation root
  texwork deps                    Show the include graph
  texwork clean                   Remove auxiliary files

Magic comments:
  %!TeX root = ../main.tex        Declare the root from an included file
  %!TeX program = xelatex         Choose the compiler for empty toolchain commands`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .texwork.yml, can also use TEXWORK_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("log-dir", "", "also write logs to a dated file in this directory")
	rootCmd.PersistentFlags().StringP("workspace", "w", "", "workspace directory scanned for root documents (default \".\")")

	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("log-dir", rootCmd.PersistentFlags().Lookup("log-dir"))
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))

	AddFlagValidation(rootCmd.PersistentFlags().Lookup("log-level"), ValidateLogLevel)
	AddFlagValidation(rootCmd.PersistentFlags().Lookup("log-format"), ValidateOneOf("text", "json"))
}

// initConfig initializes the configuration system.
//
// Configuration Loading Priority (highest to lowest):
//  1. --config flag: Explicitly specified config file path
//  2. TEXWORK_CONFIG_FILE environment variable: Custom config file path
//  3. Default: .texwork.yml in current directory
//
// Every key can also be set through the environment with the TEXWORK_
// prefix, dots replaced by underscores (TEXWORK_BUILD_OUTPUT_DIR=out).
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("TEXWORK_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".texwork")
	}

	viper.SetEnvPrefix("TEXWORK")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	// A missing config file is fine; defaults apply.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig loads the configuration and wraps failures for display.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the command logger from the logging flags. The returned
// close function releases the log file, if any.
func newLogger() (logging.Logger, func(), error) {
	level, err := logging.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, nil, err
	}

	logConfig := logging.DefaultConfig()
	logConfig.Level = level
	logConfig.Format = viper.GetString("log-format")

	logger := logging.Logger(logging.NewLogger(logConfig))

	logDir := viper.GetString("log-dir")
	if logDir == "" {
		return logger, func() {}, nil
	}

	fileLogger, err := logging.NewFileLogger(logConfig, logDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create file logger: %w", err)
	}
	closeFn := func() { _ = fileLogger.Close() }
	return logging.NewMultiLogger(logger, fileLogger), closeFn, nil
}
