package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/conneroisu/texwork/internal/logging"
)

// StandardFlags provides consistent flag definitions across commands
type StandardFlags struct {
	OutputFormat string `flag:"output,o" desc:"Output format (table|json|yaml)" default:"table"`
	Verbose      bool   `flag:"verbose,v" desc:"Enable verbose output" default:"false"`
	Quiet        bool   `flag:"quiet,q" desc:"Suppress output" default:"false"`
}

// AddStandardFlags adds standard flags to a command
func AddStandardFlags(cmd *cobra.Command, flagTypes ...string) *StandardFlags {
	flags := &StandardFlags{}

	for _, flagType := range flagTypes {
		switch flagType {
		case "output":
			addOutputFlags(cmd, flags)
		case "verbosity":
			addVerbosityFlags(cmd, flags)
		}
	}

	return flags
}

func addOutputFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringVarP(&flags.OutputFormat, "output", "o", "table", "Output format (table|json|yaml)")
	AddFlagValidation(cmd.Flags().Lookup("output"), ValidateOneOf("table", "json", "yaml"))
}

func addVerbosityFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Stream toolchain output and show graph changes")
	cmd.Flags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Only report failures")
}

// ValidateFlags validates flag combinations and values
func (f *StandardFlags) ValidateFlags() error {
	if f.Quiet && f.Verbose {
		return fmt.Errorf("cannot specify both --quiet and --verbose")
	}
	return nil
}

// AddFlagValidation wraps flag so that every value set on it is validated
// first.
func AddFlagValidation(flag *pflag.Flag, validator func(string) error) {
	if flag == nil {
		return
	}
	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidateOneOf accepts only the given values.
func ValidateOneOf(allowed ...string) func(string) error {
	return func(val string) error {
		for _, a := range allowed {
			if val == a {
				return nil
			}
		}
		return fmt.Errorf("invalid value %q, must be one of: %s", val, strings.Join(allowed, ", "))
	}
}

// ValidateLogLevel accepts the names understood by logging.ParseLevel.
func ValidateLogLevel(val string) error {
	_, err := logging.ParseLevel(val)
	return err
}

// ValidateFileExists rejects paths that do not exist. Empty is valid for
// optional arguments.
func ValidateFileExists(filename string) error {
	if filename == "" {
		return nil
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", filename)
	}
	return nil
}
