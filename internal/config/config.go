// Package config provides configuration management for texwork using Viper
// for flexible configuration loading from files, environment variables and
// command-line flags.
//
// The configuration describes the source conventions (extension, magic
// marker name, document-start marker), the toolchain that turns a root
// document into an artifact, and when builds are triggered automatically.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Workspace string          `yaml:"workspace" mapstructure:"workspace"`
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	Build     BuildConfig     `yaml:"build" mapstructure:"build"`
	AutoBuild AutoBuildConfig `yaml:"auto_build" mapstructure:"auto_build"`
	Watch     WatchConfig     `yaml:"watch" mapstructure:"watch"`
}

type SourceConfig struct {
	Extension     string `yaml:"extension" mapstructure:"extension"`
	Marker        string `yaml:"marker" mapstructure:"marker"`
	DocumentStart string `yaml:"document_start" mapstructure:"document_start"`
}

type BuildConfig struct {
	// Toolchain is kept in its raw decoded form; each entry is validated
	// when a build materialises it.
	Toolchain         []interface{} `yaml:"toolchain" mapstructure:"toolchain"`
	OutputDir         string        `yaml:"output_dir" mapstructure:"output_dir"`
	ArtifactExtension string        `yaml:"artifact_extension" mapstructure:"artifact_extension"`
	DefaultProgram    string        `yaml:"default_program" mapstructure:"default_program"`
	CleanAfterBuild   bool          `yaml:"clean_after_build" mapstructure:"clean_after_build"`
	CleanPatterns     []string      `yaml:"clean_patterns" mapstructure:"clean_patterns"`
}

type AutoBuildConfig struct {
	OnSave   bool `yaml:"on_save" mapstructure:"on_save"`
	OnChange bool `yaml:"on_change" mapstructure:"on_change"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

const (
	DefaultExtension         = ".tex"
	DefaultMarker            = "TeX"
	DefaultDocumentStart     = `\begin{document}`
	DefaultOutputDir         = "./"
	DefaultArtifactExtension = ".pdf"
	DefaultProgram           = "pdflatex"
	DefaultDebounce          = 300 * time.Millisecond
)

// DefaultToolchain is used when no toolchain is configured.
func DefaultToolchain() []interface{} {
	return []interface{}{
		map[string]interface{}{
			"command": "latexmk",
			"args": []interface{}{
				"-synctex=1",
				"-interaction=nonstopmode",
				"-file-line-error",
				"-pdf",
				"-outdir=%OUTDIR%",
				"%DOC%",
			},
		},
	}
}

// DefaultCleanPatterns lists the auxiliary files removed by the cleanup hook.
func DefaultCleanPatterns() []string {
	return []string{
		"*.aux", "*.bbl", "*.blg", "*.idx", "*.ind", "*.lof", "*.lot", "*.out",
		"*.toc", "*.acn", "*.acr", "*.alg", "*.glg", "*.glo", "*.gls", "*.ist",
		"*.fls", "*.log", "*.fdb_latexmk", "*.synctex.gz",
	}
}

func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Workspace == "" {
		config.Workspace = "."
	}

	if config.Source.Extension == "" {
		config.Source.Extension = DefaultExtension
	}
	if config.Source.Marker == "" {
		config.Source.Marker = DefaultMarker
	}
	if config.Source.DocumentStart == "" {
		config.Source.DocumentStart = DefaultDocumentStart
	}

	if len(config.Build.Toolchain) == 0 && !viper.IsSet("build.toolchain") {
		config.Build.Toolchain = DefaultToolchain()
	}
	if config.Build.OutputDir == "" {
		config.Build.OutputDir = DefaultOutputDir
	}
	if config.Build.ArtifactExtension == "" {
		config.Build.ArtifactExtension = DefaultArtifactExtension
	}
	if config.Build.DefaultProgram == "" {
		config.Build.DefaultProgram = DefaultProgram
	}
	if len(config.Build.CleanPatterns) == 0 {
		if viper.IsSet("build.clean_patterns") {
			config.Build.CleanPatterns = viper.GetStringSlice("build.clean_patterns")
		}
		if len(config.Build.CleanPatterns) == 0 {
			config.Build.CleanPatterns = DefaultCleanPatterns()
		}
	}

	// Handle bools set via viper (workaround for viper bool handling)
	if viper.IsSet("auto_build.on_save") {
		config.AutoBuild.OnSave = viper.GetBool("auto_build.on_save")
	} else {
		config.AutoBuild.OnSave = true
	}
	if viper.IsSet("auto_build.on_change") {
		config.AutoBuild.OnChange = viper.GetBool("auto_build.on_change")
	}
	if viper.IsSet("build.clean_after_build") {
		config.Build.CleanAfterBuild = viper.GetBool("build.clean_after_build")
	}

	if !viper.IsSet("watch.debounce") {
		config.Watch.Debounce = DefaultDebounce
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// WorkspaceRoot returns the absolute workspace directory.
func (c *Config) WorkspaceRoot() (string, error) {
	return filepath.Abs(c.Workspace)
}

// validateConfig validates configuration values for correctness
func validateConfig(config *Config) error {
	if err := validateSourceConfig(&config.Source); err != nil {
		return fmt.Errorf("source config: %w", err)
	}
	if err := validateBuildConfig(&config.Build); err != nil {
		return fmt.Errorf("build config: %w", err)
	}
	if config.Watch.Debounce < 0 {
		return fmt.Errorf("watch config: debounce %s must not be negative", config.Watch.Debounce)
	}
	return nil
}

func validateSourceConfig(config *SourceConfig) error {
	if !strings.HasPrefix(config.Extension, ".") || len(config.Extension) < 2 {
		return fmt.Errorf("extension %q must start with a dot", config.Extension)
	}
	if strings.ContainsAny(config.Extension, `/\`) {
		return fmt.Errorf("extension %q must not contain path separators", config.Extension)
	}
	if strings.ContainsAny(config.Marker, " \t\n=") {
		return fmt.Errorf("marker %q must be a single word", config.Marker)
	}
	return nil
}

func validateBuildConfig(config *BuildConfig) error {
	if err := validatePath(config.OutputDir); err != nil {
		return fmt.Errorf("invalid output_dir '%s': %w", config.OutputDir, err)
	}
	if !strings.HasPrefix(config.ArtifactExtension, ".") {
		return fmt.Errorf("artifact_extension %q must start with a dot", config.ArtifactExtension)
	}
	for _, pattern := range config.CleanPatterns {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("clean_patterns contains an empty pattern")
		}
		if strings.Contains(filepath.Clean(pattern), "..") {
			return fmt.Errorf("clean pattern contains traversal: %s", pattern)
		}
	}
	return nil
}

// validatePath validates a file path for use as an output location
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(path, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
