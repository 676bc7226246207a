// Package cmd provides the command-line interface for texwork.
//
// This package implements all CLI commands using the Cobra framework. The
// command line plays the editor's part for the build session: the file named
// on the command line is the focused document, and session events are
// printed to the terminal.
//
// # Available Commands
//
//   - build: Resolve the root document and run the toolchain once
//   - watch: Build, then rebuild on every save (and optionally on every change)
//   - root: Show which document is the compilation root and why
//   - deps: Show the include graph below the root
//   - clean: Remove auxiliary build files
//   - config: Show or validate the resolved configuration
//   - version: Show build information
//
// # Command Examples
//
//	// Build the document a chapter belongs to
//	texwork build chapters/intro.tex
//
//	// Keep rebuilding, also when an included file changes
//	texwork watch --on-change
//
//	// Inspect the include graph
//	texwork deps --output yaml
//
// # Configuration Integration
//
// Commands respect configuration from multiple sources in order of precedence:
//
//  1. Command-line flags (highest priority)
//  2. Environment variables (TEXWORK_*)
//  3. Configuration file (.texwork.yml)
//  4. Default values (lowest priority)
//
// # Error Handling
//
// Configuration errors and programs that cannot be started are reported as
// errors; a failing toolchain step is reported with its exit code and the
// diagnostics parsed from its output. Interrupts (Ctrl+C) terminate the
// running toolchain process before the command exits.
package cmd
