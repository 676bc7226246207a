// Package internal contains the core implementation packages for texwork.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - paths: Include candidate resolution and artifact path derivation
//   - root: Root document resolution through an ordered strategy chain
//   - depgraph: Include graph scanning with the watched set as visited set
//   - watcher: fsnotify-backed watched set with debounced events
//   - toolchain: Step materialisation and process execution
//   - session: The build session actor tying everything together
//   - logparse: TeX output diagnostics
//   - cleaner: Auxiliary file removal
//   - config, logging, errors, version: Ambient infrastructure
//
// # Inter-Package Communication
//
//   - The session owns the root file, the graph, the watcher and the child process
//   - The watcher posts debounced events to the session, never mutating state itself
//   - The graph subscribes discovered includes through the WatchSet interface
//   - Step outcomes travel back to the session as values on a channel
//
// For detailed documentation, see the individual package documentation.
package internal
