// Package internal contains the implementation packages of htmlforge.
//
// # Package Organization
//
// Packages are listed in pipeline order:
//
//   - bundler: outer build with entry points, assets and lifecycle hooks
//   - loader: turns an html template into a sandbox module
//   - childcompiler: nested template compilation sessions and their cache
//   - sandbox: evaluates compiled modules and renders template functions
//   - assets: groups entry point files into scripts and stylesheets
//   - tags: tag descriptors, serialization and injection
//   - plugin: the render pipeline tying the above together
//   - server, watcher: development server and file watching
//   - config, logging, metrics, errors, hooks, version: shared plumbing
//
// # Design Principles
//
// Every blocking entry point takes a context.Context. Errors are
// *errors.PipelineError values matched with errors.Is by kind. Components
// log through logging.Logger and never write to stdout.
package internal
