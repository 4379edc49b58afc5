// Package main hosts the reconstruct CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the reconstruction daemon: job listing, feature database
// inspection and cleanup, sparse model export, and configuration
// scaffolding. The serve command runs the daemon itself in the foreground.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
