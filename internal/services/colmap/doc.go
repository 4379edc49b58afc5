// Package colmap wraps the COLMAP command-line binary, one method per
// reconstruction stage. An Executor seam keeps the pipeline testable without
// a real COLMAP installation.
package colmap
