// Package pipeline drives jobs through the reconstruction stage sequence:
// frame extraction, feature detection, matching, sparse mapping, optional
// dense reconstruction, and export. Stage boundaries are the only points
// where job status and progress change.
package pipeline
