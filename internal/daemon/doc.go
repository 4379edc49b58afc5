// Package daemon wires the reconstruction service together: it acquires the
// single-instance lock, recovers jobs interrupted by a previous run, probes
// the compute tier, and runs the admission governor and HTTP API until
// shutdown.
package daemon
