// Package governor bounds resource usage: a fixed worker pool executes
// admitted jobs, a token bucket limits submission rate, and a bounded queue
// rejects overload instead of buffering it. It also owns the per-job cancel
// registry and the compute tier probe.
package governor
