// Package metrics exposes Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection state, generation and message rates
//   - Send queue depth and dropped message counts
//   - Recorder batch flushes, insert errors and buffer depth
package metrics
