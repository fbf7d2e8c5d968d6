// Package progress carries run telemetry from the scheduler and runners to
// pluggable sinks. Emitters never block: a Hub buffers events, batches them on
// a background goroutine, and fans each batch out to logs or Prometheus.
package progress
