// Package sinks implements progress consumers for structured logs and
// Prometheus. Each satisfies progress.Sink.
package sinks
