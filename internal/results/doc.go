// Package results defines the core types shared across the result crawler:
// roll jobs, attempt outcomes, scraped result records, run metadata, and the
// interfaces the orchestrator consumes (fetcher, collector, sleeper, clock).
package results
