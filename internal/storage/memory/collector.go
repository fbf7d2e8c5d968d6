package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/bulk-result-crawler/internal/results"
)

// Collector accumulates records per run in append order.
type Collector struct {
	mu      sync.Mutex
	records map[string][]results.ResultRecord
}

// NewCollector constructs an empty Collector.
func NewCollector() *Collector {
	return &Collector{records: make(map[string][]results.ResultRecord)}
}

// Append implements results.Collector.
func (c *Collector) Append(_ context.Context, runID string, rec results.ResultRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[runID] = append(c.records[runID], rec)
	return nil
}

// Records returns a copy of the records collected for runID.
func (c *Collector) Records(_ context.Context, runID string) ([]results.ResultRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]results.ResultRecord, len(c.records[runID]))
	copy(out, c.records[runID])
	return out, nil
}
