// Package storage holds helpers shared by the record collectors.
package storage

import (
	"context"
	"fmt"

	"github.com/JakeFAU/bulk-result-crawler/internal/results"
)

// TeeCollector appends every record to each collector in order. The first
// failure stops the append and is returned.
type TeeCollector struct {
	collectors []results.Collector
}

// Tee builds a TeeCollector, skipping nil entries.
func Tee(collectors ...results.Collector) *TeeCollector {
	t := &TeeCollector{}
	for _, c := range collectors {
		if c != nil {
			t.collectors = append(t.collectors, c)
		}
	}
	return t
}

// Append implements results.Collector.
func (t *TeeCollector) Append(ctx context.Context, runID string, rec results.ResultRecord) error {
	for i, c := range t.collectors {
		if err := c.Append(ctx, runID, rec); err != nil {
			return fmt.Errorf("collector %d: %w", i, err)
		}
	}
	return nil
}
