package gateway

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type ProcessResult struct {
	// Payment events applied by the poll
	Events uint64
	// Orders moved to expired
	Expired uint64
}

// Process runs one reconciliation cycle. Payments are polled before the sweep
// so a payment observed in the same cycle lands before expiry is evaluated. A
// failed poll skips the sweep
func (c *Controller) Process(ctx context.Context) (result ProcessResult, err error) {
	timer := prometheus.NewTimer(c.metrics.ProcessDuration)
	defer timer.ObserveDuration()

	if c.poll {
		result.Events, err = c.Poll(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to poll payments: %w", err)
		}
	}

	result.Expired, err = c.Sweep(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to sweep orders: %w", err)
	}
	return result, nil
}
