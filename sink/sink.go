// Package sink republishes accumulation reports to external time-series
// stores.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nickcrabtree/electricity-monitoring/energy"
	"github.com/jonboulle/clockwork"
)

// Sink writes one report per accumulation cycle to an external store.
type Sink interface {
	Name() string
	WriteReport(ctx context.Context, report *energy.Report) error
}

// RetryPolicy bounds how often a failed write is retried. The backoff
// doubles after every failed attempt.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Write sends the report through the sink, retrying per the policy. A
// report that still fails after the last attempt is dropped; the next
// cycle brings fresh totals anyway.
func (p RetryPolicy) Write(ctx context.Context, clock clockwork.Clock, logger *slog.Logger, s Sink, report *energy.Report) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	backoff := p.Backoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = s.WriteReport(ctx, report)
		if lastErr == nil {
			return nil
		}

		logger.Warn("sink write failed",
			"sink", s.Name(),
			"attempt", attempt,
			"max_attempts", attempts,
			"error", lastErr,
		)

		if attempt == attempts {
			break
		}

		select {
		case <-clock.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}

	return fmt.Errorf("sink %s: all %d attempts failed: %w", s.Name(), attempts, lastErr)
}
