package upstream

import (
	"context"
	"time"

	"github.com/jwalitptl/chartquery-api/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/chartquery-api/pkg/errors"
	"github.com/jwalitptl/chartquery-api/pkg/metrics"
)

// Caller wraps one external dependency with a circuit breaker and the
// timeout policy: a timed-out call is retried exactly once after a backoff,
// then surfaced as degraded. Other failures pass through untouched.
type Caller struct {
	name    string
	cb      *circuitbreaker.CircuitBreaker
	backoff time.Duration
	metrics *metrics.Metrics
}

func NewCaller(name string, backoff time.Duration, m *metrics.Metrics) *Caller {
	return &Caller{
		name: name,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        name,
			MaxRequests: 5,
			Interval:    10 * time.Second,
			Timeout:     30 * time.Second,
		}),
		backoff: backoff,
		metrics: m,
	}
}

// Do runs fn through the breaker, timing it and retrying one timeout.
func (c *Caller) Do(ctx context.Context, fn func() error) error {
	err := c.execute(fn)
	if err == nil {
		return nil
	}
	if !apperrors.IsCode(err, apperrors.ErrUpstreamTimeout) {
		return err
	}

	c.metrics.UpstreamTimeouts.WithLabelValues(c.name).Inc()
	select {
	case <-time.After(c.backoff):
	case <-ctx.Done():
		return err
	}

	c.metrics.UpstreamRetries.WithLabelValues(c.name).Inc()
	if retryErr := c.execute(fn); retryErr == nil {
		return nil
	}
	// Surface the original timeout; the retry's failure adds nothing.
	return err
}

func (c *Caller) execute(fn func() error) error {
	start := time.Now()
	err := c.cb.Execute(fn)
	c.metrics.UpstreamLatency.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.UpstreamCalls.WithLabelValues(c.name, "error").Inc()
		return err
	}
	c.metrics.UpstreamCalls.WithLabelValues(c.name, "ok").Inc()
	return nil
}
