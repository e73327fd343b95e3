package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// Check is a named dependency probe; nil means healthy.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// checker runs probes concurrently, each under its own timeout.
type checker struct {
	timeout time.Duration
	log     logger.Logger

	mu        sync.RWMutex
	liveness  []Check
	readiness []Check
}

func (c *checker) addLiveness(ch Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liveness = append(c.liveness, ch)
}

func (c *checker) addReadiness(ch Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readiness = append(c.readiness, ch)
}

func (c *checker) checkLiveness(ctx context.Context) ([]CheckResult, error) {
	c.mu.RLock()
	checks := c.liveness
	c.mu.RUnlock()
	return c.run(ctx, checks)
}

func (c *checker) checkReadiness(ctx context.Context) ([]CheckResult, error) {
	c.mu.RLock()
	checks := c.readiness
	c.mu.RUnlock()
	return c.run(ctx, checks)
}

func (c *checker) run(ctx context.Context, checks []Check) ([]CheckResult, error) {
	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, ch := range checks {
		g.Go(func() error {
			results[i] = c.execute(ctx, ch)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for _, r := range results {
		if !r.Healthy {
			failed = append(failed, r.Name)
		}
	}
	if len(failed) > 0 {
		return results, fmt.Errorf("health checks failed: %v", failed)
	}
	return results, nil
}

func (c *checker) execute(parent context.Context, ch Check) CheckResult {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	start := time.Now()
	err := ch.Fn(ctx)
	latency := time.Since(start)

	result := CheckResult{Name: ch.Name, Healthy: err == nil, Latency: latency.String()}
	if err != nil {
		result.Error = err.Error()
		c.log.Warn("Health check failed",
			logger.StringField("check", ch.Name),
			logger.ErrorField(err),
			logger.DurationField("latency", latency))
	}
	return result
}
