package topology

import (
	"context"
	"fmt"
	"sync"
)

// Healthcheck runs every component's Healthcheck concurrently, bounded by
// ctx's deadline, and returns an aggregate error naming every component
// that failed. Transform components have no healthcheck concept and are
// skipped. Grounded on the teacher's provider Manager per-provider
// lifecycle context pattern, generalized to a uniform capability check.
func (c *Controller) Healthcheck(ctx context.Context) error {
	c.mu.Lock()
	running := make([]*runningComponent, 0, len(c.running))
	for _, rc := range c.running {
		running = append(running, rc)
	}
	c.mu.Unlock()

	var mu sync.Mutex
	var failures []string
	var wg sync.WaitGroup
	for _, rc := range running {
		checker := healthcheckerFor(rc)
		if checker == nil {
			continue
		}
		wg.Add(1)
		go func(key ComponentKey, hc Healthchecker) {
			defer wg.Done()
			if err := hc.Healthcheck(ctx); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s: %v", key, err))
				mu.Unlock()
			}
		}(rc.key, checker)
	}
	wg.Wait()

	if len(failures) == 0 {
		return nil
	}
	return fmt.Errorf("topology: %d component(s) unhealthy: %v", len(failures), failures)
}

func healthcheckerFor(rc *runningComponent) Healthchecker {
	if rc.spec.Source != nil {
		return healthcheckFunc(rc.spec.Source.Healthcheck)
	}
	if rc.healthcheck != nil {
		return rc.healthcheck
	}
	return nil
}

type healthcheckFunc func(context.Context) error

func (f healthcheckFunc) Healthcheck(ctx context.Context) error { return f(ctx) }
