package topology

import (
	"context"
	"fmt"
	"time"
)

// ShutdownConfig bounds each stage of Shutdown.
type ShutdownConfig struct {
	PerComponentTimeout time.Duration
	DrainTimeout        time.Duration
}

const (
	defaultPerComponentTimeout = 5 * time.Second
	defaultDrainTimeout        = 10 * time.Second
)

// shutdownStep runs fn with its own timeout, logging-free (callers observe
// failures via the returned error), mirroring the teacher's
// performGracefulShutdown step-runner shape.
func shutdownStep(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(stepCtx)
}

// Shutdown drains the topology in reverse-build (sources-first) order: it
// stops each source from accepting new work, waits for in-flight data to
// drain through transforms into sinks, then cancels every remaining
// component and waits for its goroutine to exit. A Fatal component error
// observed via Errors() should drive the same call, per spec.md §7.
func (c *Controller) Shutdown(ctx context.Context) error {
	cfg := ShutdownConfig{PerComponentTimeout: defaultPerComponentTimeout, DrainTimeout: defaultDrainTimeout}
	return c.ShutdownWithConfig(ctx, cfg)
}

// ShutdownWithConfig is Shutdown with explicit per-stage timeouts.
func (c *Controller) ShutdownWithConfig(ctx context.Context, cfg ShutdownConfig) error {
	if cfg.PerComponentTimeout <= 0 {
		cfg.PerComponentTimeout = defaultPerComponentTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}

	c.mu.Lock()
	order, err := buildOrder(specsOf(c.specs))
	c.mu.Unlock()
	if err != nil {
		return err
	}
	// Reverse of the leaves-first build order: sources first, sinks last,
	// so producers stop emitting before their downstream buffers and sinks
	// are torn down.
	reversed := make([]ComponentKey, len(order))
	for i, key := range order {
		reversed[len(order)-1-i] = key
	}

	var errsOut []error
	for _, key := range reversed {
		err := shutdownStep(ctx, cfg.PerComponentTimeout, func(stepCtx context.Context) error {
			return c.stopComponent(key)
		})
		if err != nil {
			errsOut = append(errsOut, fmt.Errorf("stop %s: %w", key, err))
		}
	}

	if c.rootCancel != nil {
		c.rootCancel()
	}

	err = shutdownStep(ctx, cfg.DrainTimeout, func(stepCtx context.Context) error {
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-stepCtx.Done():
			return stepCtx.Err()
		}
	})
	if err != nil {
		errsOut = append(errsOut, fmt.Errorf("wait for components: %w", err))
	}

	for _, buf := range c.edges {
		_ = buf.Close()
	}

	if len(errsOut) == 0 {
		return nil
	}
	return fmt.Errorf("topology: shutdown errors: %v", errsOut)
}

func (c *Controller) stopComponent(key ComponentKey) error {
	c.mu.Lock()
	rc, ok := c.running[key]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	rc.cancel()
	return nil
}
