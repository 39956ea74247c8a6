package topology

import (
	"context"
	"fmt"
)

// Reload replaces the running topology with specs, starting added
// components, retiring removed ones, and leaving unchanged components
// running untouched. It follows the teacher's dispatcher.Registrar
// diff-apply-desired-routes discipline: compute the desired component set,
// diff it against what's running, deactivate what's gone, activate what's
// new, and bump nothing for what's unchanged.
func (c *Controller) Reload(ctx context.Context, specs []ComponentSpec) error {
	order, err := buildOrder(specs)
	if err != nil {
		return err
	}

	desired := make(map[ComponentKey]ComponentSpec, len(specs))
	for _, s := range specs {
		desired[s.Key] = s
	}

	c.mu.Lock()
	var toRetire []ComponentKey
	for key := range c.running {
		if _, keep := desired[key]; !keep {
			toRetire = append(toRetire, key)
		}
	}
	var toAdd []ComponentKey
	var toReplace []ComponentKey
	for _, key := range order {
		newSpec := desired[key]
		if old, running := c.specs[key]; running {
			if !sameShape(old, newSpec) {
				toReplace = append(toReplace, key)
			}
			continue
		}
		toAdd = append(toAdd, key)
	}
	c.mu.Unlock()

	for _, key := range toRetire {
		if err := c.stopComponent(key); err != nil {
			return fmt.Errorf("topology: reload retire %s: %w", key, err)
		}
		c.mu.Lock()
		delete(c.running, key)
		delete(c.specs, key)
		c.mu.Unlock()
	}
	for _, key := range toReplace {
		if err := c.stopComponent(key); err != nil {
			return fmt.Errorf("topology: reload replace %s: %w", key, err)
		}
		c.mu.Lock()
		delete(c.running, key)
		c.mu.Unlock()
	}

	// Rebuild edges for the full desired spec set: unchanged edges produce
	// the same buffer configuration and are left as no-ops by buildEdgeBuffer
	// callers re-wiring only what's missing.
	if err := c.rewireEdges(desired, order); err != nil {
		return err
	}

	c.mu.Lock()
	c.specs = desired
	c.mu.Unlock()

	for _, key := range toAdd {
		if err := c.spawn(ctx, key); err != nil {
			return fmt.Errorf("topology: reload spawn %s: %w", key, err)
		}
	}
	for _, key := range toReplace {
		if err := c.spawn(ctx, key); err != nil {
			return fmt.Errorf("topology: reload respawn %s: %w", key, err)
		}
	}
	return nil
}

func (c *Controller) rewireEdges(desired map[ComponentKey]ComponentSpec, order []ComponentKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wantEdges := make(map[edgeKey]EdgeOptions)
	for _, key := range order {
		spec := desired[key]
		for _, target := range spec.SendsTo {
			opts := EdgeOptions{Mode: BufferMemory, MaxEvents: defaultEdgeBufferEvents}
			if spec.Edges != nil {
				if o, ok := spec.Edges[target]; ok {
					opts = o
				}
			}
			wantEdges[edgeKey{from: spec.Key, to: target}] = opts
		}
	}

	for ek := range c.edges {
		if _, ok := wantEdges[ek]; !ok {
			buf := c.edges[ek]
			delete(c.edges, ek)
			_ = buf.Close()
		}
	}
	for ek, opts := range wantEdges {
		if _, ok := c.edges[ek]; ok {
			continue
		}
		buf, err := c.buildEdgeBuffer(ek.from, ek.to, opts)
		if err != nil {
			return fmt.Errorf("topology: reload edge %s->%s: %w", ek.from, ek.to, err)
		}
		c.edges[ek] = buf
	}
	return nil
}

// sameShape reports whether two specs for the same key list the same
// SendsTo targets in the same order, so Reload can skip tearing down and
// respawning a component whose SendsTo didn't change even if the caller
// passed a fresh Source/Transform/Sink value. Edges options are not
// compared.
func sameShape(a, b ComponentSpec) bool {
	if len(a.SendsTo) != len(b.SendsTo) {
		return false
	}
	for i := range a.SendsTo {
		if a.SendsTo[i] != b.SendsTo[i] {
			return false
		}
	}
	return true
}
