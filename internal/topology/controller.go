package topology

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/conduit/core/event"
	"github.com/coachpo/conduit/errs"
	"github.com/coachpo/conduit/internal/buffer"
	"github.com/coachpo/conduit/lib/telemetry"
)

const defaultEdgeBufferEvents = 1024

// edgeKey identifies one directed edge in the topology.
type edgeKey struct {
	from ComponentKey
	to   ComponentKey
}

// runningComponent tracks one spawned component's lifecycle.
type runningComponent struct {
	key         ComponentKey
	spec        ComponentSpec
	cancel      context.CancelFunc
	errCh       chan error
	outbound    []buffer.Buffer // this component's outbound edges, in SendsTo order
	inbound     buffer.Receiver // nil for sources
	healthcheck Healthchecker   // set for sink components after Build
}

// Controller builds, runs, reloads, and tears down a topology of sources,
// transforms, and sinks connected by buffer edges. Build/spawn follows the
// teacher's cmd/gateway/main.go wiring sequence generalized into a
// graph-ordered loop; shutdown follows its performGracefulShutdown
// step-runner; task supervision uses conc.WaitGroup per component so a
// panicking component becomes a reported error rather than a process crash.
type Controller struct {
	telemetry telemetry.Telemetry

	mu         sync.Mutex
	specs      map[ComponentKey]ComponentSpec
	running    map[ComponentKey]*runningComponent
	edges      map[edgeKey]buffer.Buffer
	wg         conc.WaitGroup
	errReports chan ComponentError
	rootCancel context.CancelFunc
}

// ComponentError is reported when a component's Run method returns an error
// or panics.
type ComponentError struct {
	Key ComponentKey
	Err error
}

// NewController constructs an empty controller. Telemetry may be nil, in
// which case a no-op handle is used.
func NewController(tel telemetry.Telemetry) *Controller {
	if tel == nil {
		tel = telemetry.Noop{}
	}
	return &Controller{
		telemetry:  tel,
		specs:      make(map[ComponentKey]ComponentSpec),
		running:    make(map[ComponentKey]*runningComponent),
		edges:      make(map[edgeKey]buffer.Buffer),
		errReports: make(chan ComponentError, 16),
	}
}

// Errors returns the channel of asynchronously reported component failures.
// The topology owner should select on it alongside its own shutdown signal;
// per spec.md §7, a Fatal error observed here should trigger the same
// graceful-shutdown path as an operator-initiated shutdown.
func (c *Controller) Errors() <-chan ComponentError {
	return c.errReports
}

// Build validates specs (unique keys, no cycles, no dangling SendsTo
// targets) and wires an edge buffer for every SendsTo relationship, without
// starting any component. Run starts the wired topology.
func (c *Controller) Build(specs []ComponentSpec) error {
	order, err := buildOrder(specs)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	byKey := make(map[ComponentKey]ComponentSpec, len(specs))
	for _, s := range specs {
		byKey[s.Key] = s
	}

	// Wire edges leaves-first so a sink's inbound buffer exists before any
	// upstream component that sends to it is validated.
	for _, key := range order {
		spec := byKey[key]
		for _, target := range spec.SendsTo {
			opts := EdgeOptions{Mode: BufferMemory, MaxEvents: defaultEdgeBufferEvents}
			if spec.Edges != nil {
				if o, ok := spec.Edges[target]; ok {
					opts = o
				}
			}
			buf, err := c.buildEdgeBuffer(spec.Key, target, opts)
			if err != nil {
				return fmt.Errorf("topology: build edge %s->%s: %w", spec.Key, target, err)
			}
			c.edges[edgeKey{from: spec.Key, to: target}] = buf
		}
	}

	c.specs = byKey
	return nil
}

func (c *Controller) buildEdgeBuffer(from, to ComponentKey, opts EdgeOptions) (buffer.Buffer, error) {
	switch opts.Mode {
	case BufferDisk:
		return buffer.NewDiskBuffer(opts.Disk)
	case BufferComposite:
		return buffer.NewCompositeBuffer(buffer.CompositeOptions{
			ComponentID: string(from) + "->" + string(to),
			MaxEvents:   opts.MaxEvents,
			Disk:        opts.Disk,
			Telemetry:   c.telemetry,
		})
	default:
		max := opts.MaxEvents
		if max <= 0 {
			max = defaultEdgeBufferEvents
		}
		return buffer.NewMemoryBuffer(buffer.MemoryOptions{
			ComponentID: string(from) + "->" + string(to),
			MaxEvents:   max,
			Policy:      buffer.Block,
			Telemetry:   c.telemetry,
		})
	}
}

// Run spawns every component in leaves-first order (sinks first, sources
// last) under the controller's supervision. It returns once every
// component has been started; components keep running in background
// goroutines until Shutdown is called or ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	order, err := buildOrder(specsOf(c.specs))
	if err != nil {
		c.mu.Unlock()
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.rootCancel = cancel
	c.mu.Unlock()

	for _, key := range order {
		if err := c.spawn(runCtx, key); err != nil {
			return fmt.Errorf("topology: spawn %s: %w", key, err)
		}
	}
	return nil
}

func specsOf(m map[ComponentKey]ComponentSpec) []ComponentSpec {
	out := make([]ComponentSpec, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	return out
}

func (c *Controller) spawn(ctx context.Context, key ComponentKey) error {
	c.mu.Lock()
	spec := c.specs[key]
	compCtx, cancel := context.WithCancel(ctx)

	var outbound []buffer.Buffer
	for _, target := range spec.SendsTo {
		outbound = append(outbound, c.edges[edgeKey{from: key, to: target}])
	}
	var inbound buffer.Receiver
	for ek, buf := range c.edges {
		if ek.to == key {
			inbound = buf
			break
		}
	}
	rc := &runningComponent{key: key, spec: spec, cancel: cancel, errCh: make(chan error, 1), outbound: outbound, inbound: inbound}
	c.running[key] = rc
	c.mu.Unlock()

	switch {
	case spec.Source != nil:
		c.wg.Go(func() { c.runSource(compCtx, rc) })
	case spec.Transform != nil:
		c.wg.Go(func() { c.runTransform(compCtx, rc) })
	case spec.Sink != nil:
		runner, healthcheck, err := spec.Sink.Build(compCtx)
		if err != nil {
			return err
		}
		rc.healthcheck = healthcheck
		c.wg.Go(func() { c.runSink(compCtx, rc, runner) })
	default:
		return errs.New("topology/spawn", errs.Permanent, errs.WithMessage("component has no Source, Transform, or Sink"))
	}
	return nil
}

func (c *Controller) runSource(ctx context.Context, rc *runningComponent) {
	defer c.reportPanic(rc)
	out := &fanoutSourceContext{bufs: rc.outbound}
	if err := rc.spec.Source.Run(ctx, out); err != nil && ctx.Err() == nil {
		c.report(rc.key, err)
	}
}

func (c *Controller) runTransform(ctx context.Context, rc *runningComponent) {
	defer c.reportPanic(rc)
	if rc.inbound == nil {
		c.report(rc.key, errs.New("topology/transform", errs.Fatal, errs.WithMessage("no inbound buffer wired")))
		return
	}
	fn := rc.spec.Transform.Function
	for {
		arr, err := rc.inbound.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.report(rc.key, err)
			}
			return
		}
		out := arr
		if fn != nil {
			transformed, err := fn(arr)
			if err != nil {
				c.report(rc.key, err)
				continue
			}
			out = transformed
		}
		if out != nil && out.Len() > 0 {
			for _, buf := range rc.outbound {
				if err := buf.Send(ctx, out); err != nil && ctx.Err() == nil {
					c.report(rc.key, err)
				}
			}
		}
		_ = rc.inbound.Ack(arr.Len())
	}
}

func (c *Controller) runSink(ctx context.Context, rc *runningComponent, runner SinkRunner) {
	defer c.reportPanic(rc)
	if rc.inbound == nil {
		c.report(rc.key, errs.New("topology/sink", errs.Fatal, errs.WithMessage("no inbound buffer wired")))
		return
	}
	if err := runner.Run(ctx, rc.inbound); err != nil && ctx.Err() == nil {
		c.report(rc.key, err)
	}
}

func (c *Controller) report(key ComponentKey, err error) {
	select {
	case c.errReports <- ComponentError{Key: key, Err: err}:
	default:
	}
}

func (c *Controller) reportPanic(rc *runningComponent) {
	if r := recover(); r != nil {
		c.report(rc.key, fmt.Errorf("component %s panicked: %v", rc.key, r))
	}
}

// fanoutSourceContext implements SourceContext by forwarding to every
// outbound edge of the source component.
type fanoutSourceContext struct {
	bufs []buffer.Buffer
}

func (f *fanoutSourceContext) Send(ctx context.Context, arr *event.EventArray) error {
	for _, buf := range f.bufs {
		if err := buf.Send(ctx, arr); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until every spawned component's goroutine has returned (e.g.
// after Shutdown cancels their contexts).
func (c *Controller) Wait() {
	c.wg.Wait()
}
