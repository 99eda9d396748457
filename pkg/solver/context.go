package solver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chazu/isopipe/pkg/graph"
	"github.com/chazu/isopipe/pkg/trace"
)

// Context carries everything one solver instance needs: the target graph,
// the re-entrancy guard shared by the reactive and triangle engines, a
// trace sink, the current run id and the metric state of the reactive
// solver. A Context is bound to a single graph and is not safe for
// concurrent use.
type Context struct {
	Graph *graph.Graph
	Sink  trace.Sink
	Tol   Tolerances

	// Now returns the stamp given to a dimension that is promoted to user
	// without one.
	Now func() int64

	ctx        context.Context
	newRunID   func() string
	runID      string
	suppressed bool

	// metric holds the reactive solver's last known positions.
	metric map[graph.NodeID]graph.Vec3
}

// Option configures a Context.
type Option func(*Context)

// WithSink routes trace records to s.
func WithSink(s trace.Sink) Option {
	return func(c *Context) {
		if s != nil {
			c.Sink = s
		}
	}
}

// WithTolerances replaces the default tolerances.
func WithTolerances(t Tolerances) Option {
	return func(c *Context) { c.Tol = t }
}

// WithRunIDs replaces the uuid generator used for run ids.
func WithRunIDs(fn func() string) Option {
	return func(c *Context) {
		if fn != nil {
			c.newRunID = fn
		}
	}
}

// WithClock replaces the stamp source.
func WithClock(now func() int64) Option {
	return func(c *Context) {
		if now != nil {
			c.Now = now
		}
	}
}

// NewContext binds a solver to g.
func NewContext(ctx context.Context, g *graph.Graph, opts ...Option) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	c := &Context{
		Graph:    g,
		Sink:     trace.Discard,
		Tol:      DefaultTolerances(),
		Now:      func() int64 { return time.Now().UnixMilli() },
		ctx:      ctx,
		newRunID: uuid.NewString,
		metric:   make(map[graph.NodeID]graph.Vec3),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunID returns the id of the pass in progress, or "" between passes.
func (c *Context) RunID() string { return c.runID }

// Suppressed reports whether an internal write is in progress.
func (c *Context) Suppressed() bool { return c.suppressed }

// Attach subscribes HandleEdit to the graph's dimension changes.
func (c *Context) Attach() (detach func()) {
	return c.Graph.OnEdgeDimensionChanged(c.HandleEdit)
}

// begin opens a pass: a fresh run id, a span and pass metrics.
// The returned func closes it and restores the previous pass state.
func (c *Context) begin(op string) func(ok *bool) {
	prevCtx, prevRun := c.ctx, c.runID
	c.runID = c.newRunID()
	ctx, span := startPassSpan(c.ctx, op, c.Graph.NodeCount(), c.Graph.EdgeCount())
	span.SetAttributes(attribute.String("isopipe.run_id", c.runID))
	c.ctx = ctx
	start := time.Now()
	return func(ok *bool) {
		success := ok == nil || *ok
		recordPass(ctx, op, time.Since(start), success)
		span.SetAttributes(attribute.Bool("isopipe.ok", success))
		span.End()
		c.ctx = prevCtx
		c.runID = prevRun
	}
}

func (c *Context) emit(stage, event string, node graph.NodeID, edge graph.EdgeID, msg string, attrs map[string]any) {
	c.Sink.Emit(c.ctx, trace.Record{
		RunID: c.runID,
		Stage: stage,
		Event: event,
		Node:  string(node),
		Edge:  string(edge),
		Msg:   msg,
		Attrs: attrs,
	})
}

// write stores an internally computed dimension with the guard raised, so
// listeners that route back into this Context ignore it.
func (c *Context) write(stage string, id graph.EdgeID, d graph.Dimension, silent bool) {
	prev := c.suppressed
	c.suppressed = true
	err := c.Graph.SetEdgeDimension(id, d, silent)
	c.suppressed = prev
	if err != nil {
		c.emit(stage, "write_failed", "", id, err.Error(), nil)
	}
}
