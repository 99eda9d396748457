// Package app is the pipeline behind the isopipe CLI: load a recipe, check
// and solve it, annotate topology and stress, and optionally mesh it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/chazu/isopipe/internal/config"
	"github.com/chazu/isopipe/pkg/engine"
	"github.com/chazu/isopipe/pkg/graph"
	"github.com/chazu/isopipe/pkg/kernel"
	"github.com/chazu/isopipe/pkg/kernel/sdfx"
	"github.com/chazu/isopipe/pkg/slope"
	"github.com/chazu/isopipe/pkg/solver"
	"github.com/chazu/isopipe/pkg/stress"
	"github.com/chazu/isopipe/pkg/tessellate"
	"github.com/chazu/isopipe/pkg/trace"
)

// ErrInvalidSource is wrapped by LoadError.
var ErrInvalidSource = errors.New("invalid recipe")

// reasonInvalid is reported when validation blocks the solvability check.
const reasonInvalid solver.Reason = "invalid_recipe"

// LoadError carries the blocking findings of a recipe that did not build.
type LoadError struct {
	Path   string
	Issues []Issue
}

func (e *LoadError) Error() string {
	var msgs []string
	for _, is := range e.Issues {
		if is.Severity != graph.SeverityError.String() {
			continue
		}
		m := is.Message
		if is.Line > 0 {
			m = fmt.Sprintf("line %d: %s", is.Line, m)
		} else if is.Edge != "" {
			m = fmt.Sprintf("edge %s: %s", is.Edge, m)
		} else if is.Node != "" {
			m = fmt.Sprintf("node %s: %s", is.Node, m)
		}
		msgs = append(msgs, m)
	}
	return fmt.Sprintf("%s: %s", e.Path, strings.Join(msgs, "; "))
}

func (e *LoadError) Unwrap() error { return ErrInvalidSource }

// App runs the pipeline with one configuration.
type App struct {
	cfg    config.Config
	logger *slog.Logger
	engine *engine.Engine
	kernel kernel.Kernel
	sink   trace.Sink
}

// Option configures an App.
type Option func(*App)

// WithKernel replaces the sdfx meshing backend.
func WithKernel(k kernel.Kernel) Option {
	return func(a *App) { a.kernel = k }
}

// WithSink adds a trace sink next to the slog one.
func WithSink(s trace.Sink) Option {
	return func(a *App) { a.sink = trace.Multi(a.sink, s) }
}

// New builds an App. A nil logger means slog.Default.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) *App {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		engine: engine.NewEngine(),
		kernel: sdfx.New(cfg.Mesh.Cells),
	}
	a.sink = trace.Multi(trace.NewSlogSink(logger), trace.OTelSink{})
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the configuration the App was built with.
func (a *App) Config() config.Config { return a.cfg }

// LoadSource reads a recipe. ".zy" and ".lisp" files run through the DSL
// engine; anything else is read as a JSON or YAML fixture. Advisory
// findings are returned alongside the graph; blocking ones as a
// *LoadError.
func (a *App) LoadSource(path string) (*graph.Graph, []Issue, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zy", ".lisp":
		return a.loadRecipe(path)
	}
	fx, err := graph.LoadFixture(path)
	if err != nil {
		return nil, nil, err
	}
	vr := graph.ValidateFixture(fx)
	issues := validationIssues(vr)
	if !vr.OK() {
		return nil, issues, &LoadError{Path: path, Issues: issues}
	}
	g, err := fx.Build()
	if err != nil {
		return nil, issues, fmt.Errorf("build %s: %w", path, err)
	}
	return g, issues, nil
}

func (a *App) loadRecipe(path string) (*graph.Graph, []Issue, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read recipe: %w", err)
	}
	res, err := a.engine.Evaluate(string(src))
	if err != nil {
		a.logger.Error("recipe evaluation failed", "path", path, "err", err)
		return nil, nil, fmt.Errorf("evaluate %s: %w", path, err)
	}
	issues := make([]Issue, 0, len(res.Errors)+len(res.Warnings))
	for _, e := range res.Errors {
		issues = append(issues, Issue{Severity: graph.SeverityError.String(), Line: e.Line, Col: e.Col, Message: e.Message})
	}
	for _, w := range res.Warnings {
		issues = append(issues, Issue{Severity: graph.SeverityWarning.String(), Node: w.NodeID, Edge: w.EdgeID, Message: w.Message})
	}
	if !res.OK() {
		return nil, issues, &LoadError{Path: path, Issues: issues}
	}
	return res.Graph, issues, nil
}

// RunOptions select the optional pipeline stages.
type RunOptions struct {
	// Mesh tessellates the solved layout.
	Mesh bool
	// Snap moves every node hint onto its solved position before topology
	// and stress are evaluated.
	Snap bool
}

// Run validates, checks and solves g, writes derived lengths and conflicts
// back onto it, and annotates topology and stress. Domain failures are
// reported in the Report; the error is for infrastructure failures only.
func (a *App) Run(ctx context.Context, g *graph.Graph, opts RunOptions) (*Report, error) {
	rep := newReport()
	rep.RunID = uuid.NewString()
	log := a.logger.With("run", rep.RunID)

	vr := graph.Validate(g)
	rep.Issues = append(rep.Issues, validationIssues(vr)...)
	if !vr.OK() {
		log.Warn("recipe failed validation", "errors", len(vr.Errors))
		rep.Check = solver.Result{Reason: reasonInvalid}
		rep.fill(g, nil)
		return rep, nil
	}

	sc := a.solverContext(ctx, g, rep.RunID)
	rep.Check = sc.CheckSolvable()
	if !rep.Check.OK {
		log.Warn("recipe is not solvable", "reason", rep.Check.Reason)
		a.annotate(g, rep)
		rep.fill(g, nil)
		return rep, nil
	}

	emb, ok := sc.Solve()
	if !ok {
		log.Warn("solve left nodes unplaced")
		a.annotate(g, rep)
		rep.fill(g, nil)
		return rep, nil
	}
	sc.ApplyEmbedding(emb)
	if opts.Snap {
		snap(g, emb)
	}
	a.annotate(g, rep)
	rep.fill(g, emb)
	rep.OK = true

	if opts.Mesh {
		res, err := tessellate.Tessellate(g, emb.Coords, a.kernel, tessellate.Options{
			DefaultODMm: a.cfg.Mesh.DefaultODMm,
			Hollow:      a.cfg.Mesh.Hollow,
		})
		if err != nil {
			log.Error("tessellation failed", "err", err)
			return rep, fmt.Errorf("mesh: %w", err)
		}
		rep.Meshes, rep.Skipped = res.Meshes, res.Skipped
	}
	log.Info("solved", "nodes", g.NodeCount(), "edges", g.EdgeCount(), "conflicts", len(rep.Conflicts))
	return rep, nil
}

// Check validates g and runs the solvability rules without solving.
func (a *App) Check(ctx context.Context, g *graph.Graph) *Report {
	rep := newReport()
	rep.RunID = uuid.NewString()
	vr := graph.Validate(g)
	rep.Issues = append(rep.Issues, validationIssues(vr)...)
	if vr.OK() {
		rep.Check = a.solverContext(ctx, g, rep.RunID).CheckSolvable()
	} else {
		rep.Check = solver.Result{Reason: reasonInvalid}
	}
	rep.OK = rep.Check.OK
	rep.fill(g, nil)
	return rep
}

// Edit records a user length on id and lets the triangle engine and the
// reactive solver respond, then re-runs the pipeline. A zero stamp means
// now.
func (a *App) Edit(ctx context.Context, g *graph.Graph, id graph.EdgeID, valueMm float64, stamp int64) (*Report, error) {
	e := g.Edge(id)
	if e == nil {
		return nil, fmt.Errorf("edit %s: %w", id, graph.ErrUnknownEdge)
	}
	if !(valueMm > 0) {
		return nil, fmt.Errorf("edit %s: length must be positive, got %g", id, valueMm)
	}
	sc := a.solverContext(ctx, g, uuid.NewString())
	if stamp == 0 {
		stamp = sc.Now()
	}
	dim := graph.Dimension{ValueMm: valueMm, Source: graph.SourceUser, UserEditedAt: stamp}
	if e.Dim != nil {
		dim.Mode, dim.Label = e.Dim.Mode, e.Dim.Label
	}

	detach := sc.Attach()
	err := g.SetEdgeDimension(id, dim, false)
	detach()
	if err != nil {
		return nil, err
	}
	return a.Run(ctx, g, RunOptions{})
}

// SlopeRequest describes one slope operation.
type SlopeRequest struct {
	From, To graph.NodeID
	Grade    float64
	// Mode overrides the configured mode when set.
	Mode    slope.Mode
	Anchors []graph.NodeID
	Commit  bool
}

// Slope plans a fall from From to To and, when asked and the plan is
// feasible, commits it and re-evaluates topology and stress.
func (a *App) Slope(ctx context.Context, g *graph.Graph, req SlopeRequest) (*SlopeReport, error) {
	for _, id := range []graph.NodeID{req.From, req.To} {
		if !g.HasNode(id) {
			return nil, fmt.Errorf("slope: %s: %w", id, graph.ErrUnknownNode)
		}
	}
	opts := a.cfg.SlopeOptions()
	if req.Mode != "" {
		opts.Mode = req.Mode
	}
	opts.Anchors = req.Anchors
	opts.Sink = a.sink

	rep := &SlopeReport{StressChanged: []graph.NodeID{}}
	rep.Preview = slope.Plan(ctx, g, req.From, req.To, req.Grade, opts)
	if !rep.Preview.OK {
		a.logger.Warn("slope rejected", "from", req.From, "to", req.To, "reason", rep.Preview.Reason)
		return rep, nil
	}
	if !req.Commit {
		return rep, nil
	}
	cr := slope.Commit(ctx, g, rep.Preview)
	rep.Commit = &cr
	if !cr.OK {
		a.logger.Warn("slope commit failed", "reason", cr.Reason)
		return rep, nil
	}
	g.ClassifyAll()
	if changed := stress.Evaluate(g, nil, a.cfg.Stress); changed != nil {
		rep.StressChanged = changed
	}
	a.logger.Info("slope committed", "moved", len(cr.Moved), "dragged", len(cr.Dragged))
	return rep, nil
}

func (a *App) solverContext(ctx context.Context, g *graph.Graph, runID string) *solver.Context {
	return solver.NewContext(ctx, g,
		solver.WithSink(a.sink),
		solver.WithTolerances(a.cfg.SolverTolerances()),
		solver.WithRunIDs(func() string { return runID }),
	)
}

func (a *App) annotate(g *graph.Graph, rep *Report) {
	g.ClassifyAll()
	if changed := stress.Evaluate(g, nil, a.cfg.Stress); changed != nil {
		rep.StressChanged = changed
	}
}

// snap moves every node's hint onto its solved position.
func snap(g *graph.Graph, emb *solver.Embedding) {
	for _, n := range g.Nodes() {
		if p, ok := emb.Pos(n.ID); ok {
			n.Base, n.Offset = p, graph.Vec3{}
		}
	}
}
