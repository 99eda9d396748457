// Package slope plans and applies a graded height reassignment along a
// path of axis-aligned edges.
//
// Plan never mutates the graph. It walks the shortest axis-aligned path
// from A to B, cuts it into riser and span sections, and computes a
// target Y for every node on the path. Commit writes those heights to the
// node hints and drags along any node that was sitting on a moved one.
package slope

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/chazu/isopipe/pkg/graph"
	"github.com/chazu/isopipe/pkg/trace"
)

var tracer = otel.Tracer("isopipe.slope")

// DefaultGrade is a 1% fall.
const DefaultGrade = 0.01

// Mode decides how a span's drop is split between its two ends when
// neither end is anchored.
type Mode string

const (
	ModeBalanced   Mode = "balanced"   // split the correction evenly
	ModeLockTop    Mode = "lockTop"    // pin the upstream end
	ModeLockBottom Mode = "lockBottom" // pin the downstream end
)

// Modes lists the accepted modes in cycling order.
var Modes = []Mode{ModeBalanced, ModeLockTop, ModeLockBottom}

// ParseMode accepts a mode name; the empty string means balanced.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeBalanced, nil
	}
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown slope mode %q", s)
}

// Reason is the failure code of a Preview or CommitResult.
type Reason string

const (
	ReasonNoPath               Reason = "no_path"
	ReasonInvalidGrade         Reason = "invalid_grade"
	ReasonInvalidMode          Reason = "invalid_mode"
	ReasonUnknownNode          Reason = "unknown_node"
	ReasonANotHigherThanB      Reason = "A_not_higher_than_B"
	ReasonAnchoredSpanConflict Reason = "anchored_span_conflict"
	ReasonNoPreview            Reason = "no_preview"
)

// Warning kinds.
const (
	WarnDiagUphill       = "diag_uphill"
	WarnBalancedFallback = "balanced_fallback"
)

// Warning is a non-fatal note attached to a Preview.
type Warning struct {
	Kind string       `json:"kind"`
	From graph.NodeID `json:"from,omitempty"`
	To   graph.NodeID `json:"to,omitempty"`
	Msg  string       `json:"msg,omitempty"`
}

// Tolerances used by Plan and Commit.
type Tolerances struct {
	// Eps separates zero from nonzero axis deltas and bounds the
	// anchored-span check.
	Eps float64
	// CoincidentXZ and CoincidentY define "same point" for Commit.
	CoincidentXZ float64
	CoincidentY  float64
}

// DefaultTolerances returns 1e-6 / 1e-4 / 1e-6.
func DefaultTolerances() Tolerances {
	return Tolerances{Eps: 1e-6, CoincidentXZ: 1e-4, CoincidentY: 1e-6}
}

// Options tune Plan.
type Options struct {
	Mode Mode
	// Anchors are extra nodes whose height may not move. A and B are
	// always anchors.
	Anchors []graph.NodeID
	// IncludeGraded lets the path use legs whose plan projection is
	// single-axis even though they already fall.
	IncludeGraded bool
	// BalancedFallback retries a failed balanced plan with lockBottom.
	BalancedFallback bool
	Tol              Tolerances
	Sink             trace.Sink
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeBalanced
	}
	if o.Tol == (Tolerances{}) {
		o.Tol = DefaultTolerances()
	}
	if o.Sink == nil {
		o.Sink = trace.Discard
	}
	return o
}

// Preview is the outcome of Plan. When OK is false only Reason and
// Details are meaningful.
type Preview struct {
	OK      bool           `json:"ok"`
	Reason  Reason         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`

	From  graph.NodeID `json:"from"`
	To    graph.NodeID `json:"to"`
	Grade float64      `json:"grade"`
	Mode  Mode         `json:"mode"`

	Path          []graph.NodeID           `json:"path"`
	Sections      []Section                `json:"sections"`
	TargetY       map[graph.NodeID]float64 `json:"targetYByNode"`
	AffectedEdges []graph.EdgeID           `json:"affectedEdges"`
	Warnings      []Warning                `json:"warnings"`

	tol  Tolerances
	sink trace.Sink
}

func (p Preview) fail(r Reason, details map[string]any) Preview {
	p.OK = false
	p.Reason = r
	p.Details = details
	return p
}

// Plan computes a slope preview from A to B at the given grade.
func Plan(ctx context.Context, g *graph.Graph, from, to graph.NodeID, grade float64, opts Options) Preview {
	if ctx == nil {
		ctx = context.Background()
	}
	opts = opts.withDefaults()
	ctx, span := tracer.Start(ctx, "slope.plan", oteltrace.WithAttributes(
		attribute.String("isopipe.from", string(from)),
		attribute.String("isopipe.to", string(to)),
		attribute.Float64("isopipe.grade", grade),
		attribute.String("isopipe.mode", string(opts.Mode)),
	))
	defer span.End()

	p := plan(g, from, to, grade, opts)
	if !p.OK && p.Reason == ReasonANotHigherThanB && opts.Mode == ModeBalanced && opts.BalancedFallback {
		fb := opts
		fb.Mode = ModeLockBottom
		p = plan(g, from, to, grade, fb)
		p.Warnings = append([]Warning{{
			Kind: WarnBalancedFallback,
			From: from,
			To:   to,
			Msg:  "A is not higher than B; planned with lockBottom",
		}}, p.Warnings...)
	}

	span.SetAttributes(attribute.Bool("isopipe.ok", p.OK))
	if p.OK {
		opts.Sink.Emit(ctx, trace.Record{Stage: "slope", Event: "planned", Node: string(from),
			Msg: string(p.Mode), Attrs: map[string]any{"to": string(to), "nodes": len(p.Path), "warnings": len(p.Warnings)}})
	} else {
		span.SetAttributes(attribute.String("isopipe.reason", string(p.Reason)))
		opts.Sink.Emit(ctx, trace.Record{Stage: "slope", Event: "rejected", Node: string(from),
			Msg: string(p.Reason), Attrs: p.Details})
	}
	return p
}

func plan(g *graph.Graph, from, to graph.NodeID, grade float64, opts Options) Preview {
	eps := opts.Tol.Eps
	p := Preview{
		From:          from,
		To:            to,
		Grade:         grade,
		Mode:          opts.Mode,
		TargetY:       map[graph.NodeID]float64{},
		AffectedEdges: []graph.EdgeID{},
		Warnings:      []Warning{},
		tol:           opts.Tol,
		sink:          opts.Sink,
	}

	if math.IsNaN(grade) || math.IsInf(grade, 0) || grade < 0 {
		return p.fail(ReasonInvalidGrade, map[string]any{"grade": grade})
	}
	if _, err := ParseMode(string(opts.Mode)); err != nil {
		return p.fail(ReasonInvalidMode, map[string]any{"mode": string(opts.Mode)})
	}
	for _, id := range append([]graph.NodeID{from, to}, opts.Anchors...) {
		if !g.HasNode(id) {
			return p.fail(ReasonUnknownNode, map[string]any{"nodeId": string(id)})
		}
	}

	path, ok := g.ShortestPath(from, to, legFilter(g, opts.IncludeGraded, eps))
	if !ok {
		return p.fail(ReasonNoPath, nil)
	}
	p.Path = path.Nodes

	pos := make(map[graph.NodeID]graph.Vec3, len(path.Nodes))
	yOrig := make(map[graph.NodeID]float64, len(path.Nodes))
	for _, id := range path.Nodes {
		hp, _ := g.NodeWorldPos(id)
		pos[id] = hp
		yOrig[id] = hp.Y
	}
	yA, yB := yOrig[from], yOrig[to]
	if opts.Mode == ModeBalanced && !(yA > yB+eps) {
		return p.fail(ReasonANotHigherThanB, map[string]any{"yA": yA, "yB": yB})
	}

	anchors := map[graph.NodeID]bool{from: true, to: true}
	for _, id := range opts.Anchors {
		anchors[id] = true
	}

	p.Sections = buildSections(path.Nodes, pos, anchors, eps)
	yNew := make(map[graph.NodeID]float64, len(yOrig))
	for id, y := range yOrig {
		yNew[id] = y
	}

	hasSpan := false
	for si, sec := range p.Sections {
		if sec.Kind != SectionSpan {
			continue
		}
		hasSpan = true
		riserUp, riserDown := p.Sections[si-1], p.Sections[si+1]
		upBottom, dnTop := sec.first(), sec.last()

		drops, total := spanDrops(sec, pos, yOrig, grade, eps, &p.Warnings)

		up0, dn0 := yNew[upBottom], yNew[dnTop]
		var up, dn float64
		switch anchoredUp, anchoredDn := anchors[upBottom], anchors[dnTop]; {
		case anchoredUp && anchoredDn:
			if math.Abs((up0-dn0)-total) > eps {
				return p.fail(ReasonAnchoredSpanConflict, map[string]any{
					"from":        string(upBottom),
					"to":          string(dnTop),
					"availableMm": up0 - dn0,
					"requiredMm":  total,
				})
			}
			up, dn = up0, dn0
		case anchoredUp:
			up = up0
			dn = up - total
		case anchoredDn:
			dn = dn0
			up = dn + total
		default:
			switch opts.Mode {
			case ModeLockTop:
				up = up0
				dn = up0 - total
			case ModeLockBottom:
				dn = dn0
				up = dn0 + total
			default:
				c := total - (up0 - dn0)
				up = up0 + c/2
				dn = dn0 - c/2
			}
		}

		// Walk the span downhill.
		y := up
		yNew[upBottom] = up
		for _, d := range drops {
			y -= d.drop
			yNew[d.to] = y
		}
		yNew[dnTop] = dn

		top := riserUp.first()
		yTop := yNew[top]
		if anchors[top] {
			yTop = yOrig[top]
		}
		mapRiser(riserUp, yTop, yNew[upBottom], yNew)

		bottom := riserDown.last()
		yBot := yNew[bottom]
		if anchors[bottom] {
			yBot = yOrig[bottom]
		}
		mapRiser(riserDown, yNew[dnTop], yBot, yNew)

		yNew[from] = yA
		yNew[to] = yB
	}

	p.OK = true
	p.TargetY = yNew
	if !hasSpan {
		return p
	}
	center := graph.OfKind(graph.KindCenter)
	for i := 0; i+1 < len(path.Nodes); i++ {
		if e := g.EdgeBetween(path.Nodes[i], path.Nodes[i+1], center); e != nil {
			p.AffectedEdges = append(p.AffectedEdges, e.ID)
		}
	}
	return p
}

// legFilter accepts edges whose hint delta changes exactly one axis. With
// includeGraded it also accepts legs that run along one plan axis while
// falling.
func legFilter(g *graph.Graph, includeGraded bool, eps float64) graph.EdgeFilter {
	return func(e *graph.Edge) bool {
		pa, _ := g.NodeWorldPos(e.A)
		pb, _ := g.NodeWorldPos(e.B)
		d := pb.Sub(pa)
		if d.NonZeroAxes(eps) == 1 {
			return true
		}
		return includeGraded && (math.Abs(d.X) > eps) != (math.Abs(d.Z) > eps)
	}
}
