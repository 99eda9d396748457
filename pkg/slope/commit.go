package slope

import (
	"context"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"github.com/chazu/isopipe/pkg/graph"
	"github.com/chazu/isopipe/pkg/trace"
)

// CommitResult reports what Commit changed.
type CommitResult struct {
	OK     bool   `json:"ok"`
	Reason Reason `json:"reason,omitempty"`

	Path []graph.NodeID `json:"path"`
	// Moved are path nodes whose height changed.
	Moved []graph.NodeID `json:"moved"`
	// Dragged are off-path nodes that coincided with a moved node.
	Dragged       []graph.NodeID `json:"dragged"`
	AffectedEdges []graph.EdgeID `json:"affectedEdges"`
}

// Commit writes a preview's target heights to the node hints. Nodes that
// sat on top of a moved node before the move follow it.
func Commit(ctx context.Context, g *graph.Graph, p Preview) CommitResult {
	if ctx == nil {
		ctx = context.Background()
	}
	res := CommitResult{
		Path:          p.Path,
		Moved:         []graph.NodeID{},
		Dragged:       []graph.NodeID{},
		AffectedEdges: []graph.EdgeID{},
	}
	if !p.OK {
		res.Reason = ReasonNoPreview
		return res
	}
	tol := p.tol
	if tol == (Tolerances{}) {
		tol = DefaultTolerances()
	}
	sink := p.sink
	if sink == nil {
		sink = trace.Discard
	}
	ctx, span := tracer.Start(ctx, "slope.commit")
	defer span.End()

	before := make(map[graph.NodeID]graph.Vec3, g.NodeCount())
	for _, n := range g.Nodes() {
		before[n.ID] = n.World()
	}

	targets := make(map[graph.NodeID]float64, len(p.TargetY))
	var order []graph.NodeID
	for _, id := range p.Path {
		y, ok := p.TargetY[id]
		if !ok || !g.HasNode(id) {
			continue
		}
		targets[id] = y
		order = append(order, id)
		if before[id].Y != y {
			res.Moved = append(res.Moved, id)
		}
	}

	for _, id := range res.Moved {
		src := before[id]
		for _, n := range g.Nodes() {
			if _, onPath := targets[n.ID]; onPath {
				continue
			}
			q := before[n.ID]
			if math.Hypot(q.X-src.X, q.Z-src.Z) <= tol.CoincidentXZ && math.Abs(q.Y-src.Y) <= tol.CoincidentY {
				targets[n.ID] = targets[id]
				order = append(order, n.ID)
				res.Dragged = append(res.Dragged, n.ID)
			}
		}
	}

	for _, id := range order {
		g.SetNodeWorldY(id, targets[id])
	}

	seen := map[graph.EdgeID]bool{}
	for _, id := range p.AffectedEdges {
		seen[id] = true
		res.AffectedEdges = append(res.AffectedEdges, id)
	}
	for _, id := range g.CollectAffectedEdges(res.Dragged, graph.KindCenter) {
		if !seen[id] {
			seen[id] = true
			res.AffectedEdges = append(res.AffectedEdges, id)
		}
	}

	res.OK = true
	span.SetAttributes(
		attribute.Int("isopipe.moved", len(res.Moved)),
		attribute.Int("isopipe.dragged", len(res.Dragged)),
	)
	sink.Emit(ctx, trace.Record{Stage: "slope", Event: "committed", Node: string(p.From),
		Attrs: map[string]any{"moved": len(res.Moved), "dragged": len(res.Dragged)}})
	return res
}
