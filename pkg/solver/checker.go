package solver

import (
	"sort"

	"github.com/chazu/isopipe/pkg/graph"
)

// Reason names the first solvability rule a recipe breaks.
type Reason string

const (
	ReasonAnchorCount         Reason = "anchor_count"
	ReasonNoAbsoluteReference Reason = "no_absolute_reference"
	ReasonDisconnected        Reason = "disconnected_subgraph"
	ReasonDimensionMissing    Reason = "dimension_missing"
	ReasonAmbiguousLocation   Reason = "ambiguous_location"
	ReasonInsufficient        Reason = "insufficient_constraints_at_node"
	ReasonDimensionConflict   Reason = "dimension_conflict"
)

// Result is the verdict of CheckSolvable. Details is nil on success.
type Result struct {
	OK      bool           `json:"ok"`
	Reason  Reason         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func fail(r Reason, details map[string]any) Result {
	return Result{Reason: r, Details: details}
}

// CheckSolvable runs the solvability rules on g with a throwaway Context.
func CheckSolvable(g *graph.Graph) Result {
	return NewContext(nil, g).CheckSolvable()
}

// CheckSolvable reports whether the graph has a unique metric embedding.
// Only the first failing rule is reported. The graph is not modified.
func (c *Context) CheckSolvable() Result {
	ok := false
	end := c.begin("check")
	defer func() { end(&ok) }()

	res := c.check()
	ok = res.OK
	if res.OK {
		c.emit("check", "ok", "", "", "", nil)
	} else {
		c.emit("check", "fail", "", "", string(res.Reason), res.Details)
	}
	return res
}

func (c *Context) check() Result {
	g := c.Graph

	// 1. exactly one anchor
	var anchors []*graph.Node
	for _, n := range g.Nodes() {
		if n.Meta.IsAnchor {
			anchors = append(anchors, n)
		}
	}
	if len(anchors) != 1 {
		return fail(ReasonAnchorCount, map[string]any{"count": len(anchors)})
	}
	anchor := anchors[0].ID

	// 2. an axis lock next to the anchor fixes orientation
	hasAbs := false
	for _, e := range g.IncidentEdges(anchor, nil) {
		if _, ok := e.Meta.AxisLock(); ok {
			hasAbs = true
			break
		}
	}
	if !hasAbs {
		return fail(ReasonNoAbsoluteReference, map[string]any{"where": "anchor_neighborhood", "nodeId": string(anchor)})
	}

	// 3. connectivity
	if reach := g.Reachable(anchor, nil); len(reach) != g.NodeCount() {
		return fail(ReasonDisconnected, map[string]any{"reachable": len(reach), "total": g.NodeCount()})
	}

	// 4. dimensions
	if r, bad := checkDimensions(g, anchor); bad {
		return r
	}

	// 5. planes for planar constraints, and references
	for _, e := range g.Edges() {
		for _, ref := range e.Meta.RefEdges() {
			if g.Edge(ref) == nil {
				return fail(ReasonInsufficient, map[string]any{"edgeId": string(e.ID), "missing": string(ref)})
			}
		}
		_, perp := e.Meta.PerpTo()
		_, angle := e.Meta.AngleTo()
		if !perp && !angle {
			continue
		}
		if e.Meta.Plane() == nil && !nodeHasPlane(g, e.A) && !nodeHasPlane(g, e.B) {
			return fail(ReasonAmbiguousLocation, map[string]any{"edgeId": string(e.ID), "needs": "planeRef"})
		}
	}

	// 6. every node is placeable
	for _, n := range g.Nodes() {
		if n.ID == anchor {
			continue
		}
		if r, bad := checkPlaceable(g, n); bad {
			return r
		}
	}

	// 7. triangle inequality
	return checkTriangles(g)
}

// checkDimensions rejects explicit invalid values and missing lengths the
// solver cannot derive. A missing length is fine when every node can
// still be reached from the anchor over measured edges.
func checkDimensions(g *graph.Graph, anchor graph.NodeID) (Result, bool) {
	for _, e := range g.Edges() {
		if e.Dim != nil && e.Dim.ValueMm != 0 && !e.HasLength() {
			return fail(ReasonDimensionMissing, map[string]any{"edgeId": string(e.ID), "valueMm": e.Dim.ValueMm}), true
		}
	}
	measured := g.Reachable(anchor, func(e *graph.Edge) bool { return e.HasLength() })
	if len(measured) == g.NodeCount() {
		return Result{}, false
	}
	reached := make(map[graph.NodeID]bool, len(measured))
	for _, id := range measured {
		reached[id] = true
	}
	for _, e := range g.Edges() {
		if !e.HasLength() && (!reached[e.A] || !reached[e.B]) {
			return fail(ReasonDimensionMissing, map[string]any{"edgeId": string(e.ID)}), true
		}
	}
	for _, id := range g.NodeIDs() {
		if !reached[id] {
			return fail(ReasonDimensionMissing, map[string]any{"nodeId": string(id)}), true
		}
	}
	return Result{}, false
}

// nodeHasPlane reports whether a plane is declared at the node: its tee
// plane or any incident Coplanar constraint.
func nodeHasPlane(g *graph.Graph, id graph.NodeID) bool {
	n := g.Node(id)
	if n == nil {
		return false
	}
	if n.Meta.TeePlane != nil {
		return true
	}
	for _, e := range g.IncidentEdges(id, nil) {
		if e.Meta.Plane() != nil {
			return true
		}
	}
	return false
}

func checkPlaceable(g *graph.Graph, n *graph.Node) (Result, bool) {
	inc := g.IncidentEdges(n.ID, nil)
	if len(inc) == 0 {
		return fail(ReasonInsufficient, map[string]any{"nodeId": string(n.ID), "why": "no_incident_edges"}), true
	}

	measured := 0
	for _, e := range inc {
		if e.Meta.HasDirectional() {
			return Result{}, false
		}
		if e.HasLength() {
			measured++
		}
	}
	hasPlane := nodeHasPlane(g, n.ID)
	if measured >= 2 && hasPlane {
		return Result{}, false
	}

	for _, e := range inc {
		if e.Kind == graph.KindConstruction && hintLen(g, e) > StructuralEps {
			return Result{}, false
		}
	}
	if seg := n.Meta.OnSegment; seg != nil {
		for _, e := range inc {
			o := e.Other(n.ID)
			if e.HasLength() && (o == seg.A || o == seg.B) {
				return Result{}, false
			}
		}
	}
	if n.Meta.Topo == graph.TopoStraight {
		for _, e := range g.IncidentEdges(n.ID, graph.OfKind(graph.KindCenter)) {
			if e.HasLength() {
				return Result{}, false
			}
		}
	}
	for _, e := range inc {
		if isTeeBranch(g, e, e.Other(n.ID)) {
			return Result{}, false
		}
	}

	return fail(ReasonInsufficient, map[string]any{
		"nodeId":                             string(n.ID),
		"why":                                "needs_direction_or_triangulation",
		"hasAtLeastTwoMeasuredIncidentEdges": measured >= 2,
		"hasPlaneRef":                        hasPlane,
	}), true
}

// isTeeBranch reports whether e leaves the onSegment node at sideways,
// i.e. it is not part of the segment the node splits.
func isTeeBranch(g *graph.Graph, e *graph.Edge, at graph.NodeID) bool {
	n := g.Node(at)
	if n == nil || n.Meta.OnSegment == nil || e.Meta.HasDirectional() {
		return false
	}
	far := e.Other(at)
	return far != n.Meta.OnSegment.A && far != n.Meta.OnSegment.B
}

func hintLen(g *graph.Graph, e *graph.Edge) float64 {
	a, _ := g.NodeWorldPos(e.A)
	b, _ := g.NodeWorldPos(e.B)
	return a.Dist(b)
}

// checkTriangles tests every triple of mutually connected, fully measured
// nodes, in insertion order.
func checkTriangles(g *graph.Graph) Result {
	ids := g.NodeIDs()
	order := make(map[graph.NodeID]int, len(ids))
	for i, id := range ids {
		order[id] = i
	}
	later := func(of graph.NodeID, after int) []graph.NodeID {
		var out []graph.NodeID
		seen := map[graph.NodeID]bool{}
		for _, nb := range g.Neighbors(of, nil) {
			if order[nb.Other] > after && !seen[nb.Other] {
				seen[nb.Other] = true
				out = append(out, nb.Other)
			}
		}
		sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
		return out
	}

	for i, n1 := range ids {
		for _, n2 := range later(n1, i) {
			e12 := g.EdgeBetween(n1, n2, nil)
			if !e12.HasLength() {
				continue
			}
			for _, n3 := range later(n2, order[n2]) {
				e23 := g.EdgeBetween(n2, n3, nil)
				e13 := g.EdgeBetween(n1, n3, nil)
				if e13 == nil || !e23.HasLength() || !e13.HasLength() {
					continue
				}
				a, b, c := e12.Length(), e23.Length(), e13.Length()
				if a+b <= c+GeomEps || a+c <= b+GeomEps || b+c <= a+GeomEps {
					return fail(ReasonDimensionConflict, map[string]any{
						"nodes": []string{string(n1), string(n2), string(n3)},
						"edges": []string{string(e12.ID), string(e23.ID), string(e13.ID)},
					})
				}
			}
		}
	}
	return Result{OK: true}
}
