package solver

import (
	"math"

	"github.com/chazu/isopipe/pkg/graph"
)

// Placement methods recorded in Embedding.Method.
const (
	MethodAnchor      = "anchor"
	MethodDirect      = "direct"
	MethodOnSegment   = "onSegment"
	MethodStraight    = "straight"
	MethodTriangulate = "triangulate"
)

// Embedding is the result of a full solve: solved coordinates in mm plus
// derived lengths for every edge that carries no length.
type Embedding struct {
	Coords map[graph.NodeID]graph.Vec3
	// Order is the placement order, anchor first.
	Order []graph.NodeID
	// Method records how each node was placed.
	Method  map[graph.NodeID]string
	Derived map[graph.EdgeID]float64
}

// Pos returns the solved position of id.
func (e *Embedding) Pos(id graph.NodeID) (graph.Vec3, bool) {
	p, ok := e.Coords[id]
	return p, ok
}

// calc is the state of one metric pass.
type calc struct {
	c   *Context
	g   *graph.Graph
	tol Tolerances
	pos map[graph.NodeID]graph.Vec3
	emb *Embedding
}

// Solve computes an embedding of g with a throwaway Context.
func Solve(g *graph.Graph) (*Embedding, bool) {
	return NewContext(nil, g).Solve()
}

// Solve runs the metric calculator. It never mutates the graph; it returns
// false when the recipe is not solvable or some node stays unplaced.
func (c *Context) Solve() (*Embedding, bool) {
	ok := false
	end := c.begin("solve")
	defer func() { end(&ok) }()

	res := c.check()
	if !res.OK {
		c.emit("calc", "unsolvable", "", "", string(res.Reason), res.Details)
		return nil, false
	}

	var anchor graph.NodeID
	for _, n := range c.Graph.Nodes() {
		if n.Meta.IsAnchor {
			anchor = n.ID
			break
		}
	}

	s := &calc{
		c:   c,
		g:   c.Graph,
		tol: c.Tol,
		pos: make(map[graph.NodeID]graph.Vec3, c.Graph.NodeCount()),
		emb: &Embedding{
			Method:  make(map[graph.NodeID]string, c.Graph.NodeCount()),
			Derived: make(map[graph.EdgeID]float64),
		},
	}
	s.place(anchor, graph.Vec3{}, MethodAnchor, "")
	s.run()

	if len(s.pos) != c.Graph.NodeCount() {
		var missing []string
		for _, id := range c.Graph.NodeIDs() {
			if _, ok := s.pos[id]; !ok {
				missing = append(missing, string(id))
			}
		}
		c.emit("calc", "unplaced", "", "", "nodes left unplaced", map[string]any{"nodes": missing})
		return nil, false
	}

	for _, e := range c.Graph.Edges() {
		if e.HasLength() {
			continue
		}
		s.emb.Derived[e.ID] = s.pos[e.A].Dist(s.pos[e.B])
	}
	s.emb.Coords = s.pos
	ok = true
	return s.emb, true
}

func (s *calc) hint(id graph.NodeID) graph.Vec3 {
	p, _ := s.g.NodeWorldPos(id)
	return p
}

func (s *calc) placed(id graph.NodeID) bool {
	_, ok := s.pos[id]
	return ok
}

func (s *calc) place(id graph.NodeID, p graph.Vec3, method string, via graph.EdgeID) {
	s.pos[id] = p
	s.emb.Order = append(s.emb.Order, id)
	s.emb.Method[id] = method
	recordPlacement(s.c.ctx, method)
	s.c.emit("calc", "placed", id, via, method, map[string]any{"x": p.X, "y": p.Y, "z": p.Z})
}

// run repeats the placement passes until nothing new is placed.
func (s *calc) run() {
	limit := s.tol.passBound(s.g.EdgeCount())
	for pass := 0; pass < limit; pass++ {
		progress := s.directPass()
		progress = s.onSegmentPass() || progress
		progress = s.straightPass() || progress
		progress = s.triangulationPass() || progress
		if !progress {
			return
		}
	}
	s.c.emit("calc", "pass_limit", "", "", "propagation stopped at the pass bound", map[string]any{"limit": limit})
}

func (s *calc) directPass() bool {
	progress := false
	for _, e := range s.g.Edges() {
		if !e.HasLength() {
			continue
		}
		aIn, bIn := s.placed(e.A), s.placed(e.B)
		if aIn == bIn {
			continue
		}
		from, to := e.A, e.B
		if bIn {
			from, to = e.B, e.A
		}
		dir, ok := s.direction(e, from)
		if !ok {
			continue
		}
		s.place(to, s.pos[from].Add(dir.Scale(e.Length())), MethodDirect, e.ID)
		progress = true
	}
	return progress
}

// onSegmentPass interpolates a split node along its segment once both ends
// and one sub-length are known.
func (s *calc) onSegmentPass() bool {
	progress := false
	for _, n := range s.g.Nodes() {
		seg := n.Meta.OnSegment
		if seg == nil || s.placed(n.ID) {
			continue
		}
		pa, okA := s.pos[seg.A]
		pb, okB := s.pos[seg.B]
		if !okA || !okB {
			continue
		}
		u, ok := pb.Sub(pa).Normalize(s.tol.Structural)
		if !ok {
			continue
		}
		for _, e := range s.g.IncidentEdges(n.ID, nil) {
			if !e.HasLength() {
				continue
			}
			switch e.Other(n.ID) {
			case seg.A:
				s.place(n.ID, pa.Add(u.Scale(e.Length())), MethodOnSegment, e.ID)
			case seg.B:
				s.place(n.ID, pb.Sub(u.Scale(e.Length())), MethodOnSegment, e.ID)
			default:
				continue
			}
			progress = true
			break
		}
	}
	return progress
}

// straightPass interpolates a straight-through node between its two
// placed neighbours using one known side.
func (s *calc) straightPass() bool {
	progress := false
	for _, n := range s.g.Nodes() {
		if n.Meta.Topo != graph.TopoStraight || s.placed(n.ID) {
			continue
		}
		ce := s.g.IncidentEdges(n.ID, graph.OfKind(graph.KindCenter))
		if len(ce) != 2 {
			continue
		}
		a, b := ce[0].Other(n.ID), ce[1].Other(n.ID)
		pa, okA := s.pos[a]
		pb, okB := s.pos[b]
		if !okA || !okB {
			continue
		}
		u, ok := pb.Sub(pa).Normalize(s.tol.Structural)
		if !ok {
			continue
		}
		switch {
		case ce[0].HasLength():
			s.place(n.ID, pa.Add(u.Scale(ce[0].Length())), MethodStraight, ce[0].ID)
		case ce[1].HasLength():
			s.place(n.ID, pb.Sub(u.Scale(ce[1].Length())), MethodStraight, ce[1].ID)
		default:
			continue
		}
		progress = true
	}
	return progress
}

func (s *calc) triangulationPass() bool {
	progress := false
	for _, n := range s.g.Nodes() {
		if s.placed(n.ID) {
			continue
		}
		if p, ok := s.triangulate(n.ID); ok {
			s.place(n.ID, p, MethodTriangulate, "")
			progress = true
		}
	}
	return progress
}

// ApplyEmbedding writes the embedding back onto the graph: derived lengths
// on every edge that had none, and conflict flags on user edges
// whose solved length disagrees by more than the conflict tolerance.
// Writes are silent and guarded.
func (c *Context) ApplyEmbedding(emb *Embedding) {
	if emb == nil {
		return
	}
	for _, e := range c.Graph.Edges() {
		pa, okA := emb.Coords[e.A]
		pb, okB := emb.Coords[e.B]
		if !okA || !okB {
			continue
		}
		d := pa.Dist(pb)
		var cur graph.Dimension
		if e.Dim != nil {
			cur = *e.Dim.Clone()
		}
		if cur.Source == graph.SourceUser && e.HasLength() {
			delta := math.Abs(cur.ValueMm - d)
			switch {
			case delta > c.Tol.UserConflictMm:
				cur.Conflict = &graph.Conflict{DeltaMm: delta}
				recordConflict(c.ctx, "calc")
				c.emit("calc", "conflict", "", e.ID, "user length disagrees with the solve", map[string]any{"deltaMm": delta})
			case cur.Conflict != nil:
				cur.Conflict = nil
			default:
				continue
			}
			c.write("calc", e.ID, cur, true)
			continue
		}
		if _, ok := emb.Derived[e.ID]; !ok {
			continue
		}
		c.write("calc", e.ID, graph.Dimension{
			ValueMm:     d,
			Source:      graph.SourceDerived,
			Mode:        cur.Mode,
			Label:       cur.Label,
			DerivedFrom: "solve",
		}, true)
	}
}
