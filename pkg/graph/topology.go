package graph

import (
	"math"
	"sort"
)

// Classification thresholds. These are numeric guards, not tolerances an
// operator would tune.
const (
	structuralEps  = 1e-9
	HorizEps       = 1e-9  // vertical if sqrt(dx²+dz²) is below this
	DotColinearMin = 0.999 // about 2.6 degrees
	DotOrthoMax    = 0.05  // about 87..93 degrees
	TieMargin      = 0.003 // runner pair must beat the next pair by this much
)

// Classification is the result of ClassifyNode.
type Classification struct {
	Topo         Topology
	DegreeCenter int
	Risers       []EdgeID
	RiserRole    string
	BendAngleRad float64
	Tee          *TeeInfo
	Notes        []string
}

type incidentDir struct {
	edge EdgeID
	dir  EdgeDir
}

// ClassifyNode classifies a node by its center edges using hint geometry.
// The result is orientation independent: it looks only at relative angles.
func (g *Graph) ClassifyNode(id NodeID) Classification {
	inc := g.IncidentEdges(id, OfKind(KindCenter))
	deg := len(inc)

	var dirs []incidentDir
	var risers []EdgeID
	for _, e := range inc {
		d, ok := g.EdgeDir3D(e.ID, id)
		if !ok {
			continue
		}
		if d.Lh <= HorizEps {
			risers = append(risers, e.ID)
		}
		dirs = append(dirs, incidentDir{edge: e.ID, dir: d})
	}

	c := Classification{DegreeCenter: deg, Risers: risers}
	switch {
	case deg == 0:
		c.Topo = TopoUnknown
	case deg == 1:
		c.Topo = TopoEndpoint
		if len(dirs) == 1 {
			c.RiserRole = riserRole(dirs[0].dir.Dir.Y)
		}
	case deg == 2:
		if len(dirs) < 2 {
			c.Topo = TopoJunction
			c.Notes = []string{"need_two_valid_dirs"}
			break
		}
		dot := dirs[0].dir.Dir.Dot(dirs[1].dir.Dir)
		if dot <= -DotColinearMin {
			c.Topo = TopoStraight
		} else {
			c.Topo = TopoBend
		}
		c.BendAngleRad = math.Acos(clamp(-dot, -1, 1))
	case deg == 3:
		classifyTee(&c, dirs)
	default:
		c.Topo = TopoJunction
		c.Notes = []string{"degree_ge_4"}
	}
	return c
}

func classifyTee(c *Classification, dirs []incidentDir) {
	if len(dirs) != 3 {
		c.Topo = TopoJunction
		c.Notes = []string{"need_three_valid_dirs"}
		return
	}
	type pair struct {
		i, j int
		dot  float64
	}
	pairs := []pair{{0, 1, 0}, {0, 2, 0}, {1, 2, 0}}
	for k := range pairs {
		pairs[k].dot = dirs[pairs[k].i].dir.Dir.Dot(dirs[pairs[k].j].dir.Dir)
	}
	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].dot < pairs[b].dot })
	best, second := pairs[0], pairs[1]

	if best.dot > -DotColinearMin {
		c.Topo = TopoJunction
		c.Notes = []string{"no_antiparallel_pair_for_runner"}
		return
	}
	if math.Abs(best.dot-second.dot) < TieMargin {
		c.Topo = TopoJunction
		c.Notes = []string{"ambiguous_runner_pair"}
		return
	}
	branch := 3 - best.i - best.j
	vb := dirs[branch].dir.Dir
	vr := dirs[best.i].dir.Dir
	if math.Abs(vb.Dot(vr)) > DotOrthoMax {
		c.Topo = TopoJunction
		c.Notes = []string{"branch_not_orthogonal_to_runner"}
		return
	}

	runner := [2]EdgeID{dirs[best.i].edge, dirs[best.j].edge}
	if runner[1] < runner[0] {
		runner[0], runner[1] = runner[1], runner[0]
	}
	c.Topo = TopoTee
	c.Tee = &TeeInfo{Runner: runner, Branch: dirs[branch].edge, Colinearity: -best.dot}
	for _, d := range dirs {
		if d.dir.Lh <= HorizEps {
			if role := riserRole(d.dir.Dir.Y); role != "" {
				c.RiserRole = role
			}
		}
	}
}

// riserRole names the node's end of a vertical edge: an edge going up
// from the node makes it the bottom.
func riserRole(dy float64) string {
	switch {
	case dy > DotColinearMin:
		return "bottom"
	case dy < -DotColinearMin:
		return "top"
	}
	return ""
}

// ClassifyResult reports what ClassifyAndStore changed.
type ClassifyResult struct {
	NodeID  NodeID
	Changed bool
	Prev    Topology
	Next    Topology
}

// ClassifyAndStore classifies a node and writes the result to its meta.
// The operator-supplied TeePlane is left untouched.
func (g *Graph) ClassifyAndStore(id NodeID) (ClassifyResult, bool) {
	n := g.Node(id)
	if n == nil {
		return ClassifyResult{}, false
	}
	prev := n.Meta.Topo
	c := g.ClassifyNode(id)
	n.Meta.Topo = c.Topo
	n.Meta.DegreeCenter = c.DegreeCenter
	n.Meta.Risers = c.Risers
	n.Meta.RiserRole = c.RiserRole
	n.Meta.Tee = c.Tee
	n.Meta.Notes = c.Notes
	if c.Topo == TopoBend {
		n.Meta.BendAngleRad = c.BendAngleRad
	} else {
		n.Meta.BendAngleRad = 0
	}
	return ClassifyResult{NodeID: id, Changed: prev != c.Topo, Prev: prev, Next: c.Topo}, true
}

// ClassifyAll classifies every node in insertion order.
func (g *Graph) ClassifyAll() []ClassifyResult {
	var out []ClassifyResult
	for _, id := range g.NodeIDs() {
		if r, ok := g.ClassifyAndStore(id); ok {
			out = append(out, r)
		}
	}
	return out
}

// InvalidateAroundEdge reclassifies an edge's endpoints and their
// center-edge neighbors.
func (g *Graph) InvalidateAroundEdge(id EdgeID) []ClassifyResult {
	e := g.Edge(id)
	if e == nil {
		return nil
	}
	near := []NodeID{e.A, e.B}
	seen := map[NodeID]bool{e.A: true, e.B: true}
	for _, nid := range []NodeID{e.A, e.B} {
		for _, nb := range g.Neighbors(nid, OfKind(KindCenter)) {
			if !seen[nb.Other] {
				seen[nb.Other] = true
				near = append(near, nb.Other)
			}
		}
	}
	var out []ClassifyResult
	for _, nid := range near {
		if r, ok := g.ClassifyAndStore(nid); ok {
			out = append(out, r)
		}
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
