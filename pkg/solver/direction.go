package solver

import (
	"math"

	"github.com/chazu/isopipe/pkg/graph"
)

// hintSignEps is the projected-hint length below which a hint gives no sign.
const hintSignEps = 1e-12

// direction resolves the unit vector pointing from `from` along e.
//
// Constrained directions are computed in the edge's own a→b orientation,
// with their sign matched to the a→b hint, and negated once when walking
// from b. Tee branches are resolved directly away from the tee node.
func (s *calc) direction(e *graph.Edge, from graph.NodeID) (graph.Vec3, bool) {
	if !e.Meta.HasDirectional() {
		if isTeeBranch(s.g, e, from) {
			return s.teeBranchDir(e, from)
		}
		if far := e.Other(from); isTeeBranch(s.g, e, far) {
			d, ok := s.teeBranchDir(e, far)
			return d.Neg(), ok
		}
	}
	d, ok := s.directionAB(e, from)
	if !ok {
		return graph.Vec3{}, false
	}
	if from == e.B {
		d = d.Neg()
	}
	return d, true
}

// directionAB resolves e's constraint into an a→b unit vector.
// Priority: AxisLock, AngleTo, PerpTo, ParallelTo, then the implicit
// dominant-axis rule for construction edges.
func (s *calc) directionAB(e *graph.Edge, from graph.NodeID) (graph.Vec3, bool) {
	h := s.hint(e.B).Sub(s.hint(e.A))

	if ax, ok := e.Meta.AxisLock(); ok {
		return axisSigned(ax.Axis, h), true
	}

	if c, ok := e.Meta.AngleTo(); ok {
		ref, okRef := s.placedDir(c.Ref)
		n, okN := s.edgePlane(e, from)
		if !okRef || !okN {
			return graph.Vec3{}, false
		}
		d, ok := rotateAbout(ref, n, c.Deg*math.Pi/180).Normalize(s.tol.Structural)
		if !ok {
			return graph.Vec3{}, false
		}
		return signByHint(d, projectOut(h, n)), true
	}

	if c, ok := e.Meta.PerpTo(); ok {
		ref, okRef := s.placedDir(c.Ref)
		n, okN := s.edgePlane(e, from)
		if !okRef || !okN {
			return graph.Vec3{}, false
		}
		d, ok := n.Cross(ref).Normalize(s.tol.Structural)
		if !ok {
			return graph.Vec3{}, false
		}
		return signByHint(d, projectOut(h, n)), true
	}

	if c, ok := e.Meta.ParallelTo(); ok {
		ref, okRef := s.placedDir(c.Ref)
		if !okRef {
			return graph.Vec3{}, false
		}
		if n, okN := s.edgePlane(e, from); okN {
			h = projectOut(h, n)
		}
		return signByHint(ref, h), true
	}

	if e.Kind == graph.KindConstruction {
		return axisSigned(h.DominantAxis(), h), true
	}
	return graph.Vec3{}, false
}

// teeBranchDir returns the unit direction from the onSegment node tee
// along its branch e, perpendicular to the runner.
func (s *calc) teeBranchDir(e *graph.Edge, tee graph.NodeID) (graph.Vec3, bool) {
	seg := s.g.Node(tee).Meta.OnSegment
	u, ok := s.runnerDir(seg)
	if !ok {
		return graph.Vec3{}, false
	}
	h := s.hint(e.Other(tee)).Sub(s.hint(tee))

	if n, ok := s.nodePlane(tee); ok {
		if d, ok := n.Cross(u).Normalize(s.tol.Structural); ok {
			return signByHint(d, projectOut(projectOut(h, u), n)), true
		}
	}
	if d, ok := projectOut(h, u).Normalize(s.tol.Structural); ok {
		return d, true
	}

	// Most orthogonal world axis, projected off the runner.
	best, bestScore := graph.AxisX, -1.0
	for _, a := range []graph.Axis{graph.AxisX, graph.AxisY, graph.AxisZ} {
		if score := 1 - math.Abs(a.Unit().Dot(u)); score > bestScore {
			best, bestScore = a, score
		}
	}
	return projectOut(best.Unit(), u).Normalize(s.tol.Structural)
}

// runnerDir is the segment direction from solved coordinates when both
// ends are placed, else from hints.
func (s *calc) runnerDir(seg *graph.Segment) (graph.Vec3, bool) {
	pa, okA := s.pos[seg.A]
	pb, okB := s.pos[seg.B]
	if okA && okB {
		if u, ok := pb.Sub(pa).Normalize(s.tol.Structural); ok {
			return u, true
		}
	}
	return s.hint(seg.B).Sub(s.hint(seg.A)).Normalize(s.tol.Structural)
}

// axisSigned returns ±a.Unit(), negative only when h points backwards.
func axisSigned(a graph.Axis, h graph.Vec3) graph.Vec3 {
	if h.Component(a) < 0 {
		return a.Unit().Neg()
	}
	return a.Unit()
}

// signByHint flips d to agree with h. A vanishing h leaves d unchanged.
func signByHint(d, h graph.Vec3) graph.Vec3 {
	if h.Len() < hintSignEps {
		return d
	}
	if d.Dot(h) < 0 {
		return d.Neg()
	}
	return d
}

// projectOut removes the component of v along the unit vector n.
func projectOut(v, n graph.Vec3) graph.Vec3 {
	return v.Sub(n.Scale(v.Dot(n)))
}

// rotateAbout rotates v by rad around the unit axis k (Rodrigues).
func rotateAbout(v, k graph.Vec3, rad float64) graph.Vec3 {
	cos, sin := math.Cos(rad), math.Sin(rad)
	return v.Scale(cos).
		Add(k.Cross(v).Scale(sin)).
		Add(k.Scale(k.Dot(v) * (1 - cos)))
}
