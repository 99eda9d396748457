package solver

import (
	"math"

	"github.com/chazu/isopipe/pkg/graph"
)

// circleEps is the numeric floor for a single-point circle intersection.
const circleEps = 1e-9

type known struct {
	p graph.Vec3
	r float64
}

// triangulate places id from two measured edges to placed neighbours by
// intersecting their circles in the node's plane. It returns false when
// the configuration does not determine a point.
func (s *calc) triangulate(id graph.NodeID) (graph.Vec3, bool) {
	var ks []known
	for _, e := range s.g.IncidentEdges(id, nil) {
		if !e.HasLength() {
			continue
		}
		if p, ok := s.pos[e.Other(id)]; ok {
			ks = append(ks, known{p: p, r: e.Length()})
		}
	}
	if len(ks) < 2 {
		return graph.Vec3{}, false
	}
	n, ok := s.nodePlane(id)
	if !ok {
		return graph.Vec3{}, false
	}

	// The widest-spaced pair gives the best-conditioned intersection.
	i1, i2, best := 0, 1, -1.0
	for i := 0; i < len(ks); i++ {
		for j := i + 1; j < len(ks); j++ {
			if d := ks[i].p.Dist(ks[j].p); d > best {
				i1, i2, best = i, j, d
			}
		}
	}
	return circleIntersect(ks[i1], ks[i2], n, s.tol)
}

// circleIntersect solves |Q-p1| = r1, |Q-p2| = r2 for Q in the plane
// through the origin with unit normal n. Neighbours off the plane have
// their radii shortened by their height.
func circleIntersect(k1, k2 known, n graph.Vec3, tol Tolerances) (graph.Vec3, bool) {
	o := projectOut(k1.p, n)
	h1 := k1.p.Sub(o).Dot(n)
	h2 := k2.p.Sub(o).Dot(n)

	r1sq := k1.r*k1.r - h1*h1
	r2sq := k2.r*k2.r - h2*h2
	if r1sq < -tol.Geom || r2sq < -tol.Geom {
		return graph.Vec3{}, false
	}
	r1 := math.Sqrt(math.Max(0, r1sq))
	r2 := math.Sqrt(math.Max(0, r2sq))

	p2 := k2.p.Sub(n.Scale(h2))
	u, ok := p2.Sub(o).Normalize(tol.Structural)
	if !ok {
		return graph.Vec3{}, false
	}
	v := n.Cross(u)
	d := p2.Sub(o).Len()

	if d > r1+r2+tol.Geom || d < math.Abs(r1-r2)-tol.Geom {
		return graph.Vec3{}, false
	}
	a := (r1*r1 - r2*r2 + d*d) / (2 * d)
	h := math.Sqrt(math.Max(0, r1*r1-a*a))

	base := o.Add(u.Scale(a))
	if h <= circleEps {
		return base, true
	}
	// Of the two candidates, the one farther along v wins.
	return base.Add(v.Scale(h)), true
}
