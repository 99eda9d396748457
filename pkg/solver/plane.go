package solver

import (
	"math"

	"github.com/chazu/isopipe/pkg/graph"
)

// upFallbackDot is the |d·up| above which ByEdgeUp picks another up vector.
const upFallbackDot = 0.99

// placedDir returns the unit a→b direction of an edge whose endpoints are
// both placed.
func (s *calc) placedDir(id graph.EdgeID) (graph.Vec3, bool) {
	e := s.g.Edge(id)
	if e == nil {
		return graph.Vec3{}, false
	}
	pa, okA := s.pos[e.A]
	pb, okB := s.pos[e.B]
	if !okA || !okB {
		return graph.Vec3{}, false
	}
	return pb.Sub(pa).Normalize(s.tol.Structural)
}

// planeNormal resolves a plane reference against placed geometry.
func (s *calc) planeNormal(ref graph.PlaneRef) (graph.Vec3, bool) {
	switch p := ref.(type) {
	case graph.ByNormal:
		return p.N.Normalize(s.tol.Structural)
	case graph.ByEdges:
		d1, ok1 := s.placedDir(p.A)
		d2, ok2 := s.placedDir(p.B)
		if !ok1 || !ok2 {
			return graph.Vec3{}, false
		}
		return d1.Cross(d2).Normalize(s.tol.Structural)
	case graph.ByEdgeUp:
		d, ok := s.placedDir(p.Ref)
		if !ok {
			return graph.Vec3{}, false
		}
		return d.Cross(upFor(d)).Normalize(s.tol.Structural)
	}
	return graph.Vec3{}, false
}

// upFor returns world up, or a horizontal axis when d is nearly vertical.
func upFor(d graph.Vec3) graph.Vec3 {
	up := graph.Vec3{Y: 1}
	if math.Abs(d.Dot(up)) <= upFallbackDot {
		return up
	}
	if math.Abs(d.X) < upFallbackDot {
		return graph.Vec3{X: 1}
	}
	return graph.Vec3{Z: 1}
}

// nodePlane resolves the plane declared at a node: the tee plane first,
// then the first incident Coplanar that resolves.
func (s *calc) nodePlane(id graph.NodeID) (graph.Vec3, bool) {
	n := s.g.Node(id)
	if n == nil {
		return graph.Vec3{}, false
	}
	if n.Meta.TeePlane != nil {
		if v, ok := s.planeNormal(n.Meta.TeePlane); ok {
			return v, true
		}
	}
	for _, e := range s.g.IncidentEdges(id, nil) {
		if p := e.Meta.Plane(); p != nil {
			if v, ok := s.planeNormal(p); ok {
				return v, true
			}
		}
	}
	return graph.Vec3{}, false
}

// edgePlane resolves the plane for a constrained edge: its own Coplanar,
// then the plane at the placed endpoint, then the other endpoint.
func (s *calc) edgePlane(e *graph.Edge, from graph.NodeID) (graph.Vec3, bool) {
	if p := e.Meta.Plane(); p != nil {
		if v, ok := s.planeNormal(p); ok {
			return v, true
		}
	}
	if v, ok := s.nodePlane(from); ok {
		return v, true
	}
	return s.nodePlane(e.Other(from))
}
