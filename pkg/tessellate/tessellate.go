// Package tessellate turns a solved pipe layout into triangle meshes: one
// mesh per centre edge, plus a fitting mesh at every node where two or
// more pipes meet. It reads the graph and the solved coordinates and never
// mutates either.
package tessellate

import (
	"errors"
	"fmt"

	"github.com/chazu/isopipe/pkg/graph"
	"github.com/chazu/isopipe/pkg/kernel"
)

// DefaultODMm is the outer diameter used for edges without a pipe spec.
const DefaultODMm = 20

// fittingScale sizes a fitting relative to the largest pipe radius at
// the node.
const fittingScale = 1.15

// Options control tessellation.
type Options struct {
	// DefaultODMm applies to centre edges without a Spec.OD. Zero means
	// DefaultODMm.
	DefaultODMm float64
	// Hollow bores pipes that carry a wall thickness.
	Hollow bool
	// SkipFittings leaves out the node meshes.
	SkipFittings bool
}

// Skipped records an edge that could not be meshed.
type Skipped struct {
	Edge   graph.EdgeID `json:"edge"`
	Reason string       `json:"reason"`
}

// Result is the output of Tessellate.
type Result struct {
	Meshes  []*kernel.Mesh `json:"meshes"`
	Skipped []Skipped      `json:"skipped"`
}

// Tessellate meshes every centre edge whose endpoints are in coords.
// Edges with an unplaced endpoint or zero length are reported in Skipped.
func Tessellate(g *graph.Graph, coords map[graph.NodeID]graph.Vec3, k kernel.Kernel, opts Options) (*Result, error) {
	res := &Result{Meshes: []*kernel.Mesh{}, Skipped: []Skipped{}}
	if g == nil {
		return res, nil
	}
	if opts.DefaultODMm <= 0 {
		opts.DefaultODMm = DefaultODMm
	}

	for _, e := range g.Edges() {
		if e.Kind != graph.KindCenter {
			continue
		}
		a, okA := coords[e.A]
		b, okB := coords[e.B]
		if !okA || !okB {
			res.Skipped = append(res.Skipped, Skipped{Edge: e.ID, Reason: "unplaced endpoint"})
			continue
		}
		solid, err := pipeSolid(k, e, a, b, opts)
		if errors.Is(err, errZeroLength) {
			res.Skipped = append(res.Skipped, Skipped{Edge: e.ID, Reason: "zero length"})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("tessellate: edge %s: %w", e.ID, err)
		}
		mesh, err := k.ToMesh(solid)
		if err != nil {
			return nil, fmt.Errorf("tessellate: ToMesh failed for edge %s: %w", e.ID, err)
		}
		mesh.Part, mesh.Kind = string(e.ID), kernel.PartPipe
		res.Meshes = append(res.Meshes, mesh)
	}

	if opts.SkipFittings {
		return res, nil
	}
	for _, n := range g.Nodes() {
		mesh, err := fitting(g, k, n.ID, coords, opts)
		if err != nil {
			return nil, fmt.Errorf("tessellate: node %s: %w", n.ID, err)
		}
		if mesh != nil {
			res.Meshes = append(res.Meshes, mesh)
		}
	}
	return res, nil
}

var errZeroLength = errors.New("zero length")

// OuterRadius is half the edge's OD, or half of def without a spec.
func OuterRadius(e *graph.Edge, def float64) float64 {
	if e.Spec != nil && e.Spec.OD > 0 {
		return e.Spec.OD / 2
	}
	return def / 2
}

func pipeSolid(k kernel.Kernel, e *graph.Edge, a, b graph.Vec3, opts Options) (kernel.Solid, error) {
	if b.Sub(a).Len() <= graph.DefaultNearTol {
		return nil, errZeroLength
	}
	r := OuterRadius(e, opts.DefaultODMm)
	outer, err := k.Cylinder(a, b, r)
	if err != nil {
		return nil, err
	}
	if !opts.Hollow || e.Spec == nil || e.Spec.WT <= 0 || e.Spec.WT >= r {
		return outer, nil
	}
	// Overshoot the bore so the ends are open.
	dir := b.Sub(a).Scale(1 / b.Sub(a).Len())
	inner, err := k.Cylinder(a.Sub(dir), b.Add(dir), r-e.Spec.WT)
	if err != nil {
		return nil, err
	}
	return k.Difference(outer, inner), nil
}

// fitting returns a sphere mesh at nodes joining two or more meshed pipes.
func fitting(g *graph.Graph, k kernel.Kernel, id graph.NodeID, coords map[graph.NodeID]graph.Vec3, opts Options) (*kernel.Mesh, error) {
	p, ok := coords[id]
	if !ok {
		return nil, nil
	}
	var r float64
	placed := 0
	for _, nb := range g.Neighbors(id, graph.OfKind(graph.KindCenter)) {
		q, ok := coords[nb.Other]
		if !ok || q.Sub(p).Len() <= graph.DefaultNearTol {
			continue
		}
		placed++
		r = max(r, OuterRadius(nb.Edge, opts.DefaultODMm))
	}
	if placed < 2 {
		return nil, nil
	}
	s, err := k.Sphere(p, r*fittingScale)
	if err != nil {
		return nil, err
	}
	mesh, err := k.ToMesh(s)
	if err != nil {
		return nil, err
	}
	mesh.Part, mesh.Kind = string(id), kernel.PartFitting
	return mesh, nil
}
