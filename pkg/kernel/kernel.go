// Package kernel defines the geometry kernel used to turn a solved pipe
// layout into solids and meshes. The sdfx subpackage is the backend.
package kernel

import "github.com/chazu/isopipe/pkg/graph"

// Solid is an opaque handle to a kernel solid.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max [3]float64)
}

// Kernel builds pipe solids in world millimetres.
type Kernel interface {
	// Cylinder spans from..to with the given radius. It fails on a
	// zero-length span or a non-positive radius.
	Cylinder(from, to graph.Vec3, radius float64) (Solid, error)
	// Sphere is used to round off fittings where pipes meet.
	Sphere(center graph.Vec3, radius float64) (Solid, error)

	Union(a, b Solid) Solid
	Difference(a, b Solid) Solid

	ToMesh(s Solid) (*Mesh, error)
}
