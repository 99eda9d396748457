// Package sdfx implements kernel.Kernel with the github.com/deadsy/sdfx
// signed-distance-field CAD library.
package sdfx

import (
	"errors"
	"fmt"
	"math"

	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"

	"github.com/chazu/isopipe/pkg/graph"
	"github.com/chazu/isopipe/pkg/kernel"
)

var _ kernel.Kernel = (*Kernel)(nil)

// DefaultMeshCells is the marching-cubes resolution along the longest
// side of a solid's bounding box.
const DefaultMeshCells = 120

// minSpan is the shortest cylinder the kernel will build, in mm.
const minSpan = 1e-6

// ErrDegenerate is returned for zero-length cylinders and non-positive radii.
var ErrDegenerate = errors.New("degenerate solid")

type solid struct {
	s sdf.SDF3
}

func (s *solid) BoundingBox() (min, max [3]float64) {
	bb := s.s.BoundingBox()
	return [3]float64{bb.Min.X, bb.Min.Y, bb.Min.Z}, [3]float64{bb.Max.X, bb.Max.Y, bb.Max.Z}
}

// Kernel implements kernel.Kernel using sdfx.
type Kernel struct {
	Cells int
}

// New returns a kernel meshing at the given resolution; cells <= 0 means
// DefaultMeshCells.
func New(cells int) *Kernel {
	if cells <= 0 {
		cells = DefaultMeshCells
	}
	return &Kernel{Cells: cells}
}

func unwrap(s kernel.Solid) sdf.SDF3 {
	return s.(*solid).s
}

func wrap(s sdf.SDF3) kernel.Solid {
	return &solid{s: s}
}

func vec(p graph.Vec3) v3.Vec {
	return v3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

// Cylinder builds an sdfx cylinder (centred on the origin along +Z),
// turns +Z onto the span direction and moves it to the span midpoint.
func (k *Kernel) Cylinder(from, to graph.Vec3, radius float64) (kernel.Solid, error) {
	d := to.Sub(from)
	length := d.Len()
	if length <= minSpan || !(radius > 0) {
		return nil, fmt.Errorf("%w: cylinder length %g radius %g", ErrDegenerate, length, radius)
	}
	c, err := sdf.Cylinder3D(length, radius, 0)
	if err != nil {
		return nil, fmt.Errorf("sdfx cylinder: %w", err)
	}
	u := d.Scale(1 / length)
	var rot sdf.M44
	if u.Z < -1+1e-12 {
		// RotateToVector has no unique axis for the antiparallel case.
		rot = sdf.RotateX(math.Pi)
	} else {
		rot = sdf.RotateToVector(v3.Vec{Z: 1}, vec(u))
	}
	mid := from.Add(d.Scale(0.5))
	m := sdf.Translate3d(vec(mid)).Mul(rot)
	return wrap(sdf.Transform3D(c, m)), nil
}

// Sphere builds a sphere at center.
func (k *Kernel) Sphere(center graph.Vec3, radius float64) (kernel.Solid, error) {
	if !(radius > 0) {
		return nil, fmt.Errorf("%w: sphere radius %g", ErrDegenerate, radius)
	}
	s, err := sdf.Sphere3D(radius)
	if err != nil {
		return nil, fmt.Errorf("sdfx sphere: %w", err)
	}
	return wrap(sdf.Transform3D(s, sdf.Translate3d(vec(center)))), nil
}

// Union returns a ∪ b.
func (k *Kernel) Union(a, b kernel.Solid) kernel.Solid {
	return wrap(sdf.Union3D(unwrap(a), unwrap(b)))
}

// Difference returns a − b.
func (k *Kernel) Difference(a, b kernel.Solid) kernel.Solid {
	return wrap(sdf.Difference3D(unwrap(a), unwrap(b)))
}

// ToMesh renders s with uniform marching cubes and flat per-face normals.
func (k *Kernel) ToMesh(s kernel.Solid) (*kernel.Mesh, error) {
	cells := k.Cells
	if cells <= 0 {
		cells = DefaultMeshCells
	}
	triangles := render.ToTriangles(unwrap(s), render.NewMarchingCubesUniform(cells))

	n := len(triangles) * 3
	m := &kernel.Mesh{
		Vertices: make([]float32, 0, n*3),
		Normals:  make([]float32, 0, n*3),
		Indices:  make([]uint32, 0, n),
	}
	for i, tri := range triangles {
		nv := tri.Normal()
		for j := 0; j < 3; j++ {
			v := tri[j]
			m.Vertices = append(m.Vertices, float32(v.X), float32(v.Y), float32(v.Z))
			m.Normals = append(m.Normals, float32(nv.X), float32(nv.Y), float32(nv.Z))
			m.Indices = append(m.Indices, uint32(i*3+j))
		}
	}
	return m, nil
}
