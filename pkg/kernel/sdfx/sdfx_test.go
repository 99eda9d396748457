package sdfx

import (
	"errors"
	"math"
	"testing"

	"github.com/chazu/isopipe/pkg/graph"
)

func boundsNear(t *testing.T, min, max, wantMin, wantMax [3]float64, tol float64) {
	t.Helper()
	for i := 0; i < 3; i++ {
		if math.Abs(min[i]-wantMin[i]) > tol {
			t.Errorf("min[%d] = %f, expected ~%f", i, min[i], wantMin[i])
		}
		if math.Abs(max[i]-wantMax[i]) > tol {
			t.Errorf("max[%d] = %f, expected ~%f", i, max[i], wantMax[i])
		}
	}
}

func TestCylinderAlongAxes(t *testing.T) {
	tests := []struct {
		name     string
		from, to graph.Vec3
		min, max [3]float64
	}{
		{"plus x", graph.Vec3{}, graph.Vec3{X: 100}, [3]float64{0, -10, -10}, [3]float64{100, 10, 10}},
		{"riser", graph.Vec3{X: 5}, graph.Vec3{X: 5, Y: 50}, [3]float64{-5, 0, -10}, [3]float64{15, 50, 10}},
		{"minus z", graph.Vec3{Z: 40}, graph.Vec3{}, [3]float64{-10, -10, 0}, [3]float64{10, 10, 40}},
		{"plus z", graph.Vec3{}, graph.Vec3{Z: 40}, [3]float64{-10, -10, 0}, [3]float64{10, 10, 40}},
	}
	k := New(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := k.Cylinder(tt.from, tt.to, 10)
			if err != nil {
				t.Fatal(err)
			}
			min, max := s.BoundingBox()
			boundsNear(t, min, max, tt.min, tt.max, 0.5)
		})
	}
}

func TestCylinderDegenerate(t *testing.T) {
	k := New(0)
	if _, err := k.Cylinder(graph.Vec3{X: 1}, graph.Vec3{X: 1}, 10); !errors.Is(err, ErrDegenerate) {
		t.Errorf("zero length: got %v, want ErrDegenerate", err)
	}
	if _, err := k.Cylinder(graph.Vec3{}, graph.Vec3{X: 1}, 0); !errors.Is(err, ErrDegenerate) {
		t.Errorf("zero radius: got %v, want ErrDegenerate", err)
	}
	if _, err := k.Sphere(graph.Vec3{}, -1); !errors.Is(err, ErrDegenerate) {
		t.Errorf("negative sphere: got %v, want ErrDegenerate", err)
	}
}

func TestCylinderMesh(t *testing.T) {
	k := New(40)
	s, err := k.Cylinder(graph.Vec3{}, graph.Vec3{X: 60, Z: 60}, 8)
	if err != nil {
		t.Fatal(err)
	}
	mesh, err := k.ToMesh(s)
	if err != nil {
		t.Fatalf("ToMesh failed: %v", err)
	}
	if mesh.IsEmpty() || mesh.TriangleCount() == 0 {
		t.Fatal("mesh is empty")
	}
	if len(mesh.Vertices) != len(mesh.Normals) {
		t.Fatalf("vertices length %d != normals length %d", len(mesh.Vertices), len(mesh.Normals))
	}
	if len(mesh.Indices) != mesh.TriangleCount()*3 {
		t.Fatalf("indices length %d != triangles*3", len(mesh.Indices))
	}

	// Every vertex sits near the pipe surface: within radius of the axis.
	axis := graph.Vec3{X: 1, Z: 1}.Scale(1 / math.Sqrt2)
	for i := 0; i < len(mesh.Vertices); i += 3 {
		p := graph.Vec3{X: float64(mesh.Vertices[i]), Y: float64(mesh.Vertices[i+1]), Z: float64(mesh.Vertices[i+2])}
		radial := p.Sub(axis.Scale(p.Dot(axis))).Len()
		if radial > 8+2 {
			t.Fatalf("vertex %v is %.2f from the axis", p, radial)
		}
	}
}

func TestBoreDifference(t *testing.T) {
	k := New(60)
	outer, err := k.Cylinder(graph.Vec3{}, graph.Vec3{X: 100}, 20)
	if err != nil {
		t.Fatal(err)
	}
	inner, err := k.Cylinder(graph.Vec3{X: -1}, graph.Vec3{X: 101}, 15)
	if err != nil {
		t.Fatal(err)
	}
	solidMesh, err := k.ToMesh(outer)
	if err != nil {
		t.Fatal(err)
	}
	tube, err := k.ToMesh(k.Difference(outer, inner))
	if err != nil {
		t.Fatal(err)
	}
	if tube.TriangleCount() <= solidMesh.TriangleCount() {
		t.Errorf("tube (%d triangles) should need more triangles than the solid rod (%d)",
			tube.TriangleCount(), solidMesh.TriangleCount())
	}
}

func TestUnionWithFitting(t *testing.T) {
	k := New(40)
	a, _ := k.Cylinder(graph.Vec3{}, graph.Vec3{X: 50}, 5)
	b, _ := k.Cylinder(graph.Vec3{X: 50}, graph.Vec3{X: 50, Y: 50}, 5)
	s, err := k.Sphere(graph.Vec3{X: 50}, 6)
	if err != nil {
		t.Fatal(err)
	}
	u := k.Union(k.Union(a, b), s)
	min, max := u.BoundingBox()
	boundsNear(t, min, max, [3]float64{0, -6, -6}, [3]float64{56, 50, 6}, 0.5)
}
