package solver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chazu/isopipe/pkg/graph"
	"github.com/chazu/isopipe/pkg/trace"
)

// recipe is a small builder for test graphs.
type recipe struct {
	t *testing.T
	g *graph.Graph
}

func newRecipe(t *testing.T) *recipe {
	t.Helper()
	return &recipe{t: t, g: graph.New()}
}

func (r *recipe) node(id string, x, y, z float64) *graph.Node {
	r.t.Helper()
	n := &graph.Node{ID: graph.NodeID(id), Base: graph.Vec3{X: x, Y: y, Z: z}}
	require.NoError(r.t, r.g.AddNode(n))
	return n
}

func (r *recipe) anchor(id string, x, y, z float64) *graph.Node {
	n := r.node(id, x, y, z)
	n.Meta.IsAnchor = true
	return n
}

func (r *recipe) edge(id, a, b string, kind graph.EdgeKind, mm float64, cs ...graph.Constraint) *graph.Edge {
	r.t.Helper()
	e := &graph.Edge{
		ID:   graph.EdgeID(id),
		A:    graph.NodeID(a),
		B:    graph.NodeID(b),
		Kind: kind,
		Meta: graph.EdgeMeta{Constraints: cs},
	}
	if mm != 0 {
		e.Dim = &graph.Dimension{ValueMm: mm, Mode: graph.DefaultMode}
	}
	require.NoError(r.t, r.g.AddEdge(e))
	return e
}

func (r *recipe) center(id, a, b string, mm float64, cs ...graph.Constraint) *graph.Edge {
	return r.edge(id, a, b, graph.KindCenter, mm, cs...)
}

func (r *recipe) construction(id, a, b string, mm float64, cs ...graph.Constraint) *graph.Edge {
	return r.edge(id, a, b, graph.KindConstruction, mm, cs...)
}

// loadFixture builds a graph from pkg/graph/testdata.
func loadFixture(t *testing.T, name string) *graph.Graph {
	t.Helper()
	f, err := graph.LoadFixture(filepath.Join("..", "graph", "testdata", name))
	require.NoError(t, err)
	g, err := f.Build()
	require.NoError(t, err)
	return g
}

// testContext returns a Context with a memory sink, fixed run ids and a
// clock that counts up from 1000.
func testContext(t *testing.T, g *graph.Graph) (*Context, *trace.Memory) {
	t.Helper()
	mem := &trace.Memory{}
	clock := int64(1000)
	c := NewContext(context.Background(), g,
		WithSink(mem),
		WithRunIDs(func() string { return "run-test" }),
		WithClock(func() int64 { clock++; return clock }),
	)
	return c, mem
}

// userEdit performs an operator edit: a non-silent user write.
func userEdit(t *testing.T, g *graph.Graph, id string, mm float64, stamp int64) {
	t.Helper()
	require.NoError(t, g.SetEdgeDimension(graph.EdgeID(id), graph.Dimension{
		ValueMm:      mm,
		Source:       graph.SourceUser,
		UserEditedAt: stamp,
	}, false))
}

func vecInDelta(t *testing.T, want, got graph.Vec3, delta float64) {
	t.Helper()
	if want.Dist(got) > delta {
		t.Errorf("position = %v, want %v (±%g)", got, want, delta)
	}
}
