package solver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/isopipe/pkg/graph"
)

const posTol = 1e-6

func TestSolve_Regression(t *testing.T) {
	g := loadFixture(t, "regression.json")
	emb, ok := Solve(g)
	require.True(t, ok)

	s := math.Sqrt2 / 2
	want := map[graph.NodeID]graph.Vec3{
		"n1": {},
		"n2": {Y: 100},
		"n3": {X: 100, Y: 100},
		"n4": {X: 100, Y: 100, Z: 100},
		"n6": {X: 50 * s, Y: 100, Z: 50 * s},
	}
	for id, w := range want {
		p, ok := emb.Pos(id)
		require.True(t, ok, id)
		vecInDelta(t, w, p, posTol)
	}

	assert.Equal(t, graph.NodeID("n1"), emb.Order[0])
	assert.Equal(t, MethodAnchor, emb.Method["n1"])
	assert.Equal(t, MethodOnSegment, emb.Method["n6"])

	require.Contains(t, emb.Derived, graph.EdgeID("e5"))
	assert.InDelta(t, 100*math.Sqrt2-50, emb.Derived["e5"], posTol)
	assert.Len(t, emb.Derived, 1, "measured edges get no derived length")
}

func TestSolve_DoesNotMutate(t *testing.T) {
	g := loadFixture(t, "regression.json")
	_, ok := Solve(g)
	require.True(t, ok)
	assert.Nil(t, g.Edge("e5").Dim.Conflict)
	assert.False(t, g.Edge("e5").HasLength())
}

func TestSolve_Directions(t *testing.T) {
	yPlane := graph.ByNormal{N: graph.Vec3{Y: 1}}
	tests := []struct {
		name  string
		build func(r *recipe)
		node  graph.NodeID
		want  graph.Vec3
		how   string
	}{
		{"perpendicular in plane", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 100, 0, 0)
			r.node("c", 100, 0, 50)
			r.center("e1", "a", "b", 100, lockX)
			r.center("e2", "b", "c", 50, graph.PerpTo{Ref: "e1"}, graph.Coplanar{Plane: yPlane})
		}, "c", graph.Vec3{X: 100, Z: 50}, MethodDirect},
		{"perpendicular edge stored reversed", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 100, 0, 0)
			r.node("c", 100, 0, 50)
			r.center("e1", "a", "b", 100, lockX)
			r.center("e2", "c", "b", 50, graph.PerpTo{Ref: "e1"}, graph.Coplanar{Plane: yPlane})
		}, "c", graph.Vec3{X: 100, Z: 50}, MethodDirect},
		{"angle to reference", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 100, 0, 0)
			r.node("d", 170, 0, 70)
			r.center("e1", "a", "b", 100, lockX)
			r.center("e2", "b", "d", 100, graph.AngleTo{Ref: "e1", Deg: -45}, graph.Coplanar{Plane: yPlane})
		}, "d", graph.Vec3{X: 100 + 50*math.Sqrt2, Z: 50 * math.Sqrt2}, MethodDirect},
		{"parallel follows hint sign", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 100, 0, 0)
			r.node("c", 40, 0, 0)
			r.center("e1", "a", "b", 100, lockX)
			r.center("e2", "b", "c", 60, graph.ParallelTo{Ref: "e1"})
		}, "c", graph.Vec3{X: 40}, MethodDirect},
		{"triangulation", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 50, 0, 0)
			c := r.node("c", 10, 0, -20)
			c.Meta.TeePlane = yPlane
			r.center("e1", "a", "b", 50, lockX)
			r.center("e2", "a", "c", 30)
			r.center("e3", "b", "c", 40)
		}, "c", graph.Vec3{X: 18, Z: -24}, MethodTriangulate},
		{"tee branch follows hint", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 100, 0, 0)
			s := r.node("s", 50, 0, 0)
			s.Meta.OnSegment = &graph.Segment{A: "a", B: "b"}
			r.node("t", 50, 0, 40)
			r.center("e1", "a", "b", 100, lockX)
			r.center("e2", "a", "s", 50)
			r.center("e3", "s", "b", 0)
			r.center("e4", "s", "t", 40)
		}, "t", graph.Vec3{X: 50, Z: 40}, MethodDirect},
		{"tee branch bound by tee plane", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 100, 0, 0)
			s := r.node("s", 50, 0, 0)
			s.Meta.OnSegment = &graph.Segment{A: "a", B: "b"}
			s.Meta.TeePlane = graph.ByNormal{N: graph.Vec3{Z: 1}}
			r.node("t", 50, 0, 40)
			r.center("e1", "a", "b", 100, lockX)
			r.center("e2", "a", "s", 50)
			r.center("e3", "s", "b", 0)
			r.center("e4", "t", "s", 40)
		}, "t", graph.Vec3{X: 50, Y: 40}, MethodDirect},
		{"straight run", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			m := r.node("m", 75, 0, 0)
			m.Meta.Topo = graph.TopoStraight
			r.node("b", 200, 0, 0)
			r.construction("c1", "a", "b", 200, lockX)
			r.center("e1", "a", "m", 80)
			r.center("e2", "m", "b", 0)
		}, "m", graph.Vec3{X: 80}, MethodStraight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRecipe(t)
			tt.build(r)
			emb, ok := Solve(r.g)
			require.True(t, ok, "check=%+v", CheckSolvable(r.g))
			p, ok := emb.Pos(tt.node)
			require.True(t, ok)
			vecInDelta(t, tt.want, p, posTol)
			assert.Equal(t, tt.how, emb.Method[tt.node])
		})
	}
}

func TestSolve_Unsolvable(t *testing.T) {
	r := newRecipe(t)
	r.node("a", 0, 0, 0)
	c, mem := testContext(t, r.g)
	emb, ok := c.Solve()
	assert.False(t, ok)
	assert.Nil(t, emb)
	assert.Len(t, mem.Filter("calc", "unsolvable"), 1)
}

func TestSolve_Unplaced(t *testing.T) {
	r := newRecipe(t)
	r.anchor("a", 0, 0, 0)
	r.node("b", 100, 0, 0)
	c := r.node("c", 0, 20, 20)
	c.Meta.TeePlane = graph.ByNormal{N: graph.Vec3{X: 1}}
	r.center("e1", "a", "b", 100, lockX)
	r.center("e2", "a", "c", 30)
	r.center("e3", "b", "c", 80)

	require.True(t, CheckSolvable(r.g).OK)

	ctx, mem := testContext(t, r.g)
	emb, ok := ctx.Solve()
	assert.False(t, ok)
	assert.Nil(t, emb)
	recs := mem.Filter("calc", "unplaced")
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"c"}, recs[0].Attrs["nodes"])
}

func TestApplyEmbedding(t *testing.T) {
	g := loadFixture(t, "regression.json")
	require.NoError(t, g.AddEdge(&graph.Edge{
		ID: "e7", A: "n1", B: "n3", Kind: graph.KindCenter,
		Dim: &graph.Dimension{ValueMm: 150, Source: graph.SourceUser, UserEditedAt: 5},
	}))

	c, mem := testContext(t, g)
	calls := 0
	g.OnEdgeDimensionChanged(func(graph.EdgeID) { calls++ })

	emb, ok := c.Solve()
	require.True(t, ok)
	c.ApplyEmbedding(emb)

	e5 := g.Edge("e5").Dim
	require.NotNil(t, e5)
	assert.Equal(t, graph.SourceDerived, e5.Source)
	assert.Equal(t, "solve", e5.DerivedFrom)
	assert.InDelta(t, 100*math.Sqrt2-50, e5.ValueMm, posTol)

	e7 := g.Edge("e7").Dim
	require.NotNil(t, e7.Conflict)
	assert.InDelta(t, 150-100*math.Sqrt2, e7.Conflict.DeltaMm, posTol)
	assert.Equal(t, graph.SourceUser, e7.Source, "conflicts never overwrite user values")
	assert.Equal(t, 150.0, e7.ValueMm)

	assert.Nil(t, g.Edge("e1").Dim.Conflict)
	assert.Zero(t, calls, "embedding writes are silent")
	assert.Len(t, mem.Filter("calc", "conflict"), 1)
}

func TestApplyEmbedding_ClearsStaleConflict(t *testing.T) {
	g := loadFixture(t, "regression.json")
	d := *g.Edge("e1").Dim
	d.Conflict = &graph.Conflict{DeltaMm: 3}
	require.NoError(t, g.SetEdgeDimension("e1", d, true))

	c := NewContext(nil, g)
	emb, ok := c.Solve()
	require.True(t, ok)
	c.ApplyEmbedding(emb)
	assert.Nil(t, g.Edge("e1").Dim.Conflict)
}
