package solver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/isopipe/pkg/graph"
)

// rightTriangle builds two construction legs a→p (X) and p→q (Z) closed
// by the center diagonal d between a and q. Nothing is measured yet.
func rightTriangle(t *testing.T) *recipe {
	r := newRecipe(t)
	r.node("a", 0, 0, 0)
	r.node("p", 40, 0, 0)
	r.node("q", 40, 0, 30)
	r.construction("c1", "a", "p", 0)
	r.construction("c2", "p", "q", 0)
	r.center("d", "a", "q", 0)
	return r
}

func TestHandleEdit_DerivesDiagonal(t *testing.T) {
	r := rightTriangle(t)
	c, _ := testContext(t, r.g)
	defer c.Attach()()

	userEdit(t, r.g, "c1", 40, 1)
	assert.False(t, r.g.Edge("d").HasLength(), "one leg is not enough")

	userEdit(t, r.g, "c2", 30, 2)
	d := r.g.Edge("d").Dim
	require.NotNil(t, d)
	assert.Equal(t, graph.SourceDerived, d.Source)
	assert.InDelta(t, 50, d.ValueMm, 1e-9)
	assert.Nil(t, d.Conflict)

	p, ok := c.MetricPos("q")
	require.True(t, ok)
	vecInDelta(t, graph.Vec3{X: 40, Z: 30}, p, 1e-9)
}

func TestHandleEdit_DiagonalResizesOldestLeg(t *testing.T) {
	r := rightTriangle(t)
	c, _ := testContext(t, r.g)
	defer c.Attach()()

	userEdit(t, r.g, "c1", 40, 1)
	userEdit(t, r.g, "c2", 30, 2)
	userEdit(t, r.g, "d", 60, 3)

	c1 := r.g.Edge("c1").Dim
	assert.Equal(t, graph.SourceDerived, c1.Source)
	assert.InDelta(t, math.Sqrt(2700), c1.ValueMm, 1e-6)

	c2 := r.g.Edge("c2").Dim
	assert.True(t, c2.IsUser())
	assert.Equal(t, 30.0, c2.ValueMm)

	d := r.g.Edge("d").Dim
	assert.True(t, d.IsUser())
	assert.Nil(t, d.Conflict)
}

func TestHandleEdit_InfeasibleDiagonal(t *testing.T) {
	r := rightTriangle(t)
	c, mem := testContext(t, r.g)
	defer c.Attach()()

	userEdit(t, r.g, "c1", 40, 1)
	userEdit(t, r.g, "c2", 30, 2)
	userEdit(t, r.g, "d", 20, 3)

	d := r.g.Edge("d").Dim
	assert.True(t, d.IsUser())
	assert.Equal(t, 20.0, d.ValueMm, "user values are never overwritten")
	require.NotNil(t, d.Conflict)
	assert.InDelta(t, 10, d.Conflict.DeltaMm, 1e-9)

	assert.Equal(t, graph.SourceDerived, r.g.Edge("c1").Dim.Source)
	assert.True(t, r.g.Edge("c2").Dim.IsUser())
	assert.NotEmpty(t, mem.Filter("reactive", "demoted"))
	assert.NotEmpty(t, mem.Filter("triangle", "infeasible"))
}

func TestHandleEdit_GuardStopsReentry(t *testing.T) {
	r := rightTriangle(t)
	c, _ := testContext(t, r.g)
	defer c.Attach()()

	var seen []graph.EdgeID
	var duringGuard int
	r.g.OnEdgeDimensionChanged(func(id graph.EdgeID) {
		seen = append(seen, id)
		if c.Suppressed() {
			duringGuard++
		}
	})

	userEdit(t, r.g, "c1", 40, 1)
	userEdit(t, r.g, "c2", 30, 2)

	assert.Contains(t, seen, graph.EdgeID("d"))
	assert.Positive(t, duringGuard, "derived writes are announced while the guard is up")
	assert.False(t, c.Suppressed())
}

func TestHandleEdit_IgnoresUnknownEdge(t *testing.T) {
	r := rightTriangle(t)
	c, mem := testContext(t, r.g)
	c.HandleEdit("nope")
	assert.Empty(t, mem.Records())
}

func TestReact_UserDiagonalDrivesLeg(t *testing.T) {
	r := newRecipe(t)
	r.node("a", 0, 0, 0)
	r.node("b", 100, 0, 0)
	r.construction("c1", "a", "b", 0)
	r.center("e1", "a", "b", 0)

	require.NoError(t, r.g.SetEdgeDimension("c1", graph.Dimension{ValueMm: 100, Source: graph.SourceUser, UserEditedAt: 1}, true))
	require.NoError(t, r.g.SetEdgeDimension("e1", graph.Dimension{ValueMm: 90, Source: graph.SourceUser, UserEditedAt: 2}, true))

	c, _ := testContext(t, r.g)
	c.React("e1")

	c1 := r.g.Edge("c1").Dim
	assert.Equal(t, graph.SourceDerived, c1.Source)
	assert.Equal(t, FromAutosolve, c1.DerivedFrom)
	assert.InDelta(t, 90, c1.ValueMm, 1e-9)
	assert.Nil(t, r.g.Edge("e1").Dim.Conflict)
}

func TestReact_ConflictWithoutConstruction(t *testing.T) {
	r := newRecipe(t)
	r.node("a", 0, 0, 0)
	r.node("b", 100, 0, 0)
	r.node("c", 100, 100, 0)
	r.center("e1", "a", "b", 0)
	r.center("e2", "b", "c", 0)
	r.center("e3", "a", "c", 0)

	set := func(id string, mm float64, stamp int64) {
		require.NoError(t, r.g.SetEdgeDimension(graph.EdgeID(id),
			graph.Dimension{ValueMm: mm, Source: graph.SourceUser, UserEditedAt: stamp}, true))
	}
	set("e1", 100, 1)
	set("e2", 100, 2)
	set("e3", 50, 3)

	// e1 and e3 place b and c; the loop closes on e2.
	c, mem := testContext(t, r.g)
	c.React("e1")
	placedC := graph.Vec3{X: 25 * math.Sqrt2, Y: 25 * math.Sqrt2}
	e2 := r.g.Edge("e2").Dim
	require.NotNil(t, e2.Conflict)
	assert.InDelta(t, 100-placedC.Dist(graph.Vec3{X: 100}), e2.Conflict.DeltaMm, 1e-9)
	assert.Equal(t, 100.0, e2.ValueMm)
	assert.Nil(t, r.g.Edge("e3").Dim.Conflict)
	assert.Len(t, mem.Filter("reactive", "conflict"), 1)

	set("e3", 100*math.Sqrt2, 4)
	c.React("e1")
	assert.Nil(t, r.g.Edge("e2").Dim.Conflict)
	assert.Len(t, mem.Filter("reactive", "conflict_cleared"), 1)
}

func TestByRecency(t *testing.T) {
	in := []ranked{
		{id: "b", stamp: 1},
		{id: "a", stamp: math.Inf(-1)},
		{id: "c", stamp: 5},
		{id: "a2", stamp: 1},
	}
	byRecency(in)
	var ids []graph.EdgeID
	for _, r := range in {
		ids = append(ids, r.id)
	}
	assert.Equal(t, []graph.EdgeID{"c", "a2", "b", "a"}, ids)
}
