package solver

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/isopipe/pkg/graph"
)

var lockX = graph.AxisLock{Axis: graph.AxisX}

func TestCheckSolvable_Regression(t *testing.T) {
	g := loadFixture(t, "regression.json")
	res := CheckSolvable(g)
	assert.True(t, res.OK, "reason=%s details=%v", res.Reason, res.Details)
	assert.Nil(t, res.Details)
}

func TestCheckSolvable_Reasons(t *testing.T) {
	tests := []struct {
		name  string
		build func(r *recipe)
		want  Reason
	}{
		{"no anchor", func(r *recipe) {
			r.node("a", 0, 0, 0)
			r.node("b", 100, 0, 0)
			r.center("e1", "a", "b", 100, lockX)
		}, ReasonAnchorCount},
		{"two anchors", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.anchor("b", 100, 0, 0)
			r.center("e1", "a", "b", 100, lockX)
		}, ReasonAnchorCount},
		{"no axis lock at anchor", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 100, 0, 0)
			r.center("e1", "a", "b", 100)
		}, ReasonNoAbsoluteReference},
		{"isolated node", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 100, 0, 0)
			r.node("lone", 0, 50, 0)
			r.center("e1", "a", "b", 100, lockX)
		}, ReasonDisconnected},
		{"negative length", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 100, 0, 0)
			r.center("e1", "a", "b", -5, lockX)
		}, ReasonDimensionMissing},
		{"nan length", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 100, 0, 0)
			r.center("e1", "a", "b", math.NaN(), lockX)
		}, ReasonDimensionMissing},
		{"unmeasured leaf", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 100, 0, 0)
			r.center("e1", "a", "b", 0, lockX)
		}, ReasonDimensionMissing},
		{"perp without plane", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 100, 0, 0)
			r.node("c", 100, 0, 50)
			r.center("e1", "a", "b", 100, lockX)
			r.center("e2", "b", "c", 50, graph.PerpTo{Ref: "e1"})
		}, ReasonAmbiguousLocation},
		{"missing reference", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 100, 0, 0)
			r.node("c", 100, 0, 50)
			r.center("e1", "a", "b", 100, lockX)
			r.center("e2", "b", "c", 50, graph.ParallelTo{Ref: "ghost"})
		}, ReasonInsufficient},
		{"unconstrained center edge", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 100, 0, 0)
			r.node("c", 100, 0, 50)
			r.center("e1", "a", "b", 100, lockX)
			r.center("e2", "b", "c", 50)
		}, ReasonInsufficient},
		{"triangle inequality", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 10, 0, 0)
			c := r.node("c", 5, 0, 5)
			c.Meta.TeePlane = graph.ByNormal{N: graph.Vec3{Y: 1}}
			r.center("e1", "a", "b", 10, lockX)
			r.center("e2", "b", "c", 10)
			r.center("e3", "a", "c", 25)
		}, ReasonDimensionConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRecipe(t)
			tt.build(r)
			res := CheckSolvable(r.g)
			require.False(t, res.OK)
			assert.Equal(t, tt.want, res.Reason, "details=%v", res.Details)
		})
	}
}

func TestCheckSolvable_AnchorCountDetails(t *testing.T) {
	r := newRecipe(t)
	r.node("a", 0, 0, 0)
	res := CheckSolvable(r.g)
	assert.Equal(t, ReasonAnchorCount, res.Reason)
	assert.Equal(t, 0, res.Details["count"])
}

func TestCheckSolvable_PlaceableAlternatives(t *testing.T) {
	tests := []struct {
		name  string
		build func(r *recipe)
	}{
		{"construction leg", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 100, 0, 0)
			r.node("c", 100, 0, 40)
			r.center("e1", "a", "b", 100, lockX)
			r.construction("c1", "b", "c", 40)
		}},
		{"triangulation", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 50, 0, 0)
			c := r.node("c", 18, 0, -24)
			c.Meta.TeePlane = graph.ByNormal{N: graph.Vec3{Y: 1}}
			r.center("e1", "a", "b", 50, lockX)
			r.center("e2", "a", "c", 30)
			r.center("e3", "b", "c", 40)
		}},
		{"tee branch", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			r.node("b", 100, 0, 0)
			s := r.node("s", 50, 0, 0)
			s.Meta.OnSegment = &graph.Segment{A: "a", B: "b"}
			r.node("t", 50, 0, 40)
			r.center("e1", "a", "b", 100, lockX)
			r.center("e2", "a", "s", 50)
			r.center("e3", "s", "b", 0)
			r.center("e4", "s", "t", 40)
		}},
		{"straight run", func(r *recipe) {
			r.anchor("a", 0, 0, 0)
			m := r.node("m", 80, 0, 0)
			m.Meta.Topo = graph.TopoStraight
			r.node("b", 200, 0, 0)
			r.construction("c1", "a", "b", 200, lockX)
			r.center("e1", "a", "m", 80)
			r.center("e2", "m", "b", 0)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRecipe(t)
			tt.build(r)
			res := CheckSolvable(r.g)
			assert.True(t, res.OK, "reason=%s details=%v", res.Reason, res.Details)
		})
	}
}

func TestCheckSolvable_IsPure(t *testing.T) {
	g := loadFixture(t, "regression.json")
	before := g.Clone()
	first := CheckSolvable(g)
	second := CheckSolvable(g)
	assert.Equal(t, first, second)
	for _, e := range before.Edges() {
		assert.Equal(t, e.Dim, g.Edge(e.ID).Dim)
	}
}

func TestCheckSolvable_EmitsRecord(t *testing.T) {
	r := newRecipe(t)
	r.node("a", 0, 0, 0)
	c, mem := testContext(t, r.g)
	c.CheckSolvable()
	recs := mem.Filter("check", "fail")
	require.Len(t, recs, 1)
	assert.Equal(t, "run-test", recs[0].RunID)
	assert.Equal(t, string(ReasonAnchorCount), recs[0].Msg)
}
